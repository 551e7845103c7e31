package recognizer

import (
	"errors"
	"fmt"
	"net/http"
)

// CancellationReason says why a recognition was canceled
type CancellationReason int

const (
	ReasonError CancellationReason = iota + 1
	ReasonEndOfStream
)

// String returns a human-readable reason
func (r CancellationReason) String() string {
	switch r {
	case ReasonError:
		return "Error"
	case ReasonEndOfStream:
		return "EndOfStream"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}

// CancellationErrorCode classifies a cancellation with ReasonError
type CancellationErrorCode int

const (
	NoError CancellationErrorCode = iota
	AuthenticationFailure
	BadRequestParameters
	TooManyRequests
	Forbidden
	ConnectionFailure
	ServiceTimeout
	ServiceError
	RuntimeError
)

var errorCodeNames = map[CancellationErrorCode]string{
	NoError:               "NoError",
	AuthenticationFailure: "AuthenticationFailure",
	BadRequestParameters:  "BadRequestParameters",
	TooManyRequests:       "TooManyRequests",
	Forbidden:             "Forbidden",
	ConnectionFailure:     "ConnectionFailure",
	ServiceTimeout:        "ServiceTimeout",
	ServiceError:          "ServiceError",
	RuntimeError:          "RuntimeError",
}

// String returns the code name
func (c CancellationErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", int(c))
}

// cancellationDetails are the fixed detail strings per code
var cancellationDetails = map[CancellationErrorCode]string{
	NoError:               "",
	AuthenticationFailure: "Authentication failed.",
	BadRequestParameters:  "Invalid parameter or unsupported audio format in the request.",
	TooManyRequests:       "The number of parallel requests exceeded the number of allowed concurrent transcriptions.",
	Forbidden:             "The recognizer is using a free subscription that ran out of quota.",
	ConnectionFailure:     "Unable to contact server.",
	ServiceTimeout:        "Service did not respond in time.",
	ServiceError:          "The speech service encountered an internal error and could not continue.",
	RuntimeError:          "Unexpected runtime error.",
}

// Detail returns the fixed detail string for code
func Detail(code CancellationErrorCode) string {
	return cancellationDetails[code]
}

// CancellationError is a terminal recognition failure
type CancellationError struct {
	Reason CancellationReason
	Code   CancellationErrorCode
	Detail string
	Err    error
}

// NewCancellation builds a ReasonError cancellation. extra is appended to
// the fixed detail string when non-empty.
func NewCancellation(code CancellationErrorCode, extra string, err error) *CancellationError {
	detail := Detail(code)
	if extra != "" {
		if detail != "" {
			detail += " "
		}
		detail += extra
	}
	return &CancellationError{Reason: ReasonError, Code: code, Detail: detail, Err: err}
}

func (e *CancellationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("recognition canceled: %s (%s)", e.Reason, e.Code)
	}
	return fmt.Sprintf("recognition canceled: %s (%s): %s", e.Reason, e.Code, e.Detail)
}

func (e *CancellationError) Unwrap() error {
	return e.Err
}

// AsCancellation extracts a *CancellationError from err
func AsCancellation(err error) (*CancellationError, bool) {
	var cerr *CancellationError
	if errors.As(err, &cerr) {
		return cerr, true
	}
	return nil, false
}

// CodeForStatus maps a handshake status to a cancellation code. Statuses not
// listed are connection failures and may be retried.
func CodeForStatus(status int) CancellationErrorCode {
	switch status {
	case http.StatusUnauthorized:
		return AuthenticationFailure
	case http.StatusForbidden:
		return Forbidden
	case http.StatusBadRequest:
		return BadRequestParameters
	case http.StatusTooManyRequests:
		return TooManyRequests
	default:
		return ConnectionFailure
	}
}

// retryableStatus reports whether a rejected handshake is worth retrying
func retryableStatus(status int) bool {
	return CodeForStatus(status) == ConnectionFailure
}

// CodeForRecognitionStatus maps a phrase status that cancels recognition
func CodeForRecognitionStatus(status RecognitionStatus) (CancellationErrorCode, bool) {
	switch status {
	case StatusError:
		return ServiceError, true
	case StatusTooManyRequests:
		return TooManyRequests, true
	case StatusBadRequest:
		return BadRequestParameters, true
	case StatusForbidden:
		return Forbidden, true
	default:
		return NoError, false
	}
}
