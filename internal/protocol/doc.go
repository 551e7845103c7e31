// Package protocol implements the speech service wire messages.
// It handles header/body framing for both websocket text frames and the
// length-prefixed binary frames used to carry audio, plus the well-known
// header names and service paths the session engine dispatches on.
package protocol
