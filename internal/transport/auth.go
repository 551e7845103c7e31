package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// HeaderSubscriptionKey carries a resource key
	HeaderSubscriptionKey = "Ocp-Apim-Subscription-Key"

	// HeaderAuthorization carries a bearer token
	HeaderAuthorization = "Authorization"
)

// ErrNoCredentials is returned when an authenticator has nothing to offer
var ErrNoCredentials = errors.New("no credentials configured")

// AuthInfo is one auth header applied to a connection
type AuthInfo struct {
	HeaderName string
	Token      string
}

// Authenticator supplies the auth header for a connection attempt.
// FetchOnExpiry is used when the previous credentials were rejected.
type Authenticator interface {
	Fetch(ctx context.Context, authFetchEventID string) (AuthInfo, error)
	FetchOnExpiry(ctx context.Context, authFetchEventID string) (AuthInfo, error)
}

// SubscriptionKeyAuth authenticates with a static resource key
type SubscriptionKeyAuth struct {
	Key string
}

func (a SubscriptionKeyAuth) Fetch(ctx context.Context, _ string) (AuthInfo, error) {
	if a.Key == "" {
		return AuthInfo{}, ErrNoCredentials
	}
	return AuthInfo{HeaderName: HeaderSubscriptionKey, Token: a.Key}, nil
}

func (a SubscriptionKeyAuth) FetchOnExpiry(ctx context.Context, id string) (AuthInfo, error) {
	return a.Fetch(ctx, id)
}

// TokenRefresher returns a fresh authorization token
type TokenRefresher func(ctx context.Context) (string, error)

// TokenAuth authenticates with a bearer token, refreshing it on expiry when
// a refresher is set
type TokenAuth struct {
	mu      sync.Mutex
	token   string
	refresh TokenRefresher
}

// NewTokenAuth creates a token authenticator. refresh may be nil.
func NewTokenAuth(token string, refresh TokenRefresher) *TokenAuth {
	return &TokenAuth{token: token, refresh: refresh}
}

func (a *TokenAuth) Fetch(ctx context.Context, _ string) (AuthInfo, error) {
	a.mu.Lock()
	token := a.token
	a.mu.Unlock()

	if token == "" {
		return a.FetchOnExpiry(ctx, "")
	}
	return bearer(token), nil
}

func (a *TokenAuth) FetchOnExpiry(ctx context.Context, _ string) (AuthInfo, error) {
	if a.refresh == nil {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.token == "" {
			return AuthInfo{}, ErrNoCredentials
		}
		return bearer(a.token), nil
	}

	token, err := a.refresh(ctx)
	if err != nil {
		return AuthInfo{}, fmt.Errorf("refresh token: %w", err)
	}
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
	return bearer(token), nil
}

func bearer(token string) AuthInfo {
	return AuthInfo{HeaderName: HeaderAuthorization, Token: "Bearer " + token}
}

// IssueTokenRefresher exchanges a resource key for a short-lived token at
// the service's token endpoint
func IssueTokenRefresher(client *http.Client, endpoint, key string) TokenRefresher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set(HeaderSubscriptionKey, key)

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return "", fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return strings.TrimSpace(string(body)), nil
	}
}
