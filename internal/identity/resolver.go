// ABOUTME: Identity resolution for incoming connections
// ABOUTME: Resolves connection credentials to a user ID via an external service or local JWT

package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoIdentity is returned when the credentials cannot be resolved to a user.
// Every resolution failure collapses to this error so the caller closes the
// connection the same way regardless of cause.
var ErrNoIdentity = errors.New("no identity for credentials")

// Credentials carries the connection headers used for identity resolution
type Credentials struct {
	Token     string `json:"token,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
	ClientKey string `json:"client_key,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
}

// Resolver resolves connection credentials to a user ID
type Resolver interface {
	Resolve(ctx context.Context, creds Credentials) (userID string, err error)
}

// HTTPResolver resolves identities by POSTing credentials to an external
// identity service. The service responds with {"user_id": "..."}.
type HTTPResolver struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPResolver creates a resolver calling the given identity service URL
func NewHTTPResolver(url string, timeout time.Duration) *HTTPResolver {
	return &HTTPResolver{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: slog.Default().With("component", "identity"),
	}
}

// resolveResponse is the identity service's response body
type resolveResponse struct {
	UserID string `json:"user_id"`
}

// Resolve POSTs the credentials to the identity service and returns the
// resolved user ID. Transport errors, non-2xx statuses, malformed bodies,
// and a missing user_id all return ErrNoIdentity.
func (r *HTTPResolver) Resolve(ctx context.Context, creds Credentials) (string, error) {
	body, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("%w: encoding credentials: %v", ErrNoIdentity, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: building request: %v", ErrNoIdentity, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("identity service unreachable", "error", err)
		return "", fmt.Errorf("%w: %v", ErrNoIdentity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Warn("identity service rejected credentials", "status", resp.StatusCode)
		return "", fmt.Errorf("%w: status %d", ErrNoIdentity, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrNoIdentity, err)
	}

	var parsed resolveResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		r.logger.Warn("identity service returned malformed body", "error", err)
		return "", fmt.Errorf("%w: malformed response: %v", ErrNoIdentity, err)
	}

	if parsed.UserID == "" {
		return "", fmt.Errorf("%w: response missing user_id", ErrNoIdentity)
	}

	return parsed.UserID, nil
}

// JWTResolver resolves identities locally by verifying the bearer token as
// an HS256 JWT and taking the "sub" claim as the user ID. Used when no
// identity service URL is configured.
type JWTResolver struct {
	secret []byte
}

// NewJWTResolver creates a resolver verifying tokens with the given secret
func NewJWTResolver(secret []byte) *JWTResolver {
	return &JWTResolver{secret: secret}
}

// Resolve verifies the bearer token and returns its subject.
// Any verification failure returns ErrNoIdentity.
func (r *JWTResolver) Resolve(ctx context.Context, creds Credentials) (string, error) {
	if creds.Token == "" {
		return "", fmt.Errorf("%w: no bearer token", ErrNoIdentity)
	}

	token, err := jwt.Parse(creds.Token, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoIdentity, err)
	}

	if !token.Valid {
		return "", ErrNoIdentity
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrNoIdentity
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: missing sub claim", ErrNoIdentity)
	}

	return sub, nil
}
