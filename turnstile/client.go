package turnstile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultEndpoint = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

var (
	// ErrMissingSecret signals the verifier is not configured with a shared
	// secret.
	ErrMissingSecret = errors.New("turnstile: secret key not configured")
	// ErrMissingToken signals the client supplied no verification token.
	ErrMissingToken = errors.New("turnstile: verification token required")
)

// VerificationError carries the downstream error codes so they can be shown
// to the submitting user.
type VerificationError struct {
	Codes []string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("turnstile: verification failed: %s", strings.Join(e.Codes, ", "))
}

// Verifier checks a client-supplied verification token.
type Verifier interface {
	Verify(ctx context.Context, token string) error
}

// Client verifies tokens against the siteverify endpoint using the shared
// secret.
type Client struct {
	secret   string
	endpoint string
	client   *http.Client
}

// NewClient builds a verifier with the given shared secret.
func NewClient(secret string) *Client {
	return &Client{
		secret:   strings.TrimSpace(secret),
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type verifyResponse struct {
	Success     bool     `json:"success"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
	ErrorCodes  []string `json:"error-codes"`
}

// Verify posts the token with the shared secret and returns nil on success, a
// *VerificationError when the token is rejected, or a transport error.
func (c *Client) Verify(ctx context.Context, token string) error {
	if c.secret == "" {
		return ErrMissingSecret
	}
	if token == "" {
		return ErrMissingToken
	}

	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("turnstile: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("turnstile: call siteverify: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("turnstile: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("turnstile: siteverify returned %d", resp.StatusCode)
	}

	var decoded verifyResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("turnstile: decode response: %w", err)
	}
	if !decoded.Success {
		return &VerificationError{Codes: decoded.ErrorCodes}
	}
	return nil
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, token string) error

func (f VerifierFunc) Verify(ctx context.Context, token string) error {
	return f(ctx, token)
}
