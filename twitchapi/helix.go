// Package twitchapi contains minimal helpers for the Twitch identity service
// (token validation, OAuth grants) and the Helix users endpoint used to turn a
// channel login into its broadcaster id.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/onnwee/kissbot/telemetry"
)

const (
	DefaultIDBaseURL    = "https://id.twitch.tv"
	DefaultHelixBaseURL = "https://api.twitch.tv"
)

var (
	// ErrUnauthorized is returned when Twitch rejects a token (invalid or expired).
	ErrUnauthorized = errors.New("twitch: token rejected")
	// ErrUserNotFound is returned when a login does not resolve to a user.
	ErrUserNotFound = errors.New("twitch: user not found")
)

// Client performs single-round-trip calls against the Twitch identity and
// Helix APIs. Timeouts and cancellation come from the caller's context and
// HTTPClient. Base URLs are overridable for tests.
type Client struct {
	ClientID     string
	HTTPClient   *http.Client
	IDBaseURL    string
	HelixBaseURL string
}

// Validation is the payload of GET /oauth2/validate.
type Validation struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	Scopes    []string `json:"scopes"`
	UserID    string   `json:"user_id"`
	ExpiresIn int      `json:"expires_in"`
}

// User is the subset of a Helix user record the bot needs.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) idBase() string {
	if c.IDBaseURL != "" {
		return strings.TrimRight(c.IDBaseURL, "/")
	}
	return DefaultIDBaseURL
}

func (c *Client) helixBase() string {
	if c.HelixBaseURL != "" {
		return strings.TrimRight(c.HelixBaseURL, "/")
	}
	return DefaultHelixBaseURL
}

// CleanToken strips the IRC-style "oauth:" prefix from a token.
func CleanToken(token string) string {
	return strings.TrimPrefix(strings.TrimSpace(token), "oauth:")
}

// MaskToken returns a log-safe form of a token showing only its tail.
func MaskToken(token string) string {
	token = CleanToken(token)
	if len(token) <= 6 {
		return "***"
	}
	return "***" + token[len(token)-6:]
}

// ValidateToken calls /oauth2/validate for a user access token.
// A 401 yields ErrUnauthorized.
func (c *Client) ValidateToken(ctx context.Context, token string) (*Validation, error) {
	token = CleanToken(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	ctx, span := telemetry.StartSpan(ctx, "twitchapi", "oauth2.validate")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.idBase()+"/oauth2/validate", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+token)
	if c.ClientID != "" {
		req.Header.Set("Client-Id", c.ClientID)
	}
	resp, err := c.http().Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode == http.StatusUnauthorized {
		err := fmt.Errorf("%w: %s", ErrUnauthorized, readError(resp))
		telemetry.RecordError(span, err)
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("twitch validate failed: %s: %s", resp.Status, readError(resp))
		telemetry.RecordError(span, err)
		return nil, err
	}
	var v Validation
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		err = fmt.Errorf("decode validate response: %w", err)
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetSpanSuccess(span)
	return &v, nil
}

// GetUser resolves a login name to its Helix user record using a bearer token.
// An empty clientID falls back to c.ClientID.
func (c *Client) GetUser(ctx context.Context, clientID, token, login string) (*User, error) {
	if clientID == "" {
		clientID = c.ClientID
	}
	login = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(login), "#"))
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	ctx, span := telemetry.StartSpan(ctx, "twitchapi", "helix.users")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.helixBase()+"/helix/users", nil)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("login", login)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", clientID)
	req.Header.Set("Authorization", "Bearer "+CleanToken(token))
	resp, err := c.http().Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode == http.StatusUnauthorized {
		err := fmt.Errorf("%w: %s", ErrUnauthorized, readError(resp))
		telemetry.RecordError(span, err)
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("twitch users lookup failed: %s: %s", resp.Status, readError(resp))
		telemetry.RecordError(span, err)
		return nil, err
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		err = fmt.Errorf("decode users response: %w", err)
		telemetry.RecordError(span, err)
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, login)
	}
	telemetry.SetSpanSuccess(span)
	u := body.Data[0]
	return &u, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}

func readError(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return strings.TrimSpace(string(b))
}
