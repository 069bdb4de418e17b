package dropbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrAuthFailed means the refresh exchange was rejected (invalid or revoked
// refresh token). This is fatal for the session: no further remote calls can
// succeed until the user re-links the app.
var ErrAuthFailed = errors.New("dropbox authorization rejected")

// expiryMargin is the minimum remaining token lifetime an accessor call may
// return; anything closer to expiry triggers a refresh first.
const expiryMargin = 5 * time.Minute

// TokenSource owns the bearer credential for the Dropbox API. The credential
// never leaves the accessor: callers get the raw access token string, not the
// expiry bookkeeping around it.
type TokenSource struct {
	httpClient   *http.Client
	appKey       string
	appSecret    string
	refreshToken string

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
	inflight    chan struct{} // non-nil while a refresh exchange is running
	refreshErr  error         // outcome of the last completed refresh
}

// NewTokenSource creates a token source for the given app credentials.
// A nil httpClient falls back to a 30-second-timeout default.
func NewTokenSource(appKey, appSecret, refreshToken string, httpClient *http.Client) *TokenSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenSource{
		httpClient:   httpClient,
		appKey:       strings.TrimSpace(appKey),
		appSecret:    strings.TrimSpace(appSecret),
		refreshToken: strings.TrimSpace(refreshToken),
	}
}

// AccessToken returns a bearer token with at least expiryMargin of lifetime
// left, refreshing first when the cached one is missing or near expiry.
// Refresh is single-flight: concurrent callers during a refresh await the
// same exchange outcome instead of issuing duplicate exchanges.
func (ts *TokenSource) AccessToken(ctx context.Context) (string, error) {
	ts.mu.Lock()

	if ts.accessToken != "" && time.Until(ts.expiresAt) >= expiryMargin {
		token := ts.accessToken
		ts.mu.Unlock()
		return token, nil
	}

	if ts.inflight != nil {
		done := ts.inflight
		ts.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return "", ctx.Err()
		}

		ts.mu.Lock()
		token, err := ts.accessToken, ts.refreshErr
		ts.mu.Unlock()
		if err != nil {
			return "", err
		}
		return token, nil
	}

	done := make(chan struct{})
	ts.inflight = done
	ts.mu.Unlock()

	token, lifetime, err := ts.refresh(ctx)

	ts.mu.Lock()
	ts.refreshErr = err
	if err == nil {
		ts.accessToken = token
		ts.expiresAt = time.Now().Add(lifetime)
	}
	ts.inflight = nil
	ts.mu.Unlock()
	close(done)

	if err != nil {
		return "", err
	}
	return token, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// refresh performs the refresh-token exchange against /oauth2/token.
func (ts *TokenSource) refresh(ctx context.Context) (string, time.Duration, error) {
	if ts.refreshToken == "" {
		return "", 0, fmt.Errorf("%w: no refresh token configured", ErrAuthFailed)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {ts.refreshToken},
		"client_id":     {ts.appKey},
		"client_secret": {ts.appSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBaseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", 0, fmt.Errorf("%w: %s - %s", ErrAuthFailed, resp.Status, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", 0, fmt.Errorf("token exchange failed: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return "", 0, fmt.Errorf("token exchange returned an empty access token")
	}

	lifetime := time.Duration(token.ExpiresIn) * time.Second
	if lifetime <= 0 {
		// Dropbox short-lived tokens last 4 hours; assume that when the
		// response omits expires_in.
		lifetime = 4 * time.Hour
	}

	log.Printf("[dropbox] access token refreshed, valid for %s", lifetime)
	return token.AccessToken, lifetime, nil
}
