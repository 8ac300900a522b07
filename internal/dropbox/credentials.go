package dropbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

// DefaultTokenURL is the Dropbox OAuth2 token endpoint.
const DefaultTokenURL = "https://api.dropboxapi.com/oauth2/token"

// maxRefreshErrorBody bounds how much of a failed refresh response is kept
// for the error message.
const maxRefreshErrorBody = 2048

// Credentials is the single process-wide owner of the Dropbox OAuth tokens.
// All mutation goes through Refresh; readers observe the latest token, never
// a torn value. A refresh failure is fatal to the run; the caller must not
// retry it.
type Credentials struct {
	tokenURL   string
	appKey     string
	appSecret  string
	httpClient *http.Client
	logger     *slog.Logger

	// onRotate, if set, is called with the new token after each successful
	// refresh, outside the mutex. Used to persist rotated tokens to disk.
	onRotate func(*oauth2.Token)

	mu  sync.RWMutex
	tok oauth2.Token
}

// NewCredentials creates a credential store seeded with the configured
// access and refresh tokens.
func NewCredentials(tokenURL, appKey, appSecret string, tok oauth2.Token, httpClient *http.Client, logger *slog.Logger) *Credentials {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Credentials{
		tokenURL:   tokenURL,
		appKey:     appKey,
		appSecret:  appSecret,
		httpClient: httpClient,
		logger:     logger,
		tok:        tok,
	}
}

// OnRotate registers a callback invoked with the new token after each
// successful refresh. Must be called before the store is shared between
// goroutines.
func (c *Credentials) OnRotate(fn func(*oauth2.Token)) {
	c.onRotate = fn
}

// AccessToken returns the current access token. Safe for concurrent use;
// a completed Refresh is visible to every subsequent call.
func (c *Credentials) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.tok.AccessToken
}

// refreshResponse mirrors the Dropbox token endpoint JSON.
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Refresh exchanges the refresh token for a new access token and atomically
// replaces the stored credentials. stale is the access token the caller last
// used; if another goroutine already rotated past it, Refresh returns
// immediately without a second exchange. Any failure wraps ErrRefreshFailed.
func (c *Credentials) Refresh(ctx context.Context, stale string) error {
	tok, rotated, err := c.refreshLocked(ctx, stale)
	if err != nil {
		return err
	}

	// The callback runs outside the mutex so it may call back into the store.
	if rotated && c.onRotate != nil {
		c.onRotate(tok)
	}

	return nil
}

// refreshLocked performs the token exchange while holding the write lock.
// Returns a copy of the new token and whether an exchange actually happened.
func (c *Credentials) refreshLocked(ctx context.Context, stale string) (*oauth2.Token, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A concurrent 401 already triggered the exchange; the caller just
	// needs the newer token, which it will read on its next attempt.
	if stale != "" && c.tok.AccessToken != stale {
		c.logger.Debug("credential refresh coalesced with concurrent refresh")

		return nil, false, nil
	}

	c.logger.Info("refreshing access token")

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {c.tok.RefreshToken},
		"client_id":     {c.appKey},
		"client_secret": {c.appSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, false, fmt.Errorf("%w: creating request: %w", ErrRefreshFailed, err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxRefreshErrorBody))
	if readErr != nil {
		return nil, false, fmt.Errorf("%w: reading response: %w", ErrRefreshFailed, readErr)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("%w: HTTP %d: %s", ErrRefreshFailed, resp.StatusCode, string(body))
	}

	var rr refreshResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, false, fmt.Errorf("%w: decoding response: %w", ErrRefreshFailed, err)
	}

	if rr.AccessToken == "" {
		return nil, false, fmt.Errorf("%w: response carried an empty access token", ErrRefreshFailed)
	}

	c.tok.AccessToken = rr.AccessToken

	// Dropbox only issues a new refresh token on some exchanges; keep the
	// old one otherwise.
	rotatedRefresh := false
	if rr.RefreshToken != "" {
		c.tok.RefreshToken = rr.RefreshToken
		rotatedRefresh = true
	}

	c.logger.Debug("access token rotated",
		slog.Bool("new_refresh_token", rotatedRefresh),
	)

	tok := c.tok

	return &tok, true, nil
}
