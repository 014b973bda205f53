// Package credentials hands out access tokens per integration. Token
// storage and OAuth refresh live outside this service; a Provider only
// reads a usable token or reports that none is available.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AngelCh415/adreports/internal/config"
	"github.com/AngelCh415/adreports/internal/errs"
)

type Provider interface {
	// Token returns a valid access token for the integration. An empty
	// token with a nil error means refresh failed.
	Token(ctx context.Context, integrationID string) (string, error)
}

// Resolve calls p and maps a missing token to an AuthError.
func Resolve(ctx context.Context, p Provider, integrationID string) (string, error) {
	if p == nil {
		return "", &errs.AuthError{IntegrationID: integrationID}
	}
	tok, err := p.Token(ctx, integrationID)
	if err != nil {
		return "", &errs.AuthError{IntegrationID: integrationID, Err: err}
	}
	if strings.TrimSpace(tok) == "" {
		return "", &errs.AuthError{IntegrationID: integrationID}
	}
	return tok, nil
}

// Static serves tokens from a fixed map, e.g. INTEGRATION_TOKENS.
type Static map[string]string

func (s Static) Token(_ context.Context, integrationID string) (string, error) {
	return s[integrationID], nil
}

// Token is a refreshed access token. A zero ExpiresAt means the token is
// only good for the call that obtained it.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// RefreshFunc obtains a fresh token from the integration owner.
type RefreshFunc func(ctx context.Context, integrationID string) (Token, error)

// expirySkew retires a cached token slightly before the owner does.
const expirySkew = 30 * time.Second

// Refreshing caches refreshed tokens until shortly before they expire and
// serializes callers sharing an integration, so concurrent sources never
// refresh the same token twice. Failures are never cached.
type Refreshing struct {
	refresh RefreshFunc
	now     func() time.Time

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	tokens map[string]Token
}

func NewRefreshing(fn RefreshFunc) *Refreshing {
	return &Refreshing{refresh: fn, now: time.Now, locks: map[string]*sync.Mutex{}, tokens: map[string]Token{}}
}

func (r *Refreshing) lock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *Refreshing) Token(ctx context.Context, integrationID string) (string, error) {
	l := r.lock(integrationID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	tok, ok := r.tokens[integrationID]
	r.mu.Unlock()
	if ok && r.now().Add(expirySkew).Before(tok.ExpiresAt) {
		return tok.Value, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := r.refresh(ctx, integrationID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil || tok.Value == "" {
		delete(r.tokens, integrationID)
		return "", err
	}
	r.tokens[integrationID] = tok
	return tok.Value, nil
}

// HTTPRefresh asks url for a token: POST {"integration_id"} answered by
// {"access_token", "expires_in"} (seconds). Any non-200 answer is a failed
// refresh.
func HTTPRefresh(url string, client *http.Client) RefreshFunc {
	return func(ctx context.Context, integrationID string) (Token, error) {
		body, err := json.Marshal(map[string]string{"integration_id": integrationID})
		if err != nil {
			return Token{}, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return Token{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return Token{}, fmt.Errorf("token refresh: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return Token{}, fmt.Errorf("token refresh: owner answered %d", resp.StatusCode)
		}
		var out struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expires_in"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return Token{}, fmt.Errorf("token refresh: %w", err)
		}
		tok := Token{Value: out.AccessToken}
		if out.ExpiresIn > 0 {
			tok.ExpiresAt = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
		}
		return tok, nil
	}
}

// FromConfig refreshes through RefreshURL when one is configured and falls
// back to the static INTEGRATION_TOKENS map otherwise.
func FromConfig(cfg config.Config) Provider {
	if cfg.RefreshURL == "" {
		return Static(cfg.IntegrationTokens)
	}
	return NewRefreshing(HTTPRefresh(cfg.RefreshURL, &http.Client{Timeout: cfg.APITimeout}))
}
