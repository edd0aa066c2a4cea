package catalog

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
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/etokosmo/pizza-shop/core/logger"
	"github.com/etokosmo/pizza-shop/internal/errx"
)

const (
	// expirySkew refreshes tokens slightly before the server-side deadline.
	expirySkew = 30 * time.Second
	// refreshTimeout bounds one token request; it does not follow any caller's deadline.
	refreshTimeout = 10 * time.Second
)

// Credential owns the client-credentials access token. It is refreshed lazily
// and concurrent callers hitting an expired token share one refresh.
type Credential struct {
	endpoint     string
	clientID     string
	clientSecret string
	http         *http.Client
	now          func() time.Time

	mu      sync.RWMutex
	token   string
	expires time.Time

	group singleflight.Group
}

// NewCredential builds a credential that authenticates against baseURL.
func NewCredential(baseURL, clientID, clientSecret string, client *http.Client) *Credential {
	if client == nil {
		client = http.DefaultClient
	}
	return &Credential{
		endpoint:     strings.TrimRight(baseURL, "/") + "/oauth/access_token",
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         client,
		now:          time.Now,
	}
}

// Token returns a valid access token, refreshing it when expired.
// A caller whose ctx ends stops waiting; the shared refresh keeps running for the others.
func (c *Credential) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}
	ch := c.group.DoChan("token", func() (interface{}, error) {
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return c.refresh(rctx)
	})
	select {
	case <-ctx.Done():
		return "", errx.Transport("catalog.auth", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token so the next call re-authenticates.
func (c *Credential) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expires = time.Time{}
	c.mu.Unlock()
}

func (c *Credential) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" || !c.now().Add(expirySkew).Before(c.expires) {
		return "", false
	}
	return c.token, true
}

func (c *Credential) refresh(ctx context.Context) (string, error) {
	start := time.Now()
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errx.Transport("catalog.auth", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errx.Transport("catalog.auth", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", errx.Transport("catalog.auth", fmt.Errorf("status %s", resp.Status))
	}

	var dto tokenDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return "", errx.Transport("catalog.auth", fmt.Errorf("decode token: %w", err))
	}
	if dto.AccessToken == "" {
		return "", errx.Transport("catalog.auth", fmt.Errorf("empty access token"))
	}

	expires := time.Unix(dto.Expires, 0)
	if dto.Expires == 0 && dto.ExpiresIn > 0 {
		expires = c.now().Add(time.Duration(dto.ExpiresIn) * time.Second)
	}

	c.mu.Lock()
	c.token = dto.AccessToken
	c.expires = expires
	c.mu.Unlock()

	logger.Debug(ctx, "catalog", "auth.refresh",
		slog.String("status", "ok"),
		slog.String("cache", "refresh"),
		slog.Time("expires", expires),
		slog.Duration("duration", logger.Took(start)),
	)
	return dto.AccessToken, nil
}
