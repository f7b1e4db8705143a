// Package identity resolves bearer tokens against the external identity
// provider. The core never stores credentials; only the provider-issued
// subject and email are kept.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quaestor-app/quaestor/internal/pkg/cache"
	"github.com/quaestor-app/quaestor/internal/pkg/env"
)

var ErrInvalidToken = errors.New("identity: invalid or expired token")

// Identity is a resolved external principal.
type Identity struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

// TokenCache stores verified identities keyed by a token digest so repeated
// requests within the TTL skip the provider round trip.
type TokenCache interface {
	Get(key string) (string, error)
	Set(key string, value interface{}, ttl time.Duration) error
}

// redisCache adapts the shared cache package.
type redisCache struct{}

func (redisCache) Get(key string) (string, error) { return cache.Get(key) }
func (redisCache) Set(key string, value interface{}, ttl time.Duration) error {
	return cache.Set(key, value, ttl)
}

// Verifier calls the provider's userinfo endpoint to validate bearer tokens.
type Verifier struct {
	BaseURL    string
	HTTPClient *http.Client
	Cache      TokenCache
	CacheTTL   time.Duration
}

// NewVerifierFromEnv builds a verifier with the provider URL from the env and
// the shared Redis cache.
func NewVerifierFromEnv() *Verifier {
	return &Verifier{
		BaseURL:    strings.TrimRight(env.GetEnv("IDENTITY_PROVIDER_URL", ""), "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Cache:      redisCache{},
		CacheTTL:   2 * time.Minute,
	}
}

// Verify resolves a bearer token to an identity, or ErrInvalidToken if the
// provider rejects it. Successful lookups are cached under a token digest,
// never the token itself.
func (v *Verifier) Verify(ctx context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	if v.BaseURL == "" {
		return nil, errors.New("identity: IDENTITY_PROVIDER_URL is not configured")
	}

	cacheKey := "identity:token:" + tokenDigest(token)
	if v.Cache != nil {
		if raw, err := v.Cache.Get(cacheKey); err == nil && raw != "" {
			var id Identity
			if jsonErr := json.Unmarshal([]byte(raw), &id); jsonErr == nil && id.Subject != "" {
				return &id, nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.BaseURL+"/userinfo", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrInvalidToken
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("identity: userinfo failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var id Identity
	if err := json.Unmarshal(body, &id); err != nil {
		return nil, fmt.Errorf("identity: bad userinfo payload: %w", err)
	}
	if strings.TrimSpace(id.Subject) == "" {
		return nil, errors.New("identity: userinfo response missing subject")
	}
	id.Email = strings.ToLower(strings.TrimSpace(id.Email))

	if v.Cache != nil {
		if raw, err := json.Marshal(id); err == nil {
			_ = v.Cache.Set(cacheKey, string(raw), v.CacheTTL)
		}
	}
	return &id, nil
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
