// Package profile looks up user profiles in an external user directory.
package profile

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

	cache "github.com/patrickmn/go-cache"

	"github.com/antoniostano/onboarding/internal/reliability"
)

var ErrNotFound = errors.New("user not found")

// Profile is the subset of the directory record the agent uses.
type Profile struct {
	UserID   string `json:"user_id"`
	UserType string `json:"user_type"`
	Name     string `json:"name,omitempty"`
}

// Directory resolves a user id to a profile.
type Directory interface {
	Lookup(ctx context.Context, userID string) (Profile, error)
}

// HTTPDirectory reads profiles from GET {baseURL}/users/{id}.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
	retry   reliability.Policy
}

func NewHTTPDirectory(baseURL string, timeout time.Duration) *HTTPDirectory {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPDirectory{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
		retry:   reliability.Policy{Attempts: 3, Base: 100 * time.Millisecond, Cap: time.Second},
	}
}

// Lookup retries transient upstream failures; 404 maps to ErrNotFound.
func (d *HTTPDirectory) Lookup(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := d.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		p, err = d.fetch(ctx, userID)
		return err
	})
	if err != nil {
		return Profile{}, fmt.Errorf("fetch user %s: %w", userID, err)
	}
	return p, nil
}

func (d *HTTPDirectory) fetch(ctx context.Context, userID string) (Profile, error) {
	endpoint := d.baseURL + "/users/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := d.client.Do(req)
	if err != nil {
		return Profile{}, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return Profile{}, ErrNotFound
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Profile{}, &reliability.StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var p Profile
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("decode: %w", err)
	}
	if p.UserID == "" {
		p.UserID = userID
	}
	return p, nil
}

// CachedDirectory memoizes profiles and not-found answers for the cache TTL.
// Transient failures are not cached.
type CachedDirectory struct {
	inner Directory
	cache *cache.Cache
}

// notFound marks a user the directory does not know.
type notFound struct{}

func NewCachedDirectory(inner Directory, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedDirectory{
		inner: inner,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (d *CachedDirectory) Lookup(ctx context.Context, userID string) (Profile, error) {
	if v, ok := d.cache.Get(userID); ok {
		if p, ok := v.(Profile); ok {
			return p, nil
		}
		return Profile{}, ErrNotFound
	}
	p, err := d.inner.Lookup(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		d.cache.SetDefault(userID, notFound{})
		return Profile{}, err
	}
	if err != nil {
		return Profile{}, err
	}
	d.cache.SetDefault(userID, p)
	return p, nil
}
