package profile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/onboarding/internal/reliability"
)

func newDirectoryServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/users/u1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"user_type":"landlord","name":"Pat"}`))
		case "/users/broken":
			http.Error(w, "upstream down", http.StatusBadGateway)
		case "/users/flaky":
			if hits.Load()%2 == 1 {
				http.Error(w, "busy", http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"user_type":"tenant"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestHTTPDirectoryLookup(t *testing.T) {
	var hits atomic.Int32
	ts := newDirectoryServer(t, &hits)
	d := NewHTTPDirectory(ts.URL+"/", time.Second)

	p, err := d.Lookup(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, Profile{UserID: "u1", UserType: "landlord", Name: "Pat"}, p)
}

func fastRetry(d *HTTPDirectory) *HTTPDirectory {
	d.retry = reliability.Policy{Attempts: 3, Base: time.Millisecond, Cap: 5 * time.Millisecond}
	return d
}

func TestHTTPDirectoryErrors(t *testing.T) {
	var hits atomic.Int32
	ts := newDirectoryServer(t, &hits)
	d := fastRetry(NewHTTPDirectory(ts.URL, time.Second))

	_, err := d.Lookup(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), hits.Load())

	_, err = d.Lookup(context.Background(), "broken")
	require.Error(t, err)
	var se *reliability.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, int32(4), hits.Load())
}

func TestHTTPDirectoryRetriesTransientFailure(t *testing.T) {
	var hits atomic.Int32
	ts := newDirectoryServer(t, &hits)
	d := fastRetry(NewHTTPDirectory(ts.URL, time.Second))

	p, err := d.Lookup(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, "tenant", p.UserType)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCachedDirectoryMemoizesProfiles(t *testing.T) {
	var hits atomic.Int32
	ts := newDirectoryServer(t, &hits)
	d := NewCachedDirectory(fastRetry(NewHTTPDirectory(ts.URL, time.Second)), time.Minute)

	for i := 0; i < 3; i++ {
		p, err := d.Lookup(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "landlord", p.UserType)
	}
	assert.Equal(t, int32(1), hits.Load())

	for i := 0; i < 2; i++ {
		_, err := d.Lookup(context.Background(), "broken")
		require.Error(t, err)
	}
	assert.Equal(t, int32(7), hits.Load())
}

func TestCachedDirectoryMemoizesNotFound(t *testing.T) {
	var hits atomic.Int32
	ts := newDirectoryServer(t, &hits)
	d := NewCachedDirectory(fastRetry(NewHTTPDirectory(ts.URL, time.Second)), time.Minute)

	for i := 0; i < 3; i++ {
		_, err := d.Lookup(context.Background(), "stranger")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, int32(1), hits.Load())
}
