package proxy

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ballast/pkg/dispatcher"
	"github.com/cuemby/ballast/pkg/types"
)

type fakeSource struct{ snapshot types.FleetSnapshot }

func (f *fakeSource) Snapshot() types.FleetSnapshot { return f.snapshot }

func upstreamPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u := strings.TrimPrefix(srv.URL, "http://")
	parts := strings.SplitN(u, ":", 2)
	p, err := strconv.Atoi(parts[1])
	require.NoError(t, err)
	return p
}

func newEngineFor(t *testing.T, srv *httptest.Server) *Engine {
	t.Helper()
	src := &fakeSource{snapshot: types.FleetSnapshot{
		CreatedAt: time.Now(),
		Workers:   []types.Worker{{DNSName: "127.0.0.1", Score: 100, Category: types.CategoryLU}},
	}}
	d := dispatcher.New(src)
	e := New(Config{TargetPort: upstreamPort(t, srv), CacheCapacity: 100}, d)
	t.Cleanup(e.Close)
	return e
}

func TestEngine_ForwardsAndReturnsUpstreamResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	e := newEngineFor(t, srv)
	req := httptest.NewRequest(http.MethodGet, "/plain", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
}

func TestEngine_NoBackendReturns503(t *testing.T) {
	src := &fakeSource{snapshot: types.FleetSnapshot{CreatedAt: time.Now()}}
	d := dispatcher.New(src)
	e := New(Config{TargetPort: 1, CacheCapacity: 10}, d)
	defer e.Close()

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEngine_CachesStaticGetOnSuccess(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("IMG"))
	}))
	defer srv.Close()

	e := newEngineFor(t, srv)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/a.png", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "IMG", rec.Body.String())
	}

	assert.EqualValues(t, 1, atomic.LoadInt32(&hits), "second request should be served from cache")
}

func TestEngine_NonStaticRequestsAreNeverCached(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	e := newEngineFor(t, srv)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestEngine_RetriesOnConnectionDropThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	e := newEngineFor(t, srv)
	req := httptest.NewRequest(http.MethodGet, "/flaky", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "recovered", rec.Body.String())
	assert.EqualValues(t, 2, atomic.LoadInt32(&attempts))
}

func TestEngine_WellFormedUpstream4xxIsNotRetried(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := newEngineFor(t, srv)
	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts))
}
