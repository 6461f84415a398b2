// Package proxy implements the balancer's forward path: admission
// control, static-asset cache short-circuit, worker selection, and
// retrying upstream dispatch.
package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/ballast/pkg/cache"
	"github.com/cuemby/ballast/pkg/dispatcher"
	"github.com/cuemby/ballast/pkg/log"
	"github.com/cuemby/ballast/pkg/metrics"
)

const (
	maxAttempts     = 3
	attemptTimeout  = 30 * time.Second
	cacheTTL        = 1 * time.Hour
	retryBaseDelay  = 100 * time.Millisecond
	defaultAdmitCap = 10_000
)

var staticExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".css", ".js"}

// Config configures the forward-proxy engine.
type Config struct {
	TargetPort     int
	AdmissionLimit int
	RequestTimeout time.Duration
	CacheCapacity  int
}

// Engine runs the per-request forward pipeline: admission, static
// cache, worker selection, retrying dispatch, and cache population.
type Engine struct {
	targetPort     int
	requestTimeout time.Duration

	dispatch *dispatcher.Dispatcher
	cache    *cache.Cache
	admit    chan struct{}

	client *http.Client
	logger zerolog.Logger
}

// New builds an Engine. cfg.AdmissionLimit defaults to 10,000 if zero.
func New(cfg Config, dispatch *dispatcher.Dispatcher) *Engine {
	limit := cfg.AdmissionLimit
	if limit <= 0 {
		limit = defaultAdmitCap
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = attemptTimeout
	}

	return &Engine{
		targetPort:     cfg.TargetPort,
		requestTimeout: timeout,
		dispatch:       dispatch,
		cache:          cache.New(cfg.CacheCapacity),
		admit:          make(chan struct{}, limit),
		client:         &http.Client{},
		logger:         log.WithComponent("proxy"),
	}
}

// Close stops the engine's background cache sweep.
func (e *Engine) Close() {
	e.cache.Stop()
}

// ServeHTTP runs the full forward pipeline for one request.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case e.admit <- struct{}{}:
	case <-r.Context().Done():
		http.Error(w, "request canceled", http.StatusServiceUnavailable)
		return
	}
	metrics.AdmissionInFlight.Inc()
	defer func() {
		<-e.admit
		metrics.AdmissionInFlight.Dec()
	}()

	if isStaticGet(r) {
		if body, ok := e.cache.Get(r.URL.RequestURI()); ok {
			metrics.CacheHitsTotal.Inc()
			w.WriteHeader(http.StatusOK)
			w.Write(body)
			return
		}
		metrics.CacheMissesTotal.Inc()
	}

	worker, err := e.dispatch.Pick()
	if err != nil {
		metrics.ForwardRequestsTotal.WithLabelValues("no_backend").Inc()
		http.Error(w, "No backend available", http.StatusServiceUnavailable)
		return
	}

	start := time.Now()
	status, body, header, err := e.forwardWithRetry(r, worker.DNSName)
	metrics.ForwardDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.ForwardRequestsTotal.WithLabelValues("timeout").Inc()
			http.Error(w, "Gateway timeout", http.StatusGatewayTimeout)
			return
		}
		metrics.ForwardRequestsTotal.WithLabelValues("unavailable").Inc()
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	metrics.ForwardRequestsTotal.WithLabelValues("success").Inc()
	for k, vv := range header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(status)
	w.Write(body)

	if isStaticGet(r) && status >= 200 && status < 300 {
		e.cache.Set(r.URL.RequestURI(), body, cacheTTL)
		metrics.CacheSize.Set(float64(e.cache.Len()))
	}
}

// forwardWithRetry runs the retry loop: up to maxAttempts, each bounded
// by e.requestTimeout, with a doubling backoff between attempts.
// Well-formed upstream 4xx/5xx responses are not retried.
func (e *Engine) forwardWithRetry(r *http.Request, dnsName string) (int, []byte, http.Header, error) {
	delay := retryBaseDelay
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}

		status, body, header, err := e.forwardOnce(r, dnsName)
		if err == nil {
			return status, body, header, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return 0, nil, nil, err
		}
	}
	return 0, nil, nil, lastErr
}

func (e *Engine) forwardOnce(r *http.Request, dnsName string) (int, []byte, http.Header, error) {
	ctx, cancel := context.WithTimeout(r.Context(), e.requestTimeout)
	defer cancel()

	url := "http://" + dnsName + ":" + strconv.Itoa(e.targetPort) + r.URL.Path
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, url, r.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header = r.Header.Clone()

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, body, resp.Header, nil
}

// isRetryable reports whether err warrants another attempt. Errors
// reaching here only ever come from http.Client.Do, request building,
// or response draining, never from a well-formed upstream status —
// those are returned as a (status, body) pair, not an error.
func isRetryable(err error) bool {
	return err != nil
}

func isStaticGet(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	path := strings.ToLower(r.URL.Path)
	for _, ext := range staticExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
