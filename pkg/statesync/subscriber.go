package statesync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cuemby/ballast/pkg/log"
	"github.com/cuemby/ballast/pkg/metrics"
	"github.com/cuemby/ballast/pkg/types"
)

// Subscriber connects to an agent's state publisher and keeps the
// latest fleet snapshot available for concurrent readers. Reconnects
// on any read or dial error with exponential backoff.
type Subscriber struct {
	url     string
	latest  atomic.Pointer[types.FleetSnapshot]
	logger  zerolog.Logger
	dial    func(url string) (*websocket.Conn, error)
	backoff func() backoff.BackOff
}

// NewSubscriber builds a Subscriber that dials the given ws:// URL.
func NewSubscriber(host string, port int) *Subscriber {
	s := &Subscriber{
		url:    fmt.Sprintf("ws://%s:%d/ws", host, port),
		logger: log.WithComponent("statesync-subscriber"),
		dial: func(url string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			return conn, err
		},
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 1 * time.Second
			b.MaxInterval = 60 * time.Second
			b.MaxElapsedTime = 0 // retry forever
			return b
		},
	}
	s.latest.Store(&types.FleetSnapshot{})
	return s
}

// Snapshot returns the most recently received fleet snapshot. Safe for
// concurrent use; returns an empty snapshot before the first frame
// arrives.
func (s *Subscriber) Snapshot() types.FleetSnapshot {
	return *s.latest.Load()
}

// Run connects and re-connects until ctx is cancelled, continuously
// updating the latest snapshot as frames arrive.
func (s *Subscriber) Run(ctx context.Context) {
	bo := s.backoff()
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dial(s.url)
		if err != nil {
			metrics.ReconnectsTotal.Inc()
			wait := bo.NextBackOff()
			s.logger.Warn().Err(err).Dur("retry_in", wait).Msg("state channel dial failed")
			if !sleepOrDone(ctx, wait) {
				return
			}
			continue
		}

		s.logger.Info().Str("url", s.url).Msg("state channel connected")
		bo.Reset()
		s.readLoop(ctx, conn)
		conn.Close()
	}
}

func (s *Subscriber) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("state channel read failed, reconnecting")
			}
			return
		}

		var snapshot types.FleetSnapshot
		if err := json.Unmarshal(data, &snapshot); err != nil {
			s.logger.Warn().Err(err).Msg("malformed state frame, skipping")
			continue
		}
		s.latest.Store(&snapshot)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
