// Package statesync carries worker-fleet snapshots from the agent to
// the balancer over a server-push websocket channel: Publisher runs on
// the agent and serves /ws, Subscriber runs on the balancer and keeps
// an always-current snapshot for the dispatcher to read.
package statesync

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cuemby/ballast/pkg/log"
	"github.com/cuemby/ballast/pkg/metrics"
	"github.com/cuemby/ballast/pkg/types"
)

const (
	frameInterval = 2 * time.Second
	writeTimeout  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SnapshotFunc returns the latest fleet snapshot to publish. The
// reconciler's Tick result is the usual source.
type SnapshotFunc func() types.FleetSnapshot

// Publisher serves the state-sync websocket endpoint, pushing the
// latest snapshot to every connected subscriber every frameInterval.
type Publisher struct {
	latest SnapshotFunc
	logger zerolog.Logger

	mu          sync.Mutex
	subscribers int
}

// NewPublisher builds a Publisher that reads snapshots from latest.
func NewPublisher(latest SnapshotFunc) *Publisher {
	return &Publisher{
		latest: latest,
		logger: log.WithComponent("statesync-publisher"),
	}
}

// ServeHTTP upgrades the connection and runs the per-subscriber push
// loop until the client disconnects or a write fails.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	p.runSubscriber(conn)
}

func (p *Publisher) runSubscriber(conn *websocket.Conn) {
	p.mu.Lock()
	p.subscribers++
	p.mu.Unlock()
	metrics.SubscribersConnected.Inc()
	defer func() {
		p.mu.Lock()
		p.subscribers--
		p.mu.Unlock()
		metrics.SubscribersConnected.Dec()
		conn.Close()
	}()

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for range ticker.C {
		snapshot := p.latest()
		snapshot.Workers = snapshot.Sorted()

		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := conn.WriteJSON(snapshot)
		if err == nil {
			metrics.SnapshotsPublished.Inc()
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			p.logger.Debug().Msg("subscriber write timed out, dropping frame")
			continue
		}
		p.logger.Debug().Err(err).Msg("subscriber disconnected")
		return
	}
}

// SubscriberCount reports the number of currently connected
// subscribers. Exposed for diagnostics.
func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribers
}
