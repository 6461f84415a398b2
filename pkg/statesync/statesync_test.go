package statesync

import (
	"context"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ballast/pkg/types"
)

func startTestPublisher(t *testing.T, snapshot types.FleetSnapshot) *httptest.Server {
	t.Helper()
	pub := NewPublisher(func() types.FleetSnapshot { return snapshot })
	srv := httptest.NewServer(pub)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) (host string, port int) {
	u := strings.TrimPrefix(srv.URL, "http://")
	parts := strings.SplitN(u, ":", 2)
	p, _ := strconv.Atoi(parts[1])
	return parts[0], p
}

func TestPublisher_PushesSortedSnapshotToSubscriber(t *testing.T) {
	snapshot := types.FleetSnapshot{Workers: []types.Worker{
		{DNSName: "worker-a", Score: 10, Category: types.CategoryLU},
		{DNSName: "worker-b", Score: 90, Category: types.CategoryLU},
	}}
	srv := startTestPublisher(t, snapshot)
	host, port := wsURL(srv)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+host+":"+strconv.Itoa(port)+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(4 * time.Second))
	var received types.FleetSnapshot
	require.NoError(t, conn.ReadJSON(&received))

	require.Len(t, received.Workers, 2)
	require.Equal(t, "worker-b", received.Workers[0].DNSName)
	require.Equal(t, "worker-a", received.Workers[1].DNSName)
}

func TestSubscriber_ReceivesSnapshotFromPublisher(t *testing.T) {
	snapshot := types.FleetSnapshot{Workers: []types.Worker{
		{DNSName: "worker-a", Score: 50, Category: types.CategoryMU},
	}}
	srv := startTestPublisher(t, snapshot)
	host, port := wsURL(srv)

	sub := NewSubscriber(host, port)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		if len(sub.Snapshot().Workers) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	got := sub.Snapshot()
	require.Len(t, got.Workers, 1)
	require.Equal(t, "worker-a", got.Workers[0].DNSName)
}

func TestSubscriber_SnapshotEmptyBeforeFirstFrame(t *testing.T) {
	sub := NewSubscriber("127.0.0.1", 1)
	require.Empty(t, sub.Snapshot().Workers)
}
