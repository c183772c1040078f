package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastReachesClient(t *testing.T) {
	var version atomic.Int64
	m := New(SnapshotFunc(func() interface{} {
		return map[string]int64{"version": version.Load()}
	}))

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.AddClient(conn)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first map[string]int64
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, int64(0), first["version"])

	require.Eventually(t, func() bool { return m.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	version.Store(7)
	m.Broadcast()

	var second map[string]int64
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, int64(7), second["version"])

	conn.Close()
	require.Eventually(t, func() bool { return m.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
