package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(h, w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if query != "" {
		url += "?" + query
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func mustDial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := dial(t, srv, query, nil)
	require.NoError(t, err)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func TestServeWs_PreboundFanout(t *testing.T) {
	h := newTestHub(t, newStore(t), Config{})
	srv := startServer(t, h)

	alice := mustDial(t, srv, "peerA=alice&peerB=bob")
	bob := mustDial(t, srv, "userFrom=bob&userTo=alice")
	waitFor(t, func() bool { return h.Stats().Bound == 2 })

	require.NoError(t, alice.WriteJSON(map[string]any{
		"type":    EventSendMessage,
		"payload": SendMessagePayload{From: "alice", To: "bob", Body: "over the wire"},
	}))

	for _, conn := range []*websocket.Conn{alice, bob} {
		f := readFrame(t, conn)
		assert.Equal(t, EventHistoryResult, f.Type)
		items := f.messages(t)
		require.Len(t, items, 1)
		assert.Equal(t, "over the wire", items[0].Body)
	}
}

func TestServeWs_RoomSignaling(t *testing.T) {
	h := newTestHub(t, &fakeStore{}, Config{})
	srv := startServer(t, h)

	c1 := mustDial(t, srv, "")
	c2 := mustDial(t, srv, "")

	require.NoError(t, c1.WriteJSON(map[string]any{"type": EventJoinRoom, "payload": JoinRoomPayload{Room: "call"}}))
	first := readFrame(t, c1)
	require.Equal(t, EventRoomPeers, first.Type)
	require.Empty(t, first.Peers)

	require.NoError(t, c2.WriteJSON(map[string]any{"type": EventJoinRoom, "payload": JoinRoomPayload{Room: "call"}}))
	second := readFrame(t, c2)
	require.Len(t, second.Peers, 1)

	require.NoError(t, c2.WriteJSON(map[string]any{"type": EventOffer, "payload": map[string]any{"sdp": "v=0"}}))
	f := readFrame(t, c1)
	assert.Equal(t, EventPeerOffer, f.Type)
	assert.JSONEq(t, `"v=0"`, string(f.SDP))

	require.NoError(t, c2.Close())
	f = readFrame(t, c1)
	assert.Equal(t, EventPeerLeft, f.Type)
	assert.Equal(t, second.Peers[0], h.rooms.members("call")[0])
}

func TestServeWs_CloseUnregisters(t *testing.T) {
	h := newTestHub(t, &fakeStore{}, Config{})
	srv := startServer(t, h)

	conn := mustDial(t, srv, "peerA=alice&peerB=bob")
	waitFor(t, func() bool { return h.Stats().Connections == 1 })

	require.NoError(t, conn.Close())
	waitFor(t, func() bool { return h.Stats() == Stats{} })
}

func TestServeWs_OriginCheck(t *testing.T) {
	h := newTestHub(t, &fakeStore{}, Config{AllowedOrigins: []string{"https://Chat.Example.com", "not a url"}})
	srv := startServer(t, h)

	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"allowed", "https://chat.example.com", true},
		{"no origin header", "", true},
		{"other origin", "https://evil.example.com", false},
		{"scheme mismatch", "http://chat.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			_, resp, err := dial(t, srv, "", header)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestServeWs_RateLimit(t *testing.T) {
	h := newTestHub(t, &fakeStore{}, Config{RatePerSecond: 0.01, RateBurst: 1})
	srv := startServer(t, h)
	conn := mustDial(t, srv, "")

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteJSON(map[string]any{"type": EventListUsers}))
	}
	assert.Equal(t, EventUsersResult, readFrame(t, conn).Type)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestServeWs_ReadLimitClosesConnection(t *testing.T) {
	h := newTestHub(t, &fakeStore{}, Config{MaxMessageSize: 64})
	srv := startServer(t, h)
	conn := mustDial(t, srv, "")
	waitFor(t, func() bool { return h.Stats().Connections == 1 })

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 1024))))
	waitFor(t, func() bool { return h.Stats().Connections == 0 })
}

func TestServeWs_Shutdown(t *testing.T) {
	h := NewHub(&fakeStore{}, Config{}, testLogger)
	srv := startServer(t, h)
	go h.Run(context.Background())

	conn := mustDial(t, srv, "")
	waitFor(t, func() bool { return h.Stats().Connections == 1 })

	require.NoError(t, h.Shutdown(2*time.Second))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	_, resp, err := dial(t, srv, "", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServeWs_ConnectsDuringShutdownAreClosed(t *testing.T) {
	h := NewHub(&fakeStore{}, Config{}, testLogger)
	srv := startServer(t, h)
	go h.Run(context.Background())

	conns := make(chan *websocket.Conn, 20)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if conn, _, err := dial(t, srv, "peerA=alice&peerB=bob", nil); err == nil {
				conns <- conn
			}
		}()
	}
	require.NoError(t, h.Shutdown(2*time.Second))
	wg.Wait()
	close(conns)

	assert.Equal(t, 0, h.Stats().Connections)
	assert.Equal(t, 0, h.Stats().Bound)
	for conn := range conns {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err)
	}
}
