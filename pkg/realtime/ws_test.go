package realtime_test

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/notifications"
	"github.com/dmitrymomot/notifykit/pkg/realtime"
)

type fakeInbound struct {
	mu   sync.Mutex
	msgs []notifications.InboundMessage
}

func (f *fakeInbound) HandleInbound(_ context.Context, _ string, msg notifications.InboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	if msg.ID == "not-mine" {
		return notifications.ErrForbidden
	}
	return nil
}

// replayer pushes one backlog notification on connect.
type replayer struct{}

func (replayer) HandleConnect(_ context.Context, userID string, push notifications.PushFunc) (int, error) {
	n := notifications.Notification{ID: "old-1", UserID: userID, Title: "Earlier", Message: "Missed while away"}
	if !push(notifications.TransportEventNotification, n) {
		return 0, nil
	}
	return 1, nil
}

func dialWS(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set(realtime.DefaultUserHeader, userID)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestServeWS(t *testing.T) {
	inbound := &fakeInbound{}
	h := newHub(realtime.WithInboundHandler(inbound), realtime.WithConnectHandler(replayer{}))
	defer h.Close()

	server := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer server.Close()

	conn := dialWS(t, server, "u1")

	replayed := readFrame(t, conn)
	assert.Equal(t, notifications.TransportEventNotification, replayed["event"])
	assert.Equal(t, "old-1", replayed["data"].(map[string]any)["id"])

	assert.Equal(t, 1, h.SendToUser(context.Background(), "u1", notifications.TransportEventNotification,
		notifications.Notification{ID: "n1", UserID: "u1", Title: "Shipped"}))
	live := readFrame(t, conn)
	assert.Equal(t, "n1", live["data"].(map[string]any)["id"])

	require.NoError(t, conn.WriteJSON(notifications.InboundMessage{Type: notifications.InboundMarkRead, ID: "n1"}))
	ack := readFrame(t, conn)
	assert.Equal(t, realtime.EventAck, ack["event"])

	require.NoError(t, conn.WriteJSON(notifications.InboundMessage{Type: notifications.InboundMarkRead, ID: "not-mine"}))
	rejected := readFrame(t, conn)
	assert.Equal(t, realtime.EventError, rejected["event"])
	assert.Equal(t, "forbidden", rejected["data"].(map[string]any)["error"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	malformed := readFrame(t, conn)
	assert.Equal(t, realtime.EventError, malformed["event"])

	inbound.mu.Lock()
	assert.Len(t, inbound.msgs, 2)
	inbound.mu.Unlock()

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.Sessions("u1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeWS_Unauthenticated(t *testing.T) {
	h := newHub()
	defer h.Close()
	server := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer server.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWS_RejectsForeignOrigin(t *testing.T) {
	h := newHub(realtime.WithAllowedOrigins("https://app.example.com"))
	defer h.Close()
	server := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer server.Close()

	header := http.Header{}
	header.Set(realtime.DefaultUserHeader, "u1")
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServeSSE(t *testing.T) {
	h := newHub()
	defer h.Close()
	server := httptest.NewServer(http.HandlerFunc(h.ServeSSE))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"?user_id=u1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	require.Eventually(t, func() bool { return h.Sessions("u1") == 1 }, 2*time.Second, 10*time.Millisecond)
	h.SendToUser(ctx, "u1", notifications.TransportEventNotification,
		notifications.Notification{ID: "n7", UserID: "u1", Title: "Order <42>", Message: "On its way"})

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	var body strings.Builder
	deadline := time.After(2 * time.Second)
	for !strings.Contains(body.String(), "notification-n7") {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream ended early")
			}
			body.WriteString(line + "\n")
		case <-deadline:
			t.Fatalf("card not streamed, got %q", body.String())
		}
	}
	assert.Contains(t, body.String(), "Order &lt;42&gt;")

	cancel()
	require.Eventually(t, func() bool { return h.Sessions("u1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHeaderIdentity(t *testing.T) {
	id := realtime.HeaderIdentity("X-User-ID")

	r := httptest.NewRequest(http.MethodGet, "/?user_id=q", nil)
	got, err := id(r)
	require.NoError(t, err)
	assert.Equal(t, "q", got)

	r.Header.Set("X-User-ID", "h")
	got, err = id(r)
	require.NoError(t, err)
	assert.Equal(t, "h", got)

	_, err = id(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, errors.Is(err, realtime.ErrUnauthenticated))
}
