package bus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestBroadcastReachesSubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// registration races the broadcast; retry until the frame lands
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	received := make(chan Frame, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f Frame
			if json.Unmarshal(msg, &f) == nil {
				received <- f
				return
			}
		}
	}()

	var got Frame
	for {
		hub.Broadcast("session:status", map[string]string{"sessionId": "sess_1", "status": "ready"})
		select {
		case got = <-received:
		case <-time.After(50 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatalf("no frame received")
			}
			continue
		}
		break
	}

	if got.Event != "session:status" {
		t.Fatalf("unexpected event %q", got.Event)
	}
	data, ok := got.Data.(map[string]any)
	if !ok || data["sessionId"] != "sess_1" {
		t.Fatalf("unexpected data %v", got.Data)
	}
	if got.Timestamp.IsZero() {
		t.Fatalf("expected timestamp")
	}
}

// an upgrade arriving after the hub stopped must not hang the handler
func TestSubscribeAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	cancel()
	<-hub.done

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		// upgrade refused outright is fine too
		return
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected the connection to be closed")
	}
}

func TestBroadcastWithoutSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	// must not block or panic
	for i := 0; i < 100; i++ {
		hub.Broadcast("session:status", map[string]int{"i": i})
	}
}
