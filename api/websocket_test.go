package api

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/damian-anslik/cpapi-app/infrastructure/logger"
)

func dialHub(t *testing.T, h *Hub) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.handleWebSocket))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, srv
}

func TestHubPublishReachesClient(t *testing.T) {
	h := NewHub(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	conn, srv := dialHub(t, h)
	defer srv.Close()
	defer conn.Close()

	// Publish only once the registration has landed.
	deadline := time.After(time.Second)
	for {
		h.mu.RLock()
		registered := len(h.clients)
		h.mu.RUnlock()
		if registered == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(time.Millisecond):
		}
	}

	h.Publish(map[string]string{"symbol": "ABC"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(msg), "ABC") {
		t.Fatalf("unexpected message: %s", msg)
	}
}

// An upgrade arriving after the hub has shut down must be closed, not
// left blocking on a registration nobody reads.
func TestHubShutdownUnblocksLateUpgrades(t *testing.T) {
	h := NewHub(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	cancel()
	<-h.done

	srv := httptest.NewServer(http.HandlerFunc(h.handleWebSocket))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return // handshake rejected outright is acceptable too
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Fatal("expected the connection to be closed")
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		t.Fatal("connection was left open after hub shutdown")
	}
}
