package peer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func wsServer(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn)
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func drainIncoming(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-c.Incoming():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("incoming channel never closed")
		}
	}
}

func TestClient_AbruptLossReportedUnclean(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		// Kill the transport without a close handshake.
		conn.Close()
	})

	c, err := Dial(context.Background(), url, "", discardLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	drainIncoming(t, c)

	// The connection owner always runs Close on the way out; that must not
	// relabel the loss as clean, or reconnection never fires.
	c.Close()
	if c.CloseWasClean() {
		t.Fatal("abrupt transport loss reported clean")
	}
}

func TestClient_NormalClosureReportedClean(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})

	c, err := Dial(context.Background(), url, "", discardLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	drainIncoming(t, c)

	c.Close()
	if !c.CloseWasClean() {
		t.Fatal("normal closure reported unclean")
	}
}

func TestClient_LocalCloseReportedClean(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c, err := Dial(context.Background(), url, "", discardLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c.Close()
	drainIncoming(t, c)

	if !c.CloseWasClean() {
		t.Fatal("local close reported unclean")
	}
}
