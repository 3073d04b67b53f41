package platform

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestReadFramesStopsOnDoneWithFullBuffer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 5; i++ {
			if err := conn.WriteJSON(gatewayFrame{Op: opHeartbeatACK}); err != nil {
				return
			}
		}
		// Hold the socket open so the reader blocks on the channel send,
		// not on a dead connection.
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	g := &Gateway{connID: "test"}
	msgs := make(chan gatewayFrame, 1)
	errs := make(chan error, 1)
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		g.readFrames(conn, msgs, errs, done)
		close(exited)
	}()

	// One frame fits the buffer; the reader is now stuck on the next send.
	select {
	case <-msgs:
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame arrived")
	}

	close(done)
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatalf("read loop did not exit after done closed")
	}
}

func TestReadFramesReportsSocketError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	g := &Gateway{connID: "test"}
	msgs := make(chan gatewayFrame, 4)
	errs := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	exited := make(chan struct{})
	go func() {
		g.readFrames(conn, msgs, errs, done)
		close(exited)
	}()

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatalf("read loop did not exit on closed socket")
	}
	select {
	case err := <-errs:
		if err == nil {
			t.Fatalf("errs delivered nil error")
		}
	default:
		t.Fatalf("no error reported for closed socket")
	}
}
