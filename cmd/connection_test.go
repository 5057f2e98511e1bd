// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/billstat/pkg/validator"
	"github.com/gorilla/websocket"
)

// newBridge starts a WebSocket bridge that checks Basic auth, runs serve
// on the accepted socket and closes it afterwards
func newBridge(t *testing.T, serve func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func closeBridge(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func TestWebSocketConnection_BinaryOnly(t *testing.T) {
	url := newBridge(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("bridge ready"))
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x02, 0x0B, 0x20})
		closeBridge(conn)
	})

	conn, err := OpenWebSocketConnection(url, "admin", "secret", false)
	if err != nil {
		t.Fatalf("OpenWebSocketConnection failed: %v", err)
	}
	defer conn.Close()

	// A small buffer drains one message across reads
	buf := make([]byte, 2)
	n, err := conn.Read(buf)
	if err != nil || !bytes.Equal(buf[:n], []byte{0x02, 0x0B}) {
		t.Fatalf("first read = % X, %v", buf[:n], err)
	}
	n, err = conn.Read(buf)
	if err != nil || !bytes.Equal(buf[:n], []byte{0x20}) {
		t.Fatalf("second read = % X, %v", buf[:n], err)
	}

	if _, err := conn.Read(buf); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("read after bridge close = %v, want ErrConnectionClosed", err)
	}
	if _, err := conn.Write([]byte{0x00}); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("write after close = %v, want ErrConnectionClosed", err)
	}
}

func TestWebSocketConnection_CloseIdempotent(t *testing.T) {
	url := newBridge(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})

	conn, err := OpenWebSocketConnection(url, "admin", "secret", false)
	if err != nil {
		t.Fatalf("OpenWebSocketConnection failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("first Close = %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if _, err := conn.Read(make([]byte, 8)); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("read after Close = %v, want ErrConnectionClosed", err)
	}
}

func TestOpenWebSocketConnection_Errors(t *testing.T) {
	url := newBridge(t, func(*websocket.Conn) {})

	if _, err := OpenWebSocketConnection(url, "admin", "wrong", false); err == nil ||
		!strings.Contains(err.Error(), "HTTP 401") {
		t.Errorf("bad password: err = %v, want HTTP 401", err)
	}
	if _, err := OpenWebSocketConnection("http://example.com", "", "", false); err == nil {
		t.Error("http scheme should be rejected")
	}
}

func TestWebSocketConnection_BridgeCloseDisconnectsController(t *testing.T) {
	polled := make(chan struct{})
	url := newBridge(t, func(conn *websocket.Conn) {
		// Wait for the baseline poll, answer it, then hang up
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		close(polled)
		conn.WriteMessage(websocket.BinaryMessage, idleReply())
		time.Sleep(50 * time.Millisecond)
		closeBridge(conn)
	})

	ctrl := validator.New(validator.Config{
		Device:       url,
		Currency:     "USD",
		PollInterval: time.Hour,
		Opener: func(string) (validator.Port, error) {
			return OpenWebSocketConnection(url, "admin", "secret", false)
		},
	})
	t.Cleanup(func() { ctrl.Shutdown() })

	if err := ctrl.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never received the baseline poll")
	}

	var got []validator.EventType
	timeout := time.After(2 * time.Second)
	for len(got) == 0 || got[len(got)-1] != validator.EventDisconnected {
		select {
		case e := <-ctrl.Events():
			got = append(got, e.Type)
		case <-timeout:
			t.Fatalf("no disconnect event, got %v", got)
		}
	}

	want := []validator.EventType{validator.EventConnected, validator.EventIdle, validator.EventDisconnected}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}
