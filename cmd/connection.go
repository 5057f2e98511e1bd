// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Thermoquad/billstat/pkg/validator"
	"github.com/gorilla/websocket"
	"golang.org/x/term"
)

// Connection is the byte stream to a validator, either a serial port or a
// serial-over-WebSocket bridge
type Connection = validator.Port

// ErrConnectionClosed is returned once the bridge has closed the WebSocket.
// Read errors wrap it so the controller reports a disconnect.
var ErrConnectionClosed = errors.New("websocket connection closed")

const wsCloseTimeout = time.Second

// WebSocketConnection carries raw validator bytes in binary WebSocket
// messages. One goroutine may read while another writes, as the
// controller does.
type WebSocketConnection struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int
	closed    atomic.Bool
	closeOnce sync.Once
}

// Read returns bytes from the current binary message, fetching the next
// one when it is used up
func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}
	if w.closed.Load() {
		return 0, ErrConnectionClosed
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed.Store(true)
			return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}

		// Text frames are bridge chatter, not validator bytes
		if messageType != websocket.BinaryMessage {
			continue
		}

		w.buf = data
		w.bufOffset = copy(p, w.buf)
		return w.bufOffset, nil
	}
}

// Write sends p as one binary message
func (w *WebSocketConnection) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, ErrConnectionClosed
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame to the bridge and releases the socket
func (w *WebSocketConnection) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseTimeout))
		err = w.conn.Close()
	})
	return err
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("BILLSTAT_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// ConnectionOpener resolves the configured transport into an Opener and a
// human-readable description. The WebSocket password is asked for once, here,
// so the controller can reopen the connection without prompting.
func ConnectionOpener() (validator.Opener, string, error) {
	if u := config.GetString("url"); u != "" {
		username := config.GetString("username")
		skipVerify := config.GetBool("no_ssl_verify")

		password := ""
		if username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		opener := func(string) (validator.Port, error) {
			return OpenWebSocketConnection(u, username, password, skipVerify)
		}
		return opener, fmt.Sprintf("WebSocket: %s", u), nil
	}

	if device := config.GetString("device"); device != "" {
		return validator.SerialOpener, device, nil
	}

	return nil, "", errors.New("either --port or --url must be specified")
}

// OpenConnection opens either a serial or WebSocket connection based on
// the configuration
func OpenConnection() (Connection, string, error) {
	opener, device, err := ConnectionOpener()
	if err != nil {
		return nil, "", err
	}

	conn, err := opener(device)
	if err != nil {
		return nil, "", err
	}

	info := device
	if !strings.HasPrefix(info, "WebSocket:") {
		info = fmt.Sprintf("Serial: %s @ %d baud 7E1", device, validator.BaudRate)
	}
	log.Infof("action: connect | result: success | connection: %s", info)
	return conn, info, nil
}
