package wsendpoint_test

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/watt-toolkit/wsendpoint/pkg/wsendpoint"
)

func listenOnFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

type capturingHandler struct {
	mu       sync.Mutex
	messages [][]byte
	opened   chan struct{}
	closedCh chan struct{}
}

func newCapturingHandler() *capturingHandler {
	return &capturingHandler{
		opened:   make(chan struct{}, 1),
		closedCh: make(chan struct{}, 1),
	}
}

func (h *capturingHandler) OnOpen(c *wsendpoint.Connection) any {
	select {
	case h.opened <- struct{}{}:
	default:
	}
	return nil
}

func (h *capturingHandler) OnMessage(c *wsendpoint.Connection, userData any, dataType wsendpoint.DataType, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, append([]byte(nil), payload...))
}

func (h *capturingHandler) OnClose(c *wsendpoint.Connection, userData any) {
	select {
	case h.closedCh <- struct{}{}:
	default:
	}
}

func TestServerClientEchoRoundTrip(t *testing.T) {
	port := listenOnFreePort(t)
	serverHandler := newCapturingHandler()

	server, err := wsendpoint.OpenServer(wsendpoint.ServerConfig{
		Address: "127.0.0.1",
		Port:    port,
		Handler: wsendpoint.HandlerFuncs{
			OnMessageFunc: func(c *wsendpoint.Connection, userData any, dataType wsendpoint.DataType, payload []byte) {
				serverHandler.OnMessage(c, userData, dataType, payload)
				_ = c.Send(dataType, payload)
			},
			OnOpenFunc:  serverHandler.OnOpen,
			OnCloseFunc: serverHandler.OnClose,
		},
	})
	if err != nil {
		t.Fatalf("OpenServer() error = %v", err)
	}
	defer server.Close()

	clientHandler := newCapturingHandler()
	client, err := wsendpoint.OpenClient(wsendpoint.ClientConfig{
		Address:  "127.0.0.1",
		Port:     port,
		Host:     "127.0.0.1",
		Endpoint: "/",
		Handler:  clientHandler,
	})
	if err != nil {
		t.Fatalf("OpenClient() error = %v", err)
	}

	if !client.Connection().IsConnected() {
		t.Fatalf("client connection not connected after OpenClient returned")
	}

	if err := client.Connection().Send(wsendpoint.Text, []byte("Hello")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		clientHandler.mu.Lock()
		n := len(clientHandler.messages)
		clientHandler.mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for echoed message")
		case <-time.After(10 * time.Millisecond):
		}
	}

	clientHandler.mu.Lock()
	got := string(clientHandler.messages[0])
	clientHandler.mu.Unlock()
	if got != "Hello" {
		t.Fatalf("echoed message = %q, want %q", got, "Hello")
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case <-clientHandler.closedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client on_close")
	}
}

func TestServerRejectsSecondCloseGracefully(t *testing.T) {
	port := listenOnFreePort(t)
	server, err := wsendpoint.OpenServer(wsendpoint.ServerConfig{
		Address: "127.0.0.1",
		Port:    port,
		Handler: wsendpoint.HandlerFuncs{},
	})
	if err != nil {
		t.Fatalf("OpenServer() error = %v", err)
	}
	if err := server.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := server.Close(); err != nil {
		t.Fatalf("second Close() error = %v, want nil", err)
	}
}

func TestOpenClientFailsWhenNoListener(t *testing.T) {
	port := listenOnFreePort(t)
	_, err := wsendpoint.OpenClient(wsendpoint.ClientConfig{
		Address:     "127.0.0.1",
		Port:        port,
		Host:        "127.0.0.1",
		Endpoint:    "/",
		Handler:     wsendpoint.HandlerFuncs{},
		DialTimeout: time.Second,
	})
	if err == nil {
		t.Fatal("OpenClient() succeeded against an address with no listener")
	}
}
