package wsendpoint

import (
	"fmt"
	"net"
	"time"
)

// clientHandshakeTimeout bounds how long a client's opening call waits
// for the connection to leave the Handshake state (section 4.2: "If the
// handshake does not complete within 30 seconds, the open call fails").
const clientHandshakeTimeout = 30 * time.Second

// ClientConfig configures OpenClient, mirroring section 6's
// client_open(config) shape.
type ClientConfig struct {
	Address  string
	Port     int
	Host     string
	Endpoint string
	Handler  Handler

	// DialTimeout bounds the initial TCP connect. Zero uses
	// clientHandshakeTimeout.
	DialTimeout time.Duration
}

// Client owns exactly one Connection, matching section 4.4's client-side
// endpoint registry.
type Client struct {
	conn      *Connection
	transport *netConnTransport
}

// OpenClient dials config.Address:config.Port and performs the RFC 6455
// opening handshake, blocking until it completes or times out.
func OpenClient(config ClientConfig) (*Client, error) {
	dialTimeout := config.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = clientHandshakeTimeout
	}

	addr := fmt.Sprintf("%s:%d", config.Address, config.Port)
	raw, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}

	transport := newNetConnTransport(raw)
	conn, err := NewClientConnection(transport, config.Handler, config.Host, config.Port, config.Endpoint)
	if err != nil {
		transport.RequestClose()
		return nil, err
	}

	go transport.runLoop(conn)

	if err := conn.WaitHandshake(clientHandshakeTimeout); err != nil {
		transport.RequestClose()
		return nil, err
	}

	return &Client{conn: conn, transport: transport}, nil
}

// Connection returns the client's single Connection.
func (cl *Client) Connection() *Connection {
	return cl.conn
}

// Close initiates a normal-closure close handshake and tears the
// transport down.
func (cl *Client) Close() error {
	return cl.conn.Close(CloseNormalClosure)
}
