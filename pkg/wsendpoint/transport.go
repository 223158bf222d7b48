package wsendpoint

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/watt-toolkit/wsendpoint/pkg/wsendpoint/nettune"
)

// readPollInterval bounds how long a read can block before the worker
// loop re-checks for a pending close request and runs the connection's
// partial-message timeout check. Section 5 calls for "a short tick
// (approximately 300ms)".
const readPollInterval = 300 * time.Millisecond

const readBufferSize = 4096

// netConnTransport is the Transport this module ships, backing a
// Connection with a plain net.Conn. Callers needing something other than
// raw TCP (a test harness, an in-memory pipe) can implement Transport
// directly instead; grounded on shockwave's Conn, which likewise wraps
// net.Conn directly rather than going through net/http's Hijacker for
// the data-plane half of the connection.
type netConnTransport struct {
	conn           net.Conn
	sendMu         sync.Mutex
	closeRequested atomic.Bool
}

func newNetConnTransport(conn net.Conn) *netConnTransport {
	if err := nettune.Apply(conn, nettune.Default()); err != nil {
		// Tuning is an optimization, not a correctness requirement; a
		// failure here must not prevent the connection from working.
		_ = err
	}
	return &netConnTransport{conn: conn}
}

func (t *netConnTransport) Send(data []byte) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	_, err := t.conn.Write(data)
	return err
}

func (t *netConnTransport) RequestClose() {
	if t.closeRequested.CompareAndSwap(false, true) {
		_ = t.conn.Close()
	}
}

// runLoop pumps inbound bytes from conn into c.Feed, using a short read
// deadline so a pending close request or connection teardown is noticed
// within one tick instead of blocking on Read indefinitely. It returns
// once the connection reaches Closed or the transport's read fails.
func (t *netConnTransport) runLoop(c *Connection) {
	buf := make([]byte, readBufferSize)
	for {
		if c.State() == StateClosed {
			return
		}
		if t.closeRequested.Load() {
			// Cooperative shutdown (Server.Close / Close / CloseWithReason)
			// forced the socket closed out from under this loop. Nothing
			// else will ever call HandleTransportFailure for this
			// connection, so do it here; it no-ops if the close handshake
			// already finished first.
			c.HandleTransportFailure()
			return
		}

		_ = t.conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, err := t.conn.Read(buf)
		if n > 0 {
			c.Feed(buf[:n])
		}
		c.CheckTimeouts()

		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			// EOF or any other read failure means the peer is gone; no
			// frame can be emitted over a dead transport.
			t.RequestClose()
			c.HandleTransportFailure()
			return
		}
	}
}
