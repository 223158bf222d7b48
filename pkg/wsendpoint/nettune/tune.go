// Package nettune applies socket-level tuning to the connections a
// Server accepts or a Client dials. The options here matter more for a
// WebSocket endpoint than for a generic HTTP server: connections are
// long-lived and latency-sensitive, so disabling Nagle's algorithm and
// enabling keepalive are worth doing unconditionally.
//
// Grounded on shockwave/pkg/shockwave/socket's tuning.go/tuning_linux.go
// split. That package talks to the kernel through raw syscall numbers
// and leaves a comment noting "In production, you'd use
// golang.org/x/sys/unix for proper TCPInfo access" (tuning_linux.go);
// this package takes that comment at its word and uses
// golang.org/x/sys/unix instead of syscall for the Linux-specific path.
package nettune

import (
	"net"
	"syscall"
)

// Config controls which socket options Apply sets. The zero value
// applies no optional tuning beyond what Apply always does.
type Config struct {
	// QuickAck requests TCP_QUICKACK on Linux to avoid the ~40ms delayed
	// ACK timer. No-op on other platforms.
	QuickAck bool

	// RecvBuffer and SendBuffer set SO_RCVBUF/SO_SNDBUF when non-zero.
	RecvBuffer int
	SendBuffer int
}

// Default returns tuning suited to an interactive WebSocket connection:
// small, frequent messages rather than bulk throughput.
func Default() *Config {
	return &Config{QuickAck: true}
}

// Apply disables Nagle's algorithm, enables TCP keepalive, and applies
// any platform-specific options in cfg. conn is typically the net.Conn a
// Server just accepted or a Client just dialed. Non-TCP connections
// (e.g. a net.Pipe used in tests) are left untouched.
func Apply(conn net.Conn, cfg *Config) error {
	if cfg == nil {
		cfg = Default()
	}

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}

	if err := tcpConn.SetNoDelay(true); err != nil {
		return err
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		return err
	}

	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return err
	}

	var ctrlErr error
	err = rawConn.Control(func(fd uintptr) {
		if cfg.RecvBuffer > 0 {
			_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, cfg.RecvBuffer)
		}
		if cfg.SendBuffer > 0 {
			_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_SNDBUF, cfg.SendBuffer)
		}
		applyPlatformOptions(int(fd), cfg)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}
