//go:build linux

package nettune

import "golang.org/x/sys/unix"

// applyPlatformOptions sets TCP_QUICKACK on Linux. Unlike
// tuning_linux.go's syscall.SetsockoptInt calls, this goes through
// golang.org/x/sys/unix, which keeps the option constants current with
// the kernel instead of depending on whatever subset the syscall package
// happens to export.
//
// TCP_QUICKACK is not sticky: the kernel clears it after the next ACK is
// sent, so a single call at accept time is a best-effort nudge rather
// than a persistent setting.
func applyPlatformOptions(fd int, cfg *Config) {
	if cfg.QuickAck {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1)
	}
}
