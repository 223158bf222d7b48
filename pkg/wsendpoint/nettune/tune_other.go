//go:build !linux

package nettune

// applyPlatformOptions is a no-op outside Linux: TCP_QUICKACK has no
// portable equivalent.
func applyPlatformOptions(fd int, cfg *Config) {}
