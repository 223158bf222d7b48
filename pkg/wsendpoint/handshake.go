package wsendpoint

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"
)

// HandshakeStatus mirrors ParseStatus for the opening-handshake phase of
// the connection state machine (section 4.3's Handshake state).
type HandshakeStatus int

const (
	HandshakeNeedMore HandshakeStatus = iota
	HandshakeComplete
	HandshakeMalformed
)

const wsKeyHeader = "Sec-WebSocket-Key:"

// isGraphic reports whether b is a "graphic" (non-whitespace, printable)
// ASCII byte, matching the original parser's isgraph() check used to scan
// past leading whitespace and to bound the key token.
func isGraphic(b byte) bool {
	return b > 0x20 && b < 0x7F
}

// ComputeAcceptKey computes Sec-WebSocket-Accept from a client's
// Sec-WebSocket-Key per RFC 6455 Section 1.3: base64(sha1(key || GUID)).
func ComputeAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ParseServerHandshakeRequest scans buf for a complete HTTP upgrade
// request terminated by CRLF CRLF and extracts the Sec-WebSocket-Key
// value. On HandshakeMalformed, err names the specific defect.
//
// Grounded on original_source/src/websocket.c's parseHttpHeader: find the
// "Sec-WebSocket-Key:" token, skip whitespace, then read graphic
// (non-whitespace, printable) characters up to a 24-character Base64 key.
// Fewer than 24 graphic characters before non-graphic termination is a
// malformed request, matching the original's WS_HS_KEY_LEN bound.
func ParseServerHandshakeRequest(buf []byte) (key string, consumed int, status HandshakeStatus, err error) {
	term := strings.Index(string(buf), "\r\n\r\n")
	if term < 0 {
		return "", 0, HandshakeNeedMore, nil
	}
	headerLen := term + 4
	header := buf[:headerLen]

	idx := strings.Index(string(header), wsKeyHeader)
	if idx < 0 {
		return "", 0, HandshakeMalformed, ErrMissingKey
	}
	pos := idx + len(wsKeyHeader)
	for pos < len(header) && !isGraphic(header[pos]) {
		pos++
	}

	start := pos
	for pos < len(header) && isGraphic(header[pos]) {
		pos++
	}
	keyBytes := header[start:pos]
	if len(keyBytes) != 24 {
		return "", 0, HandshakeMalformed, ErrBadHandshakeRequest
	}

	return string(keyBytes), headerLen, HandshakeComplete, nil
}

// BuildServerHandshakeResponse builds the literal 101 Switching Protocols
// response bytes for the given Sec-WebSocket-Key.
func BuildServerHandshakeResponse(key string) []byte {
	accept := ComputeAcceptKey(key)
	return []byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n" +
		"\r\n")
}

// GenerateClientKey draws 16 cryptographically secure random bytes and
// Base64-encodes them for use as Sec-WebSocket-Key.
//
// The original C implementation seeds a non-cryptographic PRNG for the
// key and the per-frame mask; spec.md section 9 flags this as a bug and
// calls for a secure source in the rewrite, so crypto/rand is used
// throughout this module instead.
func GenerateClientKey() (string, error) {
	var raw [16]byte
	if _, err := randRead(raw[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw[:]), nil
}

// BuildClientHandshakeRequest builds the literal GET Upgrade request for
// the given endpoint path, host:port, and previously generated key.
func BuildClientHandshakeRequest(host string, port int, endpoint, key string) []byte {
	return []byte(fmt.Sprintf(
		"GET %s HTTP/1.1\r\n"+
			"Host: %s:%d\r\n"+
			"Upgrade: websocket\r\n"+
			"Connection: Upgrade\r\n"+
			"Sec-WebSocket-Key: %s\r\n"+
			"Sec-WebSocket-Version: 13\r\n"+
			"\r\n",
		endpoint, host, port, key))
}

const wsAcceptHeader = "Sec-WebSocket-Accept:"

// ParseClientHandshakeResponse scans buf for a complete HTTP response and
// extracts the Sec-WebSocket-Accept value, verifying it against the
// accept token expected for wsKey. On HandshakeMalformed, err names the
// specific defect.
func ParseClientHandshakeResponse(buf []byte, wsKey string) (consumed int, status HandshakeStatus, err error) {
	term := strings.Index(string(buf), "\r\n\r\n")
	if term < 0 {
		return 0, HandshakeNeedMore, nil
	}
	headerLen := term + 4
	header := buf[:headerLen]

	idx := strings.Index(string(header), wsAcceptHeader)
	if idx < 0 {
		return 0, HandshakeMalformed, ErrBadHandshakeRequest
	}
	pos := idx + len(wsAcceptHeader)
	for pos < len(header) && !isGraphic(header[pos]) {
		pos++
	}
	start := pos
	for pos < len(header) && isGraphic(header[pos]) {
		pos++
	}
	accept := string(header[start:pos])

	if accept != ComputeAcceptKey(wsKey) {
		return headerLen, HandshakeMalformed, ErrBadAcceptToken
	}
	return headerLen, HandshakeComplete, nil
}
