package wsendpoint

import "testing"

func TestComputeAcceptKeyKnownVector(t *testing.T) {
	// The literal example from RFC 6455 section 1.3.
	got := ComputeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("ComputeAcceptKey = %q, want %q", got, want)
	}
}

func TestParseServerHandshakeRequest(t *testing.T) {
	req := "GET /chat HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"\r\n" +
		"trailing"

	key, consumed, status, err := ParseServerHandshakeRequest([]byte(req))
	if status != HandshakeComplete || err != nil {
		t.Fatalf("status = %v, err = %v, want HandshakeComplete, nil", status, err)
	}
	if key != "dGhlIHNhbXBsZSBub25jZQ==" {
		t.Fatalf("key = %q, want %q", key, "dGhlIHNhbXBsZSBub25jZQ==")
	}
	if req[consumed:] != "trailing" {
		t.Fatalf("leftover after consumed = %q, want %q", req[consumed:], "trailing")
	}
}

func TestParseServerHandshakeRequestNeedMore(t *testing.T) {
	partial := "GET /chat HTTP/1.1\r\nHost: example.com\r\n"
	_, _, status, err := ParseServerHandshakeRequest([]byte(partial))
	if status != HandshakeNeedMore || err != nil {
		t.Fatalf("status = %v, err = %v, want HandshakeNeedMore, nil", status, err)
	}
}

func TestParseServerHandshakeRequestMissingKey(t *testing.T) {
	req := "GET /chat HTTP/1.1\r\nHost: example.com\r\n\r\n"
	_, _, status, err := ParseServerHandshakeRequest([]byte(req))
	if status != HandshakeMalformed {
		t.Fatalf("status = %v, want HandshakeMalformed", status)
	}
	if err != ErrMissingKey {
		t.Fatalf("err = %v, want ErrMissingKey", err)
	}
}

func TestParseServerHandshakeRequestShortKey(t *testing.T) {
	req := "GET /chat HTTP/1.1\r\nSec-WebSocket-Key: tooshort\r\n\r\n"
	_, _, status, err := ParseServerHandshakeRequest([]byte(req))
	if status != HandshakeMalformed {
		t.Fatalf("status = %v, want HandshakeMalformed", status)
	}
	if err != ErrBadHandshakeRequest {
		t.Fatalf("err = %v, want ErrBadHandshakeRequest", err)
	}
}

func TestBuildServerHandshakeResponse(t *testing.T) {
	resp := string(BuildServerHandshakeResponse("dGhlIHNhbXBsZSBub25jZQ=="))
	want := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n" +
		"\r\n"
	if resp != want {
		t.Fatalf("response = %q, want %q", resp, want)
	}
}

func TestGenerateClientKeyLength(t *testing.T) {
	key, err := GenerateClientKey()
	if err != nil {
		t.Fatalf("GenerateClientKey() error = %v", err)
	}
	// 16 raw bytes base64-encode to 24 characters.
	if len(key) != 24 {
		t.Fatalf("len(key) = %d, want 24", len(key))
	}
}

func TestParseClientHandshakeResponseAcceptsMatchingToken(t *testing.T) {
	key := "dGhlIHNhbXBsZSBub25jZQ=="
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n" +
		"\r\n"
	_, status, err := ParseClientHandshakeResponse([]byte(resp), key)
	if status != HandshakeComplete || err != nil {
		t.Fatalf("status = %v, err = %v, want HandshakeComplete, nil", status, err)
	}
}

func TestParseClientHandshakeResponseRejectsMismatchedToken(t *testing.T) {
	key := "dGhlIHNhbXBsZSBub25jZQ=="
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Sec-WebSocket-Accept: not-the-right-token==\r\n" +
		"\r\n"
	_, status, err := ParseClientHandshakeResponse([]byte(resp), key)
	if status != HandshakeMalformed {
		t.Fatalf("status = %v, want HandshakeMalformed", status)
	}
	if err != ErrBadAcceptToken {
		t.Fatalf("err = %v, want ErrBadAcceptToken", err)
	}
}
