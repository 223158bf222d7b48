// Package wsendpoint implements the RFC 6455 WebSocket protocol: the
// opening handshake, frame codec, masking, fragmentation, control frames
// and close handshake, for both server-accepted and client-initiated
// connections.
//
// The protocol engine is transport-agnostic — it consumes a byte stream
// through the Transport interface and emits bytes back through it — but
// this package also ships a net.Conn-backed Transport so Server and Client
// are usable without any extra wiring. TLS, permessage-deflate and
// sub-protocol negotiation among multiple candidates are not implemented.
// Server and Client listen and dial plain TCP only; to run over TLS, a
// caller implements Transport on its own tls.Conn and drives a Connection
// from NewServerConnection or NewClientConnection through Feed.
package wsendpoint
