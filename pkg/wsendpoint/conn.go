package wsendpoint

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/watt-toolkit/wsendpoint/pkg/wsendpoint/dynbuf"
	"github.com/watt-toolkit/wsendpoint/pkg/wsendpoint/utf8stream"
)

// Role distinguishes which side of the handshake a Connection plays,
// which in turn governs masking direction (section 4.3: servers receive
// only masked frames, clients only unmasked ones).
//
// The source this library replaces discriminates Server/Client with a
// tagged union (wsType); section 9's design notes call for a true sum
// type instead so role-specific fields are never aliased. Connection
// keeps both roles in one struct for simplicity of the state machine,
// but isolates the client-only fields in a separate clientState so a
// server Connection never allocates them.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// State is a Connection's position in the one-way state machine of
// section 4.3: Handshake -> Connected -> Closed.
type State int

const (
	StateHandshake State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// partialMessageTimeout is the inactivity bound on an in-flight
// fragmented message (section 4.3's partial-message timeout).
const partialMessageTimeout = 30 * time.Second

// Transport is the bidirectional byte-stream abstraction the connection
// state machine is driven by (section 6's transport contract). A
// Connection never touches a socket directly; it only calls Send and
// RequestClose and is in turn fed bytes through Feed.
type Transport interface {
	// Send writes data to the peer. Implementations should treat partial
	// writes as an error rather than silently dropping bytes.
	Send(data []byte) error
	// RequestClose asks the transport to tear itself down. It must be
	// safe to call more than once.
	RequestClose()
}

// Handler receives the three lifecycle callbacks a Connection invokes:
// on_open, on_message, on_close (section 6). This replaces the source's
// function-pointer-plus-void* callback shape with a single capability
// interface, per section 9's design notes.
//
// Callbacks run on the connection's own worker; per section 5 they must
// not block indefinitely, and per section 7 their return values only
// ever set per-connection user data, never alter the protocol outcome.
type Handler interface {
	// OnOpen fires once the handshake succeeds and the connection enters
	// Connected. Its return value becomes the connection's per-connection
	// user data, retrievable via Connection.UserData and handed back on
	// every later callback.
	OnOpen(c *Connection) any
	OnMessage(c *Connection, userData any, dataType DataType, payload []byte)
	OnClose(c *Connection, userData any)
}

// HandlerFuncs adapts plain functions to the Handler interface, letting
// callers that only care about one or two callbacks skip defining the
// others. Grounded on bolt's LegacyHandlerFunc adapter idiom.
type HandlerFuncs struct {
	OnOpenFunc    func(c *Connection) any
	OnMessageFunc func(c *Connection, userData any, dataType DataType, payload []byte)
	OnCloseFunc   func(c *Connection, userData any)
}

func (h HandlerFuncs) OnOpen(c *Connection) any {
	if h.OnOpenFunc == nil {
		return nil
	}
	return h.OnOpenFunc(c)
}

func (h HandlerFuncs) OnMessage(c *Connection, userData any, dataType DataType, payload []byte) {
	if h.OnMessageFunc != nil {
		h.OnMessageFunc(c, userData, dataType, payload)
	}
}

func (h HandlerFuncs) OnClose(c *Connection, userData any) {
	if h.OnCloseFunc != nil {
		h.OnCloseFunc(c, userData)
	}
}

// partialMessage tracks a message being assembled from fragments
// (section 3's PartialMessage).
type partialMessage struct {
	dataType      DataType
	firstReceived bool
	complete      bool
	validator     utf8stream.Validator
	payload       *dynbuf.Buffer
}

// clientState holds the fields only a client-role Connection needs:
// the handshake target and the key used to verify the server's accept
// token, plus the synchronization used to make the opening call block.
type clientState struct {
	host          string
	port          int
	endpoint      string
	key           string
	handshakeDone chan struct{}
	handshakeErr  error
}

// Connection drives one WebSocket dialogue end to end: handshake, frame
// parsing, fragment reassembly, control-frame handling, and outbound
// framing. It is the direct analogue of section 4.3's connection state
// machine.
//
// A Connection's wire-facing methods (Feed, CheckTimeouts) are meant to
// be called from exactly one worker goroutine, matching section 5's "no
// two callbacks for the same connection execute concurrently" ordering
// guarantee. Send, SendFragmentedStart, SendFragmentedCont, Close, and
// CloseWithReason may be called from any goroutine: outbound writes
// serialize through writeMu, and the fields a Close call touches
// (partial, weSentClose) serialize through mu, the same lock the
// worker's teardown takes for the close-status fields and state.
type Connection struct {
	role      Role
	transport Transport
	handler   Handler

	writeMu sync.Mutex

	// mu guards every field below that a caller of Close/CloseWithReason
	// (any goroutine) might touch concurrently with the worker goroutine
	// driving Feed/CheckTimeouts. recv and partial's payload buffer are
	// worker-owned and not covered by mu; see the Connection doc comment.
	mu                  sync.Mutex
	state               State
	partial             *partialMessage
	partialTimeoutStart time.Time
	partialTimeoutSet   bool
	weSentClose         bool
	closeCode           CloseCode
	closeReason         string
	closePeerInitiated  bool
	closeCause          error
	handshakeErr        error

	recv *dynbuf.Buffer

	userData any

	closeOnce      sync.Once
	closeRequested atomic.Bool

	client *clientState
}

// NewServerConnection constructs a Connection in the Handshake state for
// a freshly accepted transport.
func NewServerConnection(transport Transport, handler Handler) *Connection {
	return &Connection{
		role:      RoleServer,
		transport: transport,
		handler:   handler,
		state:     StateHandshake,
		recv:      dynbuf.Get(),
	}
}

// NewClientConnection constructs a Connection in the Handshake state for
// a freshly dialed transport, generating the Sec-WebSocket-Key and
// sending the Upgrade request immediately.
func NewClientConnection(transport Transport, handler Handler, host string, port int, endpoint string) (*Connection, error) {
	key, err := GenerateClientKey()
	if err != nil {
		return nil, err
	}
	c := &Connection{
		role:      RoleClient,
		transport: transport,
		handler:   handler,
		state:     StateHandshake,
		recv:      dynbuf.Get(),
		client: &clientState{
			host:          host,
			port:          port,
			endpoint:      endpoint,
			key:           key,
			handshakeDone: make(chan struct{}),
		},
	}
	if err := transport.Send(BuildClientHandshakeRequest(host, port, endpoint, key)); err != nil {
		return nil, err
	}
	return c, nil
}

// State returns the connection's current position in the state machine.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the handshake has completed and the
// connection has not yet closed.
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// UserData returns the value the Handler's OnOpen callback returned.
func (c *Connection) UserData() any {
	return c.userData
}

// WaitHandshake blocks until a client connection's opening handshake
// completes or timeout elapses, returning the handshake's outcome.
// Server connections (which have no synchronous open call) always
// return immediately with a nil error.
func (c *Connection) WaitHandshake(timeout time.Duration) error {
	if c.client == nil {
		return nil
	}
	select {
	case <-c.client.handshakeDone:
		return c.client.handshakeErr
	case <-time.After(timeout):
		return ErrHandshakeTimeout
	}
}

// HandshakeErr returns the reason the opening handshake failed, for
// either role. It is nil until the handshake fails; WaitHandshake is the
// client's synchronous equivalent.
func (c *Connection) HandshakeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshakeErr
}

// Feed appends newly received bytes to the connection's accumulator and
// pumps the state machine until it can make no further progress
// (section 4.3's byte-driven dispatch). It is the sole entry point by
// which transport bytes reach the state machine.
func (c *Connection) Feed(data []byte) {
	if c.State() == StateClosed {
		return
	}
	c.recv.Write(data)
	c.pump()
}

// pump drives the state machine forward as far as the current contents
// of recv allow, consuming bytes from recv as it goes.
func (c *Connection) pump() {
	for {
		switch c.State() {
		case StateClosed:
			c.recv.Reset()
			return
		case StateHandshake:
			if !c.pumpHandshake() {
				return
			}
		case StateConnected:
			if !c.pumpFrame() {
				return
			}
		}
	}
}

func (c *Connection) pumpHandshake() bool {
	if c.role == RoleServer {
		key, consumed, status, parseErr := ParseServerHandshakeRequest(c.recv.Bytes())
		switch status {
		case HandshakeNeedMore:
			return false
		case HandshakeMalformed:
			c.abortHandshake(parseErr)
			return false
		}
		c.recv.ConsumePrefix(consumed)
		if err := c.transport.Send(BuildServerHandshakeResponse(key)); err != nil {
			c.abortHandshake(err)
			return false
		}
		c.enterConnected()
		return true
	}

	consumed, status, parseErr := ParseClientHandshakeResponse(c.recv.Bytes(), c.client.key)
	switch status {
	case HandshakeNeedMore:
		return false
	case HandshakeMalformed:
		c.client.handshakeErr = parseErr
		close(c.client.handshakeDone)
		c.abortHandshake(parseErr)
		return false
	}
	c.recv.ConsumePrefix(consumed)
	close(c.client.handshakeDone)
	c.enterConnected()
	return true
}

// abortHandshake tears the connection down before the handshake ever
// completed, recording why. No on_close fires: on_open never ran, so
// there is nothing for invariant 3.7's "exactly one on_close per
// successful on_open" to count.
func (c *Connection) abortHandshake(err error) {
	c.mu.Lock()
	c.handshakeErr = err
	c.mu.Unlock()
	c.setState(StateClosed)
	c.transport.RequestClose()
}

func (c *Connection) enterConnected() {
	c.setState(StateConnected)
	if c.handler != nil {
		c.userData = c.handler.OnOpen(c)
	}
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// pumpFrame parses and handles exactly one frame from recv, returning
// true if it made progress (so pump should loop again).
func (c *Connection) pumpFrame() bool {
	header, status, parseErr := ParseFrameHeader(c.recv.Bytes())
	switch status {
	case NeedMore:
		c.markWaiting()
		return false
	case Malformed:
		c.clearWaiting()
		c.closeWithCode(CloseProtocolError, "", parseErr)
		return false
	}

	total := header.HeaderLength + int(header.PayloadLength)
	if c.recv.Len() < total {
		c.markWaiting()
		return false
	}
	c.clearWaiting()

	expectMasked := c.role == RoleServer
	if header.Masked != expectMasked {
		cause := ErrMaskForbidden
		if expectMasked {
			cause = ErrMaskRequired
		}
		c.closeWithCode(CloseProtocolError, "", cause)
		return false
	}

	payload := make([]byte, header.PayloadLength)
	copy(payload, c.recv.Bytes()[header.HeaderLength:total])
	if header.Masked {
		MaskBytes(payload, header.Mask)
	}
	c.recv.ConsumePrefix(total)

	switch header.Opcode {
	case OpcodeText, OpcodeBinary:
		c.handleFirstDataFrame(DataType(header.Opcode), header.Fin, payload)
	case OpcodeContinuation:
		c.handleContinuation(header.Fin, payload)
	case OpcodePing:
		c.handlePing(payload)
	case OpcodePong:
		// This implementation never originates pings, so an inbound pong
		// is simply dropped.
	case OpcodeClose:
		c.handleClose(payload)
	}
	return c.State() != StateClosed
}

// markWaiting arms the inactivity timer the first time the state machine
// observes an incomplete frame — whether that's a standalone first frame
// whose header or payload hasn't fully arrived yet (c.partial still nil)
// or a continuation of an already in-flight fragmented message. Matches
// original_source/src/websocket.c:1431-1448, reached from parseMessage's
// short-buffer check at websocket.c:1097, which arms on any short read
// rather than only once a PartialMessage exists.
func (c *Connection) markWaiting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.partialTimeoutSet {
		return
	}
	c.partialTimeoutStart = time.Now()
	c.partialTimeoutSet = true
}

func (c *Connection) clearWaiting() {
	c.mu.Lock()
	c.partialTimeoutSet = false
	c.mu.Unlock()
}

// CheckTimeouts discards an in-flight partial message, and any
// accumulated bytes of a stalled single frame, once idle past
// partialMessageTimeout. It must be called periodically by whatever
// drives Feed (the transport worker's read-poll tick, section 5), since
// no frame arriving at all means pump is never otherwise invoked. This
// is the only bound on how long a peer can pin the recv accumulator by
// advertising a large payload length and then stalling, since neither
// frame.go nor the pump otherwise caps payload size ahead of receipt.
func (c *Connection) CheckTimeouts() {
	if c.State() != StateConnected {
		return
	}
	c.mu.Lock()
	if !c.partialTimeoutSet || time.Since(c.partialTimeoutStart) <= partialMessageTimeout {
		c.mu.Unlock()
		return
	}
	stale := c.partial
	c.partial = nil
	c.partialTimeoutSet = false
	c.mu.Unlock()

	if stale != nil && stale.payload != nil {
		stale.payload.Release()
	}
	c.recv.Reset()
}

func (c *Connection) handleFirstDataFrame(dataType DataType, fin bool, payload []byte) {
	c.mu.Lock()
	hasPartial := c.partial != nil
	c.mu.Unlock()
	if hasPartial {
		c.closeWithCode(CloseProtocolError, "", ErrProtocolViolation)
		return
	}

	pm := &partialMessage{
		dataType:      dataType,
		firstReceived: true,
		complete:      fin,
		payload:       dynbuf.Get(),
	}
	pm.payload.Write(payload)

	if dataType == Text {
		state := pm.validator.Feed(payload)
		if fin && state != utf8stream.OK {
			pm.payload.Release()
			c.closeWithCode(CloseInvalidFramePayload, "", ErrInvalidUTF8)
			return
		}
		if !fin && state == utf8stream.Fail {
			pm.payload.Release()
			c.closeWithCode(CloseInvalidFramePayload, "", ErrInvalidUTF8)
			return
		}
	}

	if fin {
		c.deliver(pm)
		return
	}
	c.mu.Lock()
	c.partial = pm
	c.mu.Unlock()
}

func (c *Connection) handleContinuation(fin bool, payload []byte) {
	c.mu.Lock()
	pm := c.partial
	c.mu.Unlock()
	if pm == nil || !pm.firstReceived {
		c.closeWithCode(CloseProtocolError, "", ErrProtocolViolation)
		return
	}
	pm.payload.Write(payload)

	if pm.dataType == Text {
		state := pm.validator.Feed(payload)
		if fin && state != utf8stream.OK {
			c.mu.Lock()
			c.partial = nil
			c.mu.Unlock()
			pm.payload.Release()
			c.closeWithCode(CloseInvalidFramePayload, "", ErrInvalidUTF8)
			return
		}
		if !fin && state == utf8stream.Fail {
			c.mu.Lock()
			c.partial = nil
			c.mu.Unlock()
			pm.payload.Release()
			c.closeWithCode(CloseInvalidFramePayload, "", ErrInvalidUTF8)
			return
		}
	}

	if !fin {
		return
	}
	pm.complete = true
	c.mu.Lock()
	c.partial = nil
	c.mu.Unlock()
	c.deliver(pm)
}

func (c *Connection) deliver(pm *partialMessage) {
	body := make([]byte, pm.payload.Len())
	copy(body, pm.payload.Bytes())
	pm.payload.Release()
	if c.handler != nil {
		c.handler.OnMessage(c, c.userData, pm.dataType, body)
	}
}

func (c *Connection) handlePing(payload []byte) {
	if len(payload) > MaxControlFramePayload {
		c.closeWithCode(CloseProtocolError, "", ErrControlFrameTooLong)
		return
	}
	c.writeControlFrame(OpcodePong, payload)
}

func (c *Connection) handleClose(payload []byte) {
	if len(payload) == 1 {
		c.closeWithCode(CloseProtocolError, "", ErrProtocolViolation)
		return
	}
	if len(payload) > MaxControlFramePayload {
		c.closeWithCode(CloseProtocolError, "", ErrControlFrameTooLong)
		return
	}

	if len(payload) == 0 {
		c.teardown(CloseNormalClosure, "", true, nil)
		return
	}

	code := CloseCode(binary.BigEndian.Uint16(payload[:2]))
	if !isValidCloseCode(code) {
		c.closeWithCode(CloseProtocolError, "", ErrInvalidCloseCode)
		return
	}
	reason := payload[2:]
	if !utf8stream.Valid(reason) {
		c.closeWithCode(CloseInvalidFramePayload, "", ErrInvalidUTF8)
		return
	}

	c.mu.Lock()
	weSentClose := c.weSentClose
	c.mu.Unlock()
	if weSentClose {
		// This close frame is the peer's echo of one we initiated;
		// nothing left to send.
		c.teardown(code, string(reason), false, nil)
		return
	}

	// Peer initiated: echo the same payload back before tearing down.
	c.writeControlFrame(OpcodeClose, payload)
	c.teardown(code, string(reason), true, nil)
}

// closeWithCode sends a Close frame and tears the connection down in
// response to a violation this side detected locally (bad opcode, wrong
// mask direction, invalid UTF-8, and so on). Section 7 says such errors
// are recovered by emitting the appropriate close frame rather than
// surfaced to the caller, so these are never peer-initiated closes. cause
// is the specific sentinel identifying the violation, surfaced later via
// CloseErr.
func (c *Connection) closeWithCode(code CloseCode, reason string, cause error) {
	c.finishClose(code, reason, false, cause)
}

func (c *Connection) finishClose(code CloseCode, reason string, peerInitiated bool, cause error) {
	if c.State() == StateClosed {
		return
	}
	c.mu.Lock()
	sentClose := c.weSentClose
	c.mu.Unlock()
	if !sentClose {
		c.writeControlFrame(OpcodeClose, buildClosePayload(code, reason))
	}
	c.teardown(code, reason, peerInitiated, cause)
}

func (c *Connection) teardown(code CloseCode, reason string, peerInitiated bool, cause error) {
	c.mu.Lock()
	wasOpen := c.state != StateClosed
	c.state = StateClosed
	c.closeCode = code
	c.closeReason = reason
	c.closePeerInitiated = peerInitiated
	c.closeCause = cause
	stale := c.partial
	c.partial = nil
	c.mu.Unlock()

	if stale != nil && stale.payload != nil {
		stale.payload.Release()
	}
	c.recv.Release()
	c.transport.RequestClose()
	if wasOpen {
		c.closeOnce.Do(func() {
			if c.handler != nil {
				c.handler.OnClose(c, c.userData)
			}
		})
	}
}

// CloseStatus reports the code, reason, and initiator of the close
// handshake that ended the connection. It is only meaningful once State
// returns StateClosed.
func (c *Connection) CloseStatus() (code CloseCode, reason string, peerInitiated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason, c.closePeerInitiated
}

// CloseErr returns the reason the connection closed as a *CloseError, or
// nil if it has not yet closed. Unlike CloseStatus, it carries the
// specific sentinel (if any) that drove a locally detected close, so a
// caller can errors.Is/As against the underlying violation rather than
// only inspecting the numeric CloseCode.
func (c *Connection) CloseErr() *CloseError {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		return nil
	}
	return &CloseError{
		Code:          c.closeCode,
		Reason:        c.closeReason,
		PeerInitiated: c.closePeerInitiated,
		Cause:         c.closeCause,
	}
}

// HandleTransportFailure moves the connection straight to Closed without
// emitting a close frame, for the case where the underlying transport is
// already gone (read returned an error, or a write failed). Section 7:
// "connection transitions to Closed; no frame is emitted; on_close
// fires."
func (c *Connection) HandleTransportFailure() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	wasOpen := c.state == StateConnected
	c.state = StateClosed
	c.closeCode = CloseAbnormalClosure
	c.closePeerInitiated = false
	c.closeCause = ErrConnectionClosed
	stale := c.partial
	c.partial = nil
	c.mu.Unlock()

	if stale != nil && stale.payload != nil {
		stale.payload.Release()
	}
	c.recv.Release()
	if wasOpen {
		c.closeOnce.Do(func() {
			if c.handler != nil {
				c.handler.OnClose(c, c.userData)
			}
		})
	}
}

func buildClosePayload(code CloseCode, reason string) []byte {
	buf := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(buf[:2], uint16(code))
	copy(buf[2:], reason)
	return buf
}

func (c *Connection) writeControlFrame(opcode Opcode, payload []byte) error {
	if opcode == OpcodeClose {
		c.mu.Lock()
		c.weSentClose = true
		c.mu.Unlock()
	}
	return c.writeFrame(opcode, true, payload)
}

func (c *Connection) writeFrame(opcode Opcode, fin bool, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	masked := c.role == RoleClient
	var mask [4]byte
	out := payload
	if masked {
		if _, err := randRead(mask[:]); err != nil {
			return err
		}
		out = make([]byte, len(payload))
		copy(out, payload)
		MaskBytes(out, mask)
	}

	header := BuildFrameHeader(opcode, fin, masked, mask, uint64(len(payload)))
	buf := make([]byte, 0, len(header)+len(out))
	buf = append(buf, header...)
	buf = append(buf, out...)
	return c.transport.Send(buf)
}

// Send transmits a complete, unfragmented message.
func (c *Connection) Send(dataType DataType, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.writeFrame(Opcode(dataType), true, payload)
}

// SendFragmentedStart begins a fragmented outbound message. Further
// fragments must be sent with SendFragmentedCont, the last of which has
// fin=true.
func (c *Connection) SendFragmentedStart(dataType DataType, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.writeFrame(Opcode(dataType), false, payload)
}

// SendFragmentedCont sends a continuation fragment of a message started
// with SendFragmentedStart.
func (c *Connection) SendFragmentedCont(fin bool, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.writeFrame(OpcodeContinuation, fin, payload)
}

// Close initiates the close handshake with the given code and an empty
// reason, per section 4.3's API-driven close.
func (c *Connection) Close(code CloseCode) error {
	return c.CloseWithReason(code, "")
}

// CloseWithReason initiates the close handshake with the given code and
// UTF-8 reason string. Unlike Feed and CheckTimeouts, it may be called
// from any goroutine; its touches of shared connection state go through
// mu so it cannot race with the worker goroutine's pump.
//
// It sends the Close frame, drops any in-flight partial message and asks
// the transport to close. It does not itself move the connection to
// Closed or fire OnClose: both happen when the transport reports its
// teardown through HandleTransportFailure.
func (c *Connection) CloseWithReason(code CloseCode, reason string) error {
	if c.State() == StateClosed {
		return nil
	}
	// The dropped message's buffer is not released here: the worker may
	// still be writing to it.
	c.mu.Lock()
	c.partial = nil
	c.mu.Unlock()

	err := c.writeControlFrame(OpcodeClose, buildClosePayload(code, reason))
	c.closeRequested.Store(true)
	c.transport.RequestClose()
	return err
}

// randRead is a package-level indirection over crypto/rand.Read so
// writeFrame's masking key generation and GenerateClientKey share one
// secure source, matching section 9's guidance to replace the source's
// non-cryptographic mask PRNG.
var randRead = defaultRandRead

func (c *Connection) String() string {
	return fmt.Sprintf("Connection{role=%s state=%s}", c.role, c.State())
}
