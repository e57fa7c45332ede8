package websocket

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/corewire/wsclient/internal/wslog"
)

// connState is the sum type backing a [Socket]'s lifecycle (spec §3,
// §9): a Socket is either not yet connected (holds only its dial
// target) or open (holds the live transport). Every Socket method
// other than [Socket.Connect] type-switches on this instead of
// checking a boolean flag.
type connState interface {
	isConnState()
}

type unconnectedState struct {
	url string
}

func (unconnectedState) isConnState() {}

type openState struct {
	rw            *bufio.ReadWriter
	closer        io.ReadWriteCloser
	closeSent     bool
	closeReceived bool

	// protocol and extensions hold what the server actually selected
	// in the handshake response, which may be a subset of (or
	// differently ordered than) what the client offered.
	protocol   string
	extensions []string
}

func (*openState) isConnState() {}

// Socket is a client-only connection to a WebSocket server (RFC 6455).
// It is not safe for concurrent use: every operation blocks the
// calling goroutine until it completes, and there is no internal
// scheduler or background task reading or writing on the caller's
// behalf (see the package doc for why).
type Socket struct {
	logger  zerolog.Logger
	connID  string
	client  *http.Client
	headers http.Header

	// protocols and extensions are the client's offered lists, sent
	// comma-separated in Sec-WebSocket-Protocol/-Extensions.
	protocols  []string
	extensions []string

	// nonceGen is overridden in tests for deterministic handshakes.
	nonceGen io.Reader

	// optErr carries a failure from an option applied in NewSocket
	// (e.g. WithSignedJWT's signing step) forward to Connect, since
	// NewSocket itself cannot return an error.
	optErr error

	state connState
}

// SocketOpt configures a [Socket] constructed by [NewSocket].
type SocketOpt func(*Socket)

// WithHTTPClient lets callers specify a custom [http.Client] for the
// handshake request, instead of [http.DefaultClient].
//
// Do not set a custom Timeout on the client: it would apply to the
// underlying connection for its entire lifetime, not just the
// handshake. Use a context deadline passed to [Socket.Connect] instead.
func WithHTTPClient(hc *http.Client) SocketOpt {
	return func(s *Socket) {
		s.client = hc
	}
}

// WithHTTPHeader adds a single HTTP header to the handshake request.
// Use [WithHTTPHeaders] to add several at once.
func WithHTTPHeader(key, value string) SocketOpt {
	return func(s *Socket) {
		s.headers.Add(key, value)
	}
}

// WithHTTPHeaders adds multiple HTTP headers to the handshake request.
func WithHTTPHeaders(h http.Header) SocketOpt {
	return func(s *Socket) {
		for key, values := range h {
			for _, v := range values {
				s.headers.Add(key, v)
			}
		}
	}
}

// WithLogger attaches l to the socket; every log line it emits also
// carries a per-connection correlation ID. The default is a no-op logger.
func WithLogger(l zerolog.Logger) SocketOpt {
	return func(s *Socket) {
		s.logger = l
	}
}

// WithProtocols offers subprotocols to the server, in preference order,
// serialized comma-separated into the Sec-WebSocket-Protocol handshake
// header. The subprotocol the server actually selected, if any, is
// available after [Socket.Connect] via [Socket.Protocol].
func WithProtocols(protocols ...string) SocketOpt {
	return func(s *Socket) {
		s.protocols = protocols
	}
}

// WithExtensions offers extensions to the server, serialized
// comma-separated into the Sec-WebSocket-Extensions handshake header.
// This package does not itself implement any extension transform
// (reserved bits are preserved but never interpreted); the extensions
// the server actually selected are available after [Socket.Connect]
// via [Socket.Extensions].
func WithExtensions(extensions ...string) SocketOpt {
	return func(s *Socket) {
		s.extensions = extensions
	}
}

// NewSocket constructs a [Socket] targeting wsURL ("ws://..." or
// "wss://..."), applying opts. The socket does not dial until
// [Socket.Connect] is called: construction can never fail, and
// configuring a socket is separated from the I/O that opens it.
func NewSocket(wsURL string, opts ...SocketOpt) *Socket {
	s := &Socket{
		logger:   zerolog.Nop(),
		headers:  http.Header{},
		nonceGen: rand.Reader,
		client:   defaultClient,
		state:    unconnectedState{url: wsURL},
		connID:   wslog.NewConnID(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var defaultClient = adjustRedirectScheme(*http.DefaultClient)

// adjustRedirectScheme returns a shallow copy of c whose CheckRedirect
// rewrites a redirected request's ws/wss scheme back to http/https,
// since [http.Client] itself only understands the latter.
func adjustRedirectScheme(c http.Client) *http.Client {
	orig := c.CheckRedirect
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		switch req.URL.Scheme {
		case "ws":
			req.URL.Scheme = "http"
		case "wss":
			req.URL.Scheme = "https"
		}
		if orig != nil {
			return orig(req, via)
		}
		return nil
	}
	return &c
}

// Connect performs the WebSocket opening handshake
// (https://datatracker.ietf.org/doc/html/rfc6455#section-4.1) and
// transitions the socket from unconnected to open. Calling Connect on
// an already-open socket returns an error wrapping [ErrInvalidInput].
func (s *Socket) Connect(ctx context.Context) error {
	us, ok := s.state.(unconnectedState)
	if !ok {
		return fmt.Errorf("%w: socket is already connected", ErrInvalidInput)
	}
	if s.optErr != nil {
		return s.optErr
	}

	if s.client == nil {
		s.client = defaultClient
	}

	nonce, err := generateNonce(s.nonceGen)
	if err != nil {
		return err
	}

	req, err := s.handshakeRequest(ctx, us.url, nonce)
	if err != nil {
		return err
	}

	l := s.logger.With().Str("conn_id", s.connID).Str("url", us.url).Logger()
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: handshake request: %w", ErrTransport, err)
	}
	if err := checkHandshakeResponse(resp, nonce); err != nil {
		_ = resp.Body.Close()
		return err
	}

	rwc, ok := resp.Body.(io.ReadWriteCloser)
	if !ok {
		return fmt.Errorf("%w: handshake response body does not implement io.ReadWriteCloser", ErrTransport)
	}

	s.state = &openState{
		rw:         bufio.NewReadWriter(bufio.NewReader(rwc), bufio.NewWriter(rwc)),
		closer:     rwc,
		protocol:   resp.Header.Get("Sec-WebSocket-Protocol"),
		extensions: splitCommaList(resp.Header.Get("Sec-WebSocket-Extensions")),
	}
	l.Debug().Msg("websocket connection established")
	return nil
}

// handshakeRequest builds the client request described in
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.1.
func (s *Socket) handshakeRequest(ctx context.Context, wsURL, nonce string) (*http.Request, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing URL: %w", ErrInvalidInput, err)
	}

	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: unsupported URL scheme %q", ErrInvalidInput, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: URL has no host", ErrInvalidInput)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating handshake request: %w", ErrInvalidInput, err)
	}

	req.Header = s.headers.Clone()
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Key", nonce)
	req.Header.Set("Sec-WebSocket-Version", "13")
	if len(s.protocols) > 0 {
		req.Header.Set("Sec-WebSocket-Protocol", strings.Join(s.protocols, ", "))
	}
	if len(s.extensions) > 0 {
		req.Header.Set("Sec-WebSocket-Extensions", strings.Join(s.extensions, ", "))
	}

	return req, nil
}

// checkHandshakeResponse validates the server response described in
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.2.2.
func checkHandshakeResponse(resp *http.Response, nonce string) error {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: handshake response status %d (want %d): %s",
			ErrInvalidInput, resp.StatusCode, http.StatusSwitchingProtocols, body)
	}
	if err := checkHeader(resp.Header, "Upgrade", "websocket"); err != nil {
		return err
	}
	if err := checkHeader(resp.Header, "Connection", "Upgrade"); err != nil {
		return err
	}
	return checkHeader(resp.Header, "Sec-WebSocket-Accept", expectedAccept(nonce))
}

// checkHeader compares an HTTP header value case-insensitively, per
// RFC 7230 §3.2's definition of header field values.
func checkHeader(h http.Header, key, want string) error {
	if got := h.Get(key); !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: handshake response header %q: got %q, want %q", ErrInvalidInput, key, got, want)
	}
	return nil
}

// splitCommaList splits a comma-separated header value (as used by
// Sec-WebSocket-Protocol and Sec-WebSocket-Extensions) into trimmed
// tokens, returning nil for an empty value.
func splitCommaList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	tokens := make([]string, len(parts))
	for i, p := range parts {
		tokens[i] = strings.TrimSpace(p)
	}
	return tokens
}

// Protocol returns the subprotocol the server selected during the
// handshake, or "" if none was negotiated or the socket is not open.
func (s *Socket) Protocol() string {
	st, ok := s.state.(*openState)
	if !ok {
		return ""
	}
	return st.protocol
}

// Extensions returns the extensions the server selected during the
// handshake, or nil if none were negotiated or the socket is not open.
// This package does not itself apply any extension transform.
func (s *Socket) Extensions() []string {
	st, ok := s.state.(*openState)
	if !ok {
		return nil
	}
	return st.extensions
}

// SendMessage writes m to the connection as a single frame. Fragmenting
// an outgoing message first is the caller's responsibility; see
// [Message.Split]. SendMessage blocks until the frame (and, for a
// close message, the resulting local half-close) has been written.
func (s *Socket) SendMessage(m *Message) error {
	st, ok := s.state.(*openState)
	if !ok {
		return fmt.Errorf("%w: cannot send", ErrNotConnected)
	}
	if st.closeSent {
		return fmt.Errorf("%w: cannot send", ErrClosed)
	}

	payload := m.Data
	if m.IsClose() {
		payload = m.closePayload()
	}
	if err := writeFrame(st.rw.Writer, m.Header, payload); err != nil {
		return err
	}

	if m.IsClose() {
		st.closeSent = true
		if st.closeReceived {
			_ = st.closer.Close()
		}
	}
	return nil
}

// Close initiates (or, if a close frame has already been received,
// completes) the WebSocket closing handshake
// (https://datatracker.ietf.org/doc/html/rfc6455#section-7.1.2).
// Close is idempotent: once a close frame has been sent, further
// calls are no-ops. status must be a code legal on the wire (see
// [CloseCode.ValidOnWire]); an invalid status is rejected rather than
// silently rewritten, since the caller chose it explicitly.
func (s *Socket) Close(status CloseCode, reason string) error {
	st, ok := s.state.(*openState)
	if !ok {
		return fmt.Errorf("%w: cannot close", ErrNotConnected)
	}
	if st.closeSent {
		return nil
	}
	if !status.ValidOnWire() {
		return fmt.Errorf("%w: close status %s is not valid on the wire", ErrInvalidInput, status)
	}
	return s.SendMessage(Close(status, reason))
}

// IsClosed reports whether the closing handshake has completed in
// both directions.
func (s *Socket) IsClosed() bool {
	st, ok := s.state.(*openState)
	return ok && st.closeSent && st.closeReceived
}

// IsClosing reports whether either side of the closing handshake has
// started.
func (s *Socket) IsClosing() bool {
	st, ok := s.state.(*openState)
	return ok && (st.closeSent || st.closeReceived)
}

// Messages returns an iterator over every complete, defragmented
// message received from the server, in order, including control
// messages: a ping, a pong, or a close is yielded as a whole Message
// like any other, interleaved at the point it arrived relative to any
// data message being fragmented. Answering a ping, and completing the
// closing handshake in response to a received close, are the caller's
// responsibility (see [Socket.SendMessage] and [Socket.Close]) — the
// iterator only tracks that a close frame arrived, for [Socket.IsClosed]
// and [Socket.IsClosing]. It stops, without an error, right after
// yielding a close frame, and also on a clean end-of-stream.
//
// Based on the read loop in
// https://datatracker.ietf.org/doc/html/rfc6455#section-6.2 and the
// fragmentation rule in
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.4.
func (s *Socket) Messages() iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		st, ok := s.state.(*openState)
		if !ok {
			yield(nil, fmt.Errorf("%w: cannot receive", ErrNotConnected))
			return
		}

		var buf bytes.Buffer
		var op Opcode
		var rsv [3]bool

		for {
			h, err := readFrameHeader(st.rw.Reader)
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				yield(nil, err)
				return
			}

			payload, err := readFramePayload(st.rw.Reader, h)
			if err != nil {
				yield(nil, err)
				return
			}

			switch {
			case !h.opcode.IsControl():
				if h.opcode != OpcodeContinuation {
					op = h.opcode
					rsv = h.rsv
				}
				buf.Write(payload)
				if !h.fin {
					continue
				}

				data := bytes.Clone(buf.Bytes())
				buf.Reset()
				if op == OpcodeText && !utf8.Valid(data) {
					yield(nil, fmt.Errorf("%w: invalid UTF-8 in text message", ErrProtocol))
					return
				}
				msg := &Message{Header: frameHeader{fin: true, rsv: rsv, opcode: op}, Data: data}
				if !yield(msg, nil) {
					return
				}

			case h.opcode == OpcodeClose:
				st.closeReceived = true
				status, reason := parseClosePayload(payload)
				if len(payload) >= 2 && !status.ValidOnWire() {
					status = StatusProtocolError
				}
				if st.closeSent {
					_ = st.closer.Close()
				}
				msg := &Message{Header: frameHeader{fin: true, opcode: OpcodeClose}, Data: []byte(reason), Status: status}
				yield(msg, nil)
				return

			case h.opcode == OpcodePing:
				msg := &Message{Header: frameHeader{fin: true, opcode: OpcodePing}, Data: payload}
				if !yield(msg, nil) {
					return
				}

			case h.opcode == OpcodePong:
				msg := &Message{Header: frameHeader{fin: true, opcode: OpcodePong}, Data: payload}
				if !yield(msg, nil) {
					return
				}

			default:
				// Reserved control opcode (0xB-0xF): passed through
				// unchanged, like ping/pong/close, for forward
				// compatibility with control extensions this package
				// doesn't itself define.
				msg := &Message{Header: frameHeader{fin: true, opcode: h.opcode}, Data: payload}
				if !yield(msg, nil) {
					return
				}
			}
		}
	}
}
