// Package session owns the connection to a bridge host.
//
// A Session is one physical connection with its negotiated options. Calls are
// strictly synchronous: the send+receive pair of a call holds the session lock,
// so concurrent callers queue up and frames never interleave.
//
// Lifecycle:
//
//	Open: resolve endpoint → dial → handshake frame → host version reply
//	Call: ctx check → [middleware chain] → lock → send → flush → receive → unlock
//	Close: flush → finish marker → flush → final ack (bounded) → close socket
package session

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bridge-rpc/codec"
	"bridge-rpc/config"
	"bridge-rpc/fault"
	"bridge-rpc/logging"
	"bridge-rpc/message"
	"bridge-rpc/middleware"
	"bridge-rpc/protocol"
	"bridge-rpc/transport"
)

// Session is one open connection to a bridge host.
type Session struct {
	id      string
	cfg     *config.Config
	addr    string
	secure  bool
	version string // reported by the host during the handshake
	codec   codec.Codec
	ch      transport.Channel
	logger  *zap.Logger
	handler middleware.HandlerFunc

	mu       sync.Mutex // held for the send+receive pair
	inFlight atomic.Bool
	closed   atomic.Bool
}

// Open connects to the host configured in cfg and performs the handshake.
// Configuration problems, including an unresolvable host, fail before any
// socket is opened.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, fault.New(fault.KindConfiguration, "no session configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		l, err := logging.New(cfg.LogLevel)
		if err != nil {
			return nil, fault.Wrap(err, fault.KindConfiguration, "build logger")
		}
		logger = l
	}
	resolver := o.resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	tgt, err := resolveTarget(ctx, cfg, o, logger)
	if err != nil {
		return nil, err
	}
	ip, err := resolveHost(ctx, resolver, tgt.host)
	if err != nil {
		return nil, err
	}

	ch, err := transport.Dial(ctx, transport.DialOptions{
		Addr:               net.JoinHostPort(ip, strconv.Itoa(tgt.port)),
		Secure:             tgt.secure,
		ServerName:         tgt.host,
		InsecureSkipVerify: cfg.TLSInsecureSkipVerify,
		Timeout:            cfg.DialTimeout,
		KeepAlive:          cfg.UsePersistentConnection,
		Retries:            cfg.DialRetries,
		SendBufferSize:     cfg.SendBufferSize,
		RecvBufferSize:     cfg.RecvBufferSize,
		Logger:             logger,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fault.Wrap(err, fault.KindBrokenConnection, "connect to "+tgt.addr())
	}

	logger = logger.With(zap.String("addr", tgt.addr()), zap.Bool("secure", tgt.secure))
	s := newSession(cfg, ch, logger, o)
	s.addr = tgt.addr()
	s.secure = tgt.secure
	if err := s.handshake(); err != nil {
		ch.Close()
		return nil, err
	}
	s.logger.Info("bridge session opened", zap.String("version", s.version))
	return s, nil
}

// newSession wires a session around an established channel.
func newSession(cfg *config.Config, ch transport.Channel, logger *zap.Logger, o *options) *Session {
	s := &Session{
		id:    uuid.NewString(),
		cfg:   cfg,
		codec: codec.GetCodec(cfg.Codec),
		ch:    ch,
	}
	s.logger = logger.With(zap.String("session", s.id))

	mws := []middleware.Middleware{
		middleware.LoggingMiddleware(s.logger),
		middleware.RateLimitMiddleware(cfg.MaxCallsPerSecond, cfg.RateBurst),
	}
	if o.metrics != nil {
		mws = append(mws, o.metrics.Middleware())
	}
	mws = append(mws, o.middlewares...)
	s.handler = middleware.Chain(mws...)(s.roundTrip)
	return s
}

// handshake announces the negotiated options and reads the host version.
// It is bounded by the dial timeout.
func (s *Session) handshake() error {
	hs := protocol.Handshake{
		PreferValues:    s.cfg.PreferValues,
		LogLevel:        s.cfg.LogLevel,
		CodecType:       byte(s.cfg.Codec),
		DisableAutoload: s.cfg.DisableAutoload,
		Encoding:        s.cfg.CharacterEncoding,
	}
	if s.cfg.DialTimeout > 0 {
		s.setDeadline(time.Now().Add(s.cfg.DialTimeout))
		defer s.setDeadline(time.Time{})
	}

	if err := s.ch.Send(hs.Encode()); err != nil {
		return fault.Wrap(err, fault.KindBrokenConnection, "send handshake")
	}
	if err := s.ch.Flush(); err != nil {
		return fault.Wrap(err, fault.KindBrokenConnection, "send handshake")
	}
	reply, err := s.ch.Receive()
	if err != nil {
		return fault.Wrap(err, fault.KindBrokenConnection, "read handshake reply")
	}
	var resp message.Response
	if err := s.codec.Decode(reply, &resp); err != nil {
		return fault.Wrap(err, fault.KindBrokenConnection, "decode handshake reply")
	}
	if resp.Fault != nil {
		return fault.FromRemote(resp.Fault)
	}
	s.version = resp.Value.Str
	return nil
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Addr is the host:port the session connected to.
func (s *Session) Addr() string { return s.addr }

// Secure reports a TLS connection.
func (s *Session) Secure() bool { return s.secure }

// HostVersion is the version string the host sent during the handshake.
func (s *Session) HostVersion() string { return s.version }

// Config returns the configuration the session was opened with.
func (s *Session) Config() *config.Config { return s.cfg }

// Closed reports whether the session was closed or discarded.
func (s *Session) Closed() bool { return s.closed.Load() }

// Call sends req through the middleware chain and returns the host's value.
// The context is consulted before the request is sent; its deadline, if any,
// bounds the socket I/O of the call.
func (s *Session) Call(ctx context.Context, req *message.Request) (message.Value, error) {
	return s.handler(ctx, req)
}

// Invoke calls method on the object with id obj (0 is the bridge itself).
func (s *Session) Invoke(ctx context.Context, obj int64, method string, args ...message.Value) (message.Value, error) {
	return s.Call(ctx, &message.Request{Kind: message.RequestInvoke, Object: obj, Name: method, Args: args})
}

var errSessionClosed = errors.New("session closed")

// roundTrip is the terminal handler: exactly one request frame out, one
// response frame in.
func (s *Session) roundTrip(ctx context.Context, req *message.Request) (message.Value, error) {
	if err := ctx.Err(); err != nil {
		return message.Value{}, err
	}
	payload, err := s.codec.Encode(req)
	if err != nil {
		return message.Value{}, fault.Wrap(err, fault.KindInvalidUsage, "encode request")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return message.Value{}, fault.Wrap(errSessionClosed, fault.KindBrokenConnection, "call "+req.Name)
	}
	s.inFlight.Store(true)
	defer s.inFlight.Store(false)

	if deadline, ok := ctx.Deadline(); ok {
		s.setDeadline(deadline)
		defer s.setDeadline(time.Time{})
	}

	if err := s.ch.Send(payload); err != nil {
		return message.Value{}, fault.Translate(err)
	}
	if err := s.ch.Flush(); err != nil {
		return message.Value{}, fault.Translate(err)
	}
	reply, err := s.ch.Receive()
	if err != nil {
		return message.Value{}, fault.Translate(err)
	}

	var resp message.Response
	if err := s.codec.Decode(reply, &resp); err != nil {
		return message.Value{}, fault.Wrap(err, fault.KindBrokenConnection, "decode response")
	}
	if resp.Fault != nil {
		return message.Value{}, fault.FromRemote(resp.Fault)
	}
	return resp.Value, nil
}

// Close ends the session. It does nothing while a call is in flight and runs
// at most once otherwise. Teardown is best effort: no error is ever returned
// and the final acknowledgement wait is bounded by close_timeout.
func (s *Session) Close() error {
	if s.inFlight.Load() {
		s.logger.Debug("close skipped: call in flight")
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := s.finish(); err != nil {
		s.logger.Debug("finish handshake failed", zap.Error(err))
	}
	if err := s.ch.Close(); err != nil {
		s.logger.Debug("close channel", zap.Error(err))
	}
	s.logger.Info("bridge session closed")
	return nil
}

// finish must be called with mu held. The wait for the final ack is always
// bounded; a non-positive close_timeout falls back to the default.
func (s *Session) finish() error {
	wait := s.cfg.CloseTimeout
	if wait <= 0 {
		wait = config.DefaultCloseTimeout
	}
	s.setDeadline(time.Now().Add(wait))
	if err := s.ch.Flush(); err != nil {
		return err
	}
	marker, err := s.codec.Encode(&message.Request{Kind: message.RequestFinish})
	if err != nil {
		return err
	}
	if err := s.ch.Send(marker); err != nil {
		return err
	}
	if err := s.ch.Flush(); err != nil {
		return err
	}
	if s.ch.Stub() {
		return nil
	}
	_, err = s.ch.Receive()
	return err
}

// setDeadline applies t to the channel. A channel that cannot take deadlines
// still works, just without the bound, so the failure is only logged.
func (s *Session) setDeadline(t time.Time) {
	if err := s.ch.SetDeadline(t); err != nil {
		s.logger.Debug("set channel deadline", zap.Time("deadline", t), zap.Error(err))
	}
}

// discard drops the connection without the closing round-trip. Used after a
// broken connection, when the stream can no longer be trusted.
func (s *Session) discard() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if err := s.ch.Close(); err != nil {
		s.logger.Debug("close channel", zap.Error(err))
	}
	s.logger.Info("bridge session discarded")
}
