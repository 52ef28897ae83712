// Package stubpeer is an in-process stand-in for a bridge host.
//
// It speaks the frame protocol and the request vocabulary of a real host but
// backs "remote classes" with small Go types, dispatched by reflection. Tests
// use it to observe what a client puts on the wire: handshakes, class lookups
// and method invocations are counted, and DropConnections simulates a host
// that goes away mid-session.
//
// Connection pipeline:
//
//	Accept conn → handleConn (one goroutine per connection)
//	  → handshake frame → version reply
//	  → for each frame: Codec.Decode → Middleware Chain → dispatch (reflect.Call) → Codec.Encode → write
//	  → finish marker → ack → close
//
// Requests on one connection are handled in order; a bridge client never
// pipelines.
package stubpeer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"bridge-rpc/codec"
	"bridge-rpc/message"
	"bridge-rpc/middleware"
	"bridge-rpc/protocol"
	"bridge-rpc/registry"
)

// DefaultVersion is reported in the handshake reply.
const DefaultVersion = "7.2.1-stub"

// Peer is a fake bridge host.
type Peer struct {
	version     string
	logger      *zap.Logger
	classes     map[string]*classDef    // "java.math.BigInteger" → constructor, statics
	typeNames   map[reflect.Type]string // Go stand-in type → class name
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	listener net.Listener
	wg       sync.WaitGroup // tracks live connections for Shutdown
	shutdown atomic.Bool    // set before the listener closes to silence Accept errors

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	session *javaSession

	registry      registry.Registry // nil unless Advertise was called
	service       string
	advertiseAddr string

	handshakes    atomic.Int64
	statsMu       sync.Mutex
	lookups       map[string]int
	invocations   map[string]int
	lastHandshake protocol.Handshake
}

// Option configures a Peer.
type Option func(*Peer)

func WithVersion(v string) Option { return func(p *Peer) { p.version = v } }

func WithLogger(l *zap.Logger) Option { return func(p *Peer) { p.logger = l } }

// New creates a peer with the built-in classes registered.
func New(opts ...Option) *Peer {
	p := &Peer{
		version:     DefaultVersion,
		logger:      zap.NewNop(),
		classes:     make(map[string]*classDef),
		typeNames:   make(map[reflect.Type]string),
		conns:       make(map[net.Conn]struct{}),
		lookups:     make(map[string]int),
		invocations: make(map[string]int),
		session:     &javaSession{m: make(map[string]any)},
	}
	for _, opt := range opts {
		opt(p)
	}
	registerBuiltins(p)
	return p
}

// Use registers a middleware around request dispatch. Middlewares are applied
// in the order they are added and must be registered before Serve.
func (p *Peer) Use(mw middleware.Middleware) {
	p.middlewares = append(p.middlewares, mw)
}

// Listen binds the listener; use "127.0.0.1:0" for an ephemeral port.
func (p *Peer) Listen(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	p.listener = listener
	return nil
}

// Addr returns the bound address.
func (p *Peer) Addr() string {
	return p.listener.Addr().String()
}

// Advertise registers the peer under service in reg. Shutdown deregisters it.
func (p *Peer) Advertise(ctx context.Context, reg registry.Registry, service string, inst registry.ServiceInstance) error {
	if inst.Addr == "" {
		inst.Addr = p.Addr()
	}
	if err := reg.Register(ctx, service, inst, 10); err != nil {
		return err
	}
	p.registry, p.service, p.advertiseAddr = reg, service, inst.Addr
	return nil
}

// Serve runs the accept loop until Shutdown.
func (p *Peer) Serve() error {
	if p.listener == nil {
		return errors.New("stubpeer: Serve before Listen")
	}
	p.handler = middleware.Chain(p.middlewares...)(p.dispatch)

	for {
		conn, err := p.listener.Accept()
		if err != nil {
			if p.shutdown.Load() {
				return nil
			}
			return err
		}
		p.mu.Lock()
		p.conns[conn] = struct{}{}
		p.mu.Unlock()
		p.wg.Add(1)
		go p.handleConn(conn)
	}
}

// handleConn serves one client connection from handshake to finish marker.
func (p *Peer) handleConn(conn net.Conn) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.conns, conn)
		p.mu.Unlock()
		conn.Close()
	}()
	logger := p.logger.With(zap.Stringer("remote", conn.RemoteAddr()))
	r := bufio.NewReader(conn)

	first, err := protocol.Decode(r)
	if err != nil {
		logger.Debug("no handshake", zap.Error(err))
		return
	}
	hs, err := protocol.DecodeHandshake(first)
	if err != nil {
		logger.Debug("bad handshake", zap.Error(err))
		return
	}
	p.handshakes.Add(1)
	p.statsMu.Lock()
	p.lastHandshake = hs
	p.statsMu.Unlock()

	cdc := codec.GetCodec(codec.CodecType(hs.CodecType))
	write := func(resp *message.Response) error {
		data, err := cdc.Encode(resp)
		if err != nil {
			return err
		}
		return protocol.Encode(conn, data)
	}
	if err := write(&message.Response{Value: message.String(p.version)}); err != nil {
		return
	}

	st := newConnState(p, hs)
	ctx := context.WithValue(context.Background(), stateKey{}, st)
	for {
		payload, err := protocol.Decode(r)
		if err != nil {
			return
		}
		var req message.Request
		if err := cdc.Decode(payload, &req); err != nil {
			logger.Debug("undecodable request", zap.Error(err))
			write(&message.Response{Fault: &message.Fault{Kind: message.FaultUsage, Message: err.Error()}})
			continue
		}
		if req.Kind == message.RequestFinish {
			write(&message.Response{Value: message.Void()})
			return
		}

		v, err := p.handler(ctx, &req)
		resp := &message.Response{Value: v}
		if err != nil {
			resp = &message.Response{Fault: st.fault(err)}
		}
		if err := write(resp); err != nil {
			logger.Debug("write response", zap.Error(err))
			return
		}
	}
}

// DropConnections closes every client connection without a reply, as a host
// that crashed would.
func (p *Peer) DropConnections() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for conn := range p.conns {
		conn.Close()
	}
}

// Shutdown deregisters the peer, stops accepting, closes open connections and
// waits for their handlers to return.
func (p *Peer) Shutdown(timeout time.Duration) error {
	if p.registry != nil {
		p.registry.Deregister(context.Background(), p.service, p.advertiseAddr)
	}

	p.shutdown.Store(true)
	if p.listener != nil {
		p.listener.Close()
	}
	p.DropConnections()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for connections to finish")
	}
}

// Handshakes counts accepted handshakes, one per client session.
func (p *Peer) Handshakes() int64 { return p.handshakes.Load() }

// LastHandshake returns the options announced by the most recent client.
func (p *Peer) LastHandshake() protocol.Handshake {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.lastHandshake
}

// ClassLookups counts reference requests for class name.
func (p *Peer) ClassLookups(name string) int {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.lookups[name]
}

// Invocations counts invoke requests for method, on any object.
func (p *Peer) Invocations(method string) int {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.invocations[method]
}

// Connections returns the number of open client connections.
func (p *Peer) Connections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

func (p *Peer) countLookup(name string) {
	p.statsMu.Lock()
	p.lookups[name]++
	p.statsMu.Unlock()
}

func (p *Peer) countInvocation(method string) {
	p.statsMu.Lock()
	p.invocations[method]++
	p.statsMu.Unlock()
}
