package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"bridge-rpc/codec"
	"bridge-rpc/config"
	"bridge-rpc/fault"
	"bridge-rpc/loadbalance"
	"bridge-rpc/message"
	"bridge-rpc/middleware"
	"bridge-rpc/protocol"
	"bridge-rpc/registry"
	"bridge-rpc/stubpeer"
	"bridge-rpc/transport"
)

func startPeer(t *testing.T) *stubpeer.Peer {
	t.Helper()
	p := stubpeer.New()
	require.NoError(t, p.Listen("tcp", "127.0.0.1:0"))
	go p.Serve()
	t.Cleanup(func() { p.Shutdown(3 * time.Second) })
	return p
}

func peerConfig(t *testing.T, p *stubpeer.Peer, extra map[string]any) *config.Config {
	t.Helper()
	options := map[string]any{config.KeyAddress: "tcp://" + p.Addr() + "/JavaBridge"}
	for k, v := range extra {
		options[k] = v
	}
	cfg, err := config.Parse(options)
	require.NoError(t, err)
	return cfg
}

func nop() Option { return WithLogger(zap.NewNop()) }

func create(class string, args ...message.Value) *message.Request {
	return &message.Request{Kind: message.RequestCreate, Name: class, Args: args}
}

func TestOpenHandshake(t *testing.T) {
	p := startPeer(t)
	cfg := peerConfig(t, p, map[string]any{
		config.KeyLogLevel:          3,
		config.KeyDisableAutoload:   true,
		config.KeyCharacterEncoding: "ISO-8859-1",
	})

	s, err := Open(context.Background(), cfg, nop())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, stubpeer.DefaultVersion, s.HostVersion())
	assert.Equal(t, p.Addr(), s.Addr())
	assert.False(t, s.Secure())
	assert.NotEmpty(t, s.ID())

	hs := p.LastHandshake()
	assert.True(t, hs.PreferValues)
	assert.True(t, hs.DisableAutoload)
	assert.Equal(t, "ISO-8859-1", hs.Encoding)
	require.NotNil(t, hs.LogLevel)
	assert.Equal(t, 3, *hs.LogLevel)
	assert.Equal(t, byte(codec.CodecTypeXML), hs.CodecType)
}

func TestCallRoundTrip(t *testing.T) {
	p := startPeer(t)
	for _, name := range []string{"xml", "json"} {
		t.Run(name, func(t *testing.T) {
			s, err := Open(context.Background(), peerConfig(t, p, map[string]any{config.KeyCodec: name}), nop())
			require.NoError(t, err)
			defer s.Close()
			ctx := context.Background()

			ten, err := s.Call(ctx, create("java.math.BigInteger", message.Long(10)))
			require.NoError(t, err)
			twenty, err := s.Call(ctx, create("java.math.BigInteger", message.Long(20)))
			require.NoError(t, err)

			sum, err := s.Invoke(ctx, ten.Ref, "add", message.Object(twenty.Ref, ""))
			require.NoError(t, err)
			assert.Equal(t, "java.math.BigInteger", sum.Class)

			text, err := s.Invoke(ctx, 0, "castToString", message.Object(sum.Ref, ""))
			require.NoError(t, err)
			assert.Equal(t, "30", text.Str)
		})
	}
}

func TestRemoteFaultKeepsSession(t *testing.T) {
	p := startPeer(t)
	s, err := Open(context.Background(), peerConfig(t, p, nil), nop())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	one, err := s.Call(ctx, create("java.math.BigInteger", message.Long(1)))
	require.NoError(t, err)
	zero, err := s.Call(ctx, create("java.math.BigInteger", message.Long(0)))
	require.NoError(t, err)

	_, err = s.Invoke(ctx, one.Ref, "divide", message.Object(zero.Ref, ""))
	require.ErrorIs(t, err, fault.ErrRemote)
	var fe *fault.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "java.lang.ArithmeticException", fe.RemoteClass)
	assert.Contains(t, fe.StackTrace, "ArithmeticException")

	_, err = s.Invoke(ctx, 424242, "toString")
	require.ErrorIs(t, err, fault.ErrInvalidUsage)

	assert.False(t, s.Closed())
	_, err = s.Invoke(ctx, one.Ref, "toString")
	assert.NoError(t, err)
}

func TestBrokenConnection(t *testing.T) {
	p := startPeer(t)
	s, err := Open(context.Background(), peerConfig(t, p, nil), nop())
	require.NoError(t, err)

	p.DropConnections()
	_, err = s.Call(context.Background(), create("java.util.ArrayList"))
	require.Error(t, err)
	assert.True(t, fault.IsBrokenConnection(err))

	// teardown of a dead session never reports an error
	assert.NoError(t, s.Close())
	assert.True(t, s.Closed())
}

func TestCanceledContextSendsNothing(t *testing.T) {
	p := startPeer(t)
	s, err := Open(context.Background(), peerConfig(t, p, nil), nop())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Invoke(ctx, 0, "clearLastException")
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, fault.IsBrokenConnection(err))
	assert.Zero(t, p.Invocations("clearLastException"))
}

func TestCloseSendsFinish(t *testing.T) {
	p := startPeer(t)
	s, err := Open(context.Background(), peerConfig(t, p, nil), nop())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.Connections() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
	assert.Eventually(t, func() bool { return p.Connections() == 0 }, time.Second, 10*time.Millisecond)

	_, err = s.Invoke(context.Background(), 0, "clearLastException")
	assert.True(t, fault.IsBrokenConnection(err))
}

func TestOpenConfigurationErrors(t *testing.T) {
	p := startPeer(t)

	_, err := Open(context.Background(), nil)
	assert.ErrorIs(t, err, fault.ErrConfiguration)

	cfg, err := config.Parse(map[string]any{config.KeyAddress: "tcp://bridge.invalid:1234/svc"})
	require.NoError(t, err)
	_, err = Open(context.Background(), cfg, nop(), WithResolver(failingResolver{}))
	assert.ErrorIs(t, err, fault.ErrConfiguration)
	assert.Zero(t, p.Handshakes())
}

type failingResolver struct{}

func (failingResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

type staticResolver map[string]string

func (r staticResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if ip, ok := r[host]; ok {
		return []string{ip}, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func TestOpenResolvesHostname(t *testing.T) {
	p := startPeer(t)
	_, port, err := net.SplitHostPort(p.Addr())
	require.NoError(t, err)

	cfg, err := config.Parse(map[string]any{config.KeyAddress: "tcp://bridge.test:" + port + "/svc"})
	require.NoError(t, err)
	s, err := Open(context.Background(), cfg, nop(), WithResolver(staticResolver{"bridge.test": "127.0.0.1"}))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "bridge.test:"+port, s.Addr())
}

func TestOpenDiscovery(t *testing.T) {
	a, b := startPeer(t), startPeer(t)
	reg := registry.NewStaticRegistry()
	require.NoError(t, a.Advertise(context.Background(), reg, "JavaBridge", registry.ServiceInstance{Weight: 1}))
	require.NoError(t, b.Advertise(context.Background(), reg, "JavaBridge", registry.ServiceInstance{Weight: 1}))

	cfg, err := config.Parse(map[string]any{config.KeyAddress: "etcd://127.0.0.1:2379/JavaBridge"})
	require.NoError(t, err)

	bal := &loadbalance.RoundRobinBalancer{}
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		s, err := Open(context.Background(), cfg, nop(), WithRegistry(reg), WithBalancer(bal))
		require.NoError(t, err)
		seen[s.Addr()] = true
		s.Close()
	}
	assert.Len(t, seen, 2)
	assert.EqualValues(t, 1, a.Handshakes())
	assert.EqualValues(t, 1, b.Handshakes())

	_, err = Open(context.Background(), mustParse(t, "etcd://127.0.0.1:2379/Other"), nop(), WithRegistry(reg))
	assert.ErrorIs(t, err, fault.ErrConfiguration)
}

func mustParse(t *testing.T, address string) *config.Config {
	t.Helper()
	cfg, err := config.Parse(map[string]any{config.KeyAddress: address})
	require.NoError(t, err)
	return cfg
}

func TestMetricsAndMiddleware(t *testing.T) {
	p := startPeer(t)
	reg := prometheus.NewRegistry()
	m, err := middleware.NewMetrics(reg)
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []string
	record := func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *message.Request) (message.Value, error) {
			mu.Lock()
			seen = append(seen, req.Kind.String()+":"+req.Name)
			mu.Unlock()
			return next(ctx, req)
		}
	}

	s, err := Open(context.Background(), peerConfig(t, p, nil), nop(),
		WithMetrics(m), WithMiddleware(record, middleware.TimeOutMiddleware(time.Second)))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Call(context.Background(), create("java.util.ArrayList"))
	require.NoError(t, err)
	_, err = s.Call(context.Background(), &message.Request{Kind: message.RequestReference, Name: "no.such.Class"})
	require.Error(t, err)

	assert.Equal(t, []string{"create:java.util.ArrayList", "reference:no.such.Class"}, seen)
	series, err := testutil.GatherAndCount(reg, "bridge_rpc_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 2, series)
}

// fakeChannel hands out scripted replies and records sent frames.
type fakeChannel struct {
	mu      sync.Mutex
	sent    [][]byte
	replies chan []byte
	stub    bool
	closed  bool
	recvs   int
}

func newFakeChannel(stub bool) *fakeChannel {
	return &fakeChannel{replies: make(chan []byte, 4), stub: stub}
}

func (f *fakeChannel) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), p...))
	return nil
}

func (f *fakeChannel) Flush() error { return nil }

func (f *fakeChannel) Receive() ([]byte, error) {
	f.mu.Lock()
	f.recvs++
	f.mu.Unlock()
	r, ok := <-f.replies
	if !ok {
		return nil, protocol.ErrConnectionLost
	}
	return r, nil
}

func (f *fakeChannel) SetDeadline(time.Time) error { return nil }

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) Stub() bool { return f.stub }

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeChannel) lastRequest(t *testing.T) message.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var req message.Request
	require.NoError(t, codec.GetCodec(codec.CodecTypeXML).Decode(f.sent[len(f.sent)-1], &req))
	return req
}

func encodeValue(t *testing.T, v message.Value) []byte {
	t.Helper()
	data, err := codec.GetCodec(codec.CodecTypeXML).Encode(&message.Response{Value: v})
	require.NoError(t, err)
	return data
}

func TestCloseSkippedWhileInFlight(t *testing.T) {
	fc := newFakeChannel(false)
	s := newSession(config.Default(), fc, zap.NewNop(), &options{})

	done := make(chan message.Value, 1)
	go func() {
		v, _ := s.Invoke(context.Background(), 0, "inspect")
		done <- v
	}()
	require.Eventually(t, func() bool { return fc.sentCount() == 1 && s.inFlight.Load() }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())
	assert.False(t, s.Closed(), "close must not consume the session while a call is in flight")

	fc.replies <- encodeValue(t, message.String("[class java.lang.Object:]"))
	assert.Equal(t, "[class java.lang.Object:]", (<-done).Str)

	fc.replies <- encodeValue(t, message.Void())
	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
	assert.Equal(t, message.RequestFinish, fc.lastRequest(t).Kind)
	assert.True(t, fc.closed)
}

func TestCloseStubSkipsFinalRoundTrip(t *testing.T) {
	fc := newFakeChannel(true)
	s := newSession(config.Default(), fc, zap.NewNop(), &options{})

	require.NoError(t, s.Close())
	assert.Equal(t, message.RequestFinish, fc.lastRequest(t).Kind)
	assert.Zero(t, fc.recvs)
	assert.True(t, fc.closed)
}

func TestCloseSwallowsTeardownErrors(t *testing.T) {
	fc := newFakeChannel(false)
	close(fc.replies)
	s := newSession(config.Default(), fc, zap.NewNop(), &options{})

	assert.NoError(t, s.Close())
	assert.True(t, s.Closed())
	assert.Equal(t, 1, fc.recvs)
}

func TestEmptyChannelSession(t *testing.T) {
	cfg := config.Default()
	cfg.CloseTimeout = 0
	s := newSession(cfg, transport.EmptyChannel{}, zap.NewNop(), &options{})

	_, err := s.Invoke(context.Background(), 0, "inspect")
	assert.True(t, fault.IsBrokenConnection(err))
	assert.NoError(t, s.Close())
}

func TestRateLimitedSession(t *testing.T) {
	fc := newFakeChannel(false)
	cfg := config.Default()
	cfg.MaxCallsPerSecond = 1
	cfg.RateBurst = 1
	s := newSession(cfg, fc, zap.NewNop(), &options{})

	fc.replies <- encodeValue(t, message.Void())
	_, err := s.Invoke(context.Background(), 0, "clearLastException")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Invoke(ctx, 0, "clearLastException")
	require.Error(t, err)
	assert.False(t, fault.IsBrokenConnection(err))
	assert.Equal(t, 1, fc.sentCount(), "limited call must not reach the wire")
}

// silentHost accepts one connection and swallows everything sent to it.
func silentHost(t *testing.T) net.Conn {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(io.Discard, conn)
	}()
	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	return conn
}

func TestCloseWaitIsAlwaysBounded(t *testing.T) {
	cfg := config.Default()
	cfg.CloseTimeout = 0
	ch := transport.NewSocketChannel(silentHost(t), cfg.SendBufferSize, cfg.RecvBufferSize)
	s := newSession(cfg, ch, zap.NewNop(), &options{})

	done := make(chan struct{})
	start := time.Now()
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(config.DefaultCloseTimeout + 3*time.Second):
		t.Fatal("close waited for an ack that never comes")
	}
	assert.True(t, s.Closed())
	assert.GreaterOrEqual(t, time.Since(start), config.DefaultCloseTimeout-100*time.Millisecond)
}

// deadlineless rejects deadlines, like a channel over a plain pipe.
type deadlineless struct{ *fakeChannel }

func (deadlineless) SetDeadline(time.Time) error { return errors.New("deadline not supported") }

func TestDeadlineFailuresAreLogged(t *testing.T) {
	fc := newFakeChannel(false)
	core, logs := observer.New(zap.DebugLevel)
	s := newSession(config.Default(), deadlineless{fc}, zap.New(core), &options{})

	fc.replies <- encodeValue(t, message.Void())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := s.Invoke(ctx, 0, "clearLastException")
	require.NoError(t, err, "the call still works without a deadline")

	// 设置 + 清除各一次
	assert.Equal(t, 2, logs.FilterMessage("set channel deadline").Len())

	fc.replies <- encodeValue(t, message.Void())
	s.Close()
	assert.Equal(t, 3, logs.FilterMessage("set channel deadline").Len())
}
