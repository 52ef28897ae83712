package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bridge-rpc/logging"
)

const (
	defaultKeepAlive  = 30 * time.Second
	defaultRetryDelay = 100 * time.Millisecond
)

// DialOptions describes one connect attempt sequence.
type DialOptions struct {
	Addr               string // host:port
	Secure             bool
	ServerName         string // TLS SNI; defaults to the host of Addr
	InsecureSkipVerify bool
	Timeout            time.Duration
	KeepAlive          bool
	Retries            int
	RetryDelay         time.Duration // base delay, doubled after each refused attempt
	SendBufferSize     int
	RecvBufferSize     int
	Logger             *zap.Logger
}

// Dial connects to opts.Addr and wraps the connection in a SocketChannel.
// Refused or timed out attempts are retried with exponential backoff.
func Dial(ctx context.Context, opts DialOptions) (*SocketChannel, error) {
	logger := logging.OrNop(opts.Logger)
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	conn, err := dialOnce(ctx, opts)
	for i := 0; err != nil && i < opts.Retries && retryable(err); i++ {
		wait := delay * time.Duration(1<<i)
		logger.Debug("dial retry",
			zap.String("addr", opts.Addr),
			zap.Int("attempt", i+1),
			zap.Duration("backoff", wait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		conn, err = dialOnce(ctx, opts)
	}
	if err != nil {
		return nil, err
	}
	return NewSocketChannel(conn, opts.SendBufferSize, opts.RecvBufferSize), nil
}

func dialOnce(ctx context.Context, opts DialOptions) (net.Conn, error) {
	d := &net.Dialer{Timeout: opts.Timeout, KeepAlive: -1}
	if opts.KeepAlive {
		d.KeepAlive = defaultKeepAlive
	}
	if !opts.Secure {
		return d.DialContext(ctx, "tcp", opts.Addr)
	}

	serverName := opts.ServerName
	if serverName == "" {
		if host, _, err := net.SplitHostPort(opts.Addr); err == nil {
			serverName = host
		}
	}
	td := &tls.Dialer{
		NetDialer: d,
		Config: &tls.Config{
			ServerName:         serverName,
			InsecureSkipVerify: opts.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		},
	}
	return td.DialContext(ctx, "tcp", opts.Addr)
}

func retryable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
