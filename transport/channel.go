// Package transport carries protocol frames over one connected socket.
//
// A Channel is strictly half-duplex from the caller's point of view: the session
// sends one request, flushes, then receives exactly one response. Channels do no
// locking of their own; the session serializes the send+receive pair.
//
//	Session ──Send(req)──Flush()──→ bufio.Writer ──→ net.Conn ──→ host
//	Session ←──Receive()────────── bufio.Reader ←── net.Conn ←── host
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"bridge-rpc/protocol"
)

var (
	// ErrIncompleteWrite means a frame could not be handed to the socket in full.
	ErrIncompleteWrite = errors.New("transport: incomplete write")
	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("transport: channel closed")
)

// Channel moves whole frames.
type Channel interface {
	// Send buffers one frame. Nothing reaches the peer until Flush.
	Send(payload []byte) error
	// Flush writes buffered frames to the peer.
	Flush() error
	// Receive blocks for one frame. An empty frame is a non-nil empty slice;
	// a stream that ends mid-frame yields protocol.ErrConnectionLost.
	Receive() ([]byte, error)
	// SetDeadline bounds blocking reads and writes.
	SetDeadline(t time.Time) error
	Close() error
	// Stub reports a no-op channel with no peer behind it.
	Stub() bool
}

// SocketChannel is a Channel over a net.Conn, plain or TLS.
type SocketChannel struct {
	conn   net.Conn
	reader *bufio.Reader // sized by recv_buffer_size
	writer *bufio.Writer // sized by send_buffer_size
	closed atomic.Bool
}

// NewSocketChannel wraps an established connection.
func NewSocketChannel(conn net.Conn, sendSize, recvSize int) *SocketChannel {
	return &SocketChannel{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, recvSize),
		writer: bufio.NewWriterSize(conn, sendSize),
	}
}

func (c *SocketChannel) Send(payload []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := protocol.Encode(c.writer, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrIncompleteWrite, err)
	}
	return nil
}

func (c *SocketChannel) Flush() error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrIncompleteWrite, err)
	}
	return nil
}

func (c *SocketChannel) Receive() ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return protocol.Decode(c.reader)
}

func (c *SocketChannel) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

func (c *SocketChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

func (c *SocketChannel) Stub() bool { return false }

// RemoteAddr returns the peer address.
func (c *SocketChannel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// EmptyChannel is a no-op Channel: writes vanish and reads report a lost
// connection. Sessions skip the closing round-trip on it.
type EmptyChannel struct{}

func (EmptyChannel) Send([]byte) error           { return nil }
func (EmptyChannel) Flush() error                { return nil }
func (EmptyChannel) Receive() ([]byte, error)    { return nil, protocol.ErrConnectionLost }
func (EmptyChannel) SetDeadline(time.Time) error { return nil }
func (EmptyChannel) Close() error                { return nil }
func (EmptyChannel) Stub() bool                  { return true }
