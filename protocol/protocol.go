// Package protocol implements the chunked frame protocol spoken with the bridge host.
//
// Every message travels as one chunk: a hex length line, exactly that many payload
// bytes, then a fixed two byte trailer. The receiver reads the length line first,
// then reads exactly that many bytes, so message boundaries survive TCP coalescing.
//
// Frame format:
//
//	┌────────────┬──────┬────────────────────┬──────┐
//	│ hex length │ \r\n │  payload ...       │ \r\n │
//	│ "1f", "0"  │      │  length bytes      │      │
//	└────────────┴──────┴────────────────────┴──────┘
//
// A zero length frame ("0\r\n\r\n") is an explicit empty message, not end of stream.
package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// Trailer terminates every payload, including empty ones.
	Trailer = "\r\n"
	// MaxHeaderLen bounds the hex length line; 16 hex digits cover any int64.
	MaxHeaderLen = 16
)

var (
	// ErrConnectionLost means the stream ended before a frame was complete.
	// Decode never hands back a partial payload: the caller gets this instead.
	ErrConnectionLost = errors.New("protocol: connection lost")
	// ErrMalformedFrame means the bytes on the wire are not a chunk.
	ErrMalformedFrame = errors.New("protocol: malformed frame")
)

// Encode writes one complete frame to w.
// The caller must serialize writers sharing w, otherwise frames interleave.
func Encode(w io.Writer, payload []byte) error {
	header := strconv.FormatInt(int64(len(payload)), 16) + Trailer

	buf := make([]byte, 0, len(header)+len(payload)+len(Trailer))
	buf = append(buf, header...)
	buf = append(buf, payload...)
	buf = append(buf, Trailer...)

	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}

// Decode reads one complete frame from r.
//
// A zero length frame yields a non-nil empty slice. If the stream ends anywhere
// inside the frame the result is nil with ErrConnectionLost, so an absent payload
// can always be told apart from an empty one.
func Decode(r *bufio.Reader) ([]byte, error) {
	// Step 1: the hex length line
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrConnectionLost
		}
		return nil, err
	}
	length, err := parseLength(line)
	if err != nil {
		return nil, err
	}

	// Step 2: exactly length payload bytes. CopyN grows the buffer as data
	// arrives, so a bogus length cannot force a huge allocation up front.
	var body bytes.Buffer
	if _, err := io.CopyN(&body, r, length); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrConnectionLost
		}
		return nil, err
	}
	payload := body.Bytes()
	if payload == nil {
		payload = []byte{}
	}

	// Step 3: the trailer is drained even for empty frames
	var trailer [2]byte
	if _, err := io.ReadFull(r, trailer[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrConnectionLost
		}
		return nil, err
	}
	if string(trailer[:]) != Trailer {
		return nil, fmt.Errorf("%w: bad trailer %q", ErrMalformedFrame, trailer[:])
	}

	return payload, nil
}

func parseLength(line string) (int64, error) {
	hex := strings.TrimRight(line, "\r\n")
	if hex == "" || len(hex) > MaxHeaderLen {
		return 0, fmt.Errorf("%w: bad length line %q", ErrMalformedFrame, line)
	}
	length, err := strconv.ParseInt(hex, 16, 64)
	if err != nil || length < 0 {
		return 0, fmt.Errorf("%w: bad length line %q", ErrMalformedFrame, line)
	}
	return length, nil
}
