package protocol

import (
	"fmt"
)

// Handshake is the first frame a client sends on a fresh connection.
//
// Payload layout:
//
//	0        1       2       3
//	┌────────┬───────┬───────┬──────────────────────┐
//	│ compat │ codec │ flags │ character encoding   │
//	└────────┴───────┴───────┴──────────────────────┘
type Handshake struct {
	PreferValues    bool
	LogLevel        *int // nil leaves the host log level untouched
	CodecType       byte
	DisableAutoload bool
	Encoding        string
}

const (
	compatBase      byte = 0100 // '@'
	compatLogLevel  byte = 0x80
	flagNoAutoload  byte = 0x01
	handshakeHeader      = 3
)

// Compat returns the compatibility byte negotiated with the host.
// Bit 0 carries prefer-values; when a log level is set bit 7 is raised
// and the level occupies bits 2-4.
func (h Handshake) Compat() byte {
	c := compatBase
	if h.PreferValues {
		c++
	}
	if h.LogLevel != nil {
		c |= compatLogLevel | byte(7&*h.LogLevel)<<2
	}
	return c
}

// Encode renders the handshake payload.
func (h Handshake) Encode() []byte {
	var flags byte
	if h.DisableAutoload {
		flags |= flagNoAutoload
	}
	buf := make([]byte, 0, handshakeHeader+len(h.Encoding))
	buf = append(buf, h.Compat(), h.CodecType, flags)
	return append(buf, h.Encoding...)
}

// DecodeHandshake parses a handshake payload. Used by hosts and tests.
func DecodeHandshake(payload []byte) (Handshake, error) {
	if len(payload) < handshakeHeader {
		return Handshake{}, fmt.Errorf("%w: handshake too short (%d bytes)", ErrMalformedFrame, len(payload))
	}
	compat := payload[0]
	h := Handshake{
		PreferValues:    compat&0x01 == 1,
		CodecType:       payload[1],
		DisableAutoload: payload[2]&flagNoAutoload != 0,
		Encoding:        string(payload[handshakeHeader:]),
	}
	if compat&compatLogLevel != 0 {
		level := int(compat>>2) & 7
		h.LogLevel = &level
	}
	return h, nil
}
