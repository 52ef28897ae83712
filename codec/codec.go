// Package codec serializes requests and responses for the frame payload.
//
// The codec is chosen once per connection and announced to the host in the
// handshake frame, so both ends decode every later payload the same way.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
	CodecTypeXML  CodecType = 1
)

// Codec encodes *message.Request and *message.Response values.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=XML
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &XMLCodec{}
}

// ParseCodecType maps a configuration name to a codec type.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "", "xml":
		return CodecTypeXML, nil
	case "json":
		return CodecTypeJSON, nil
	default:
		return 0, fmt.Errorf("codec: unknown codec %q", name)
	}
}

func (t CodecType) String() string {
	if t == CodecTypeJSON {
		return "json"
	}
	return "xml"
}
