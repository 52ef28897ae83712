package codec

import (
	"encoding/json"
	"errors"

	"bridge-rpc/message"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// Pros: human-readable, easy to debug.
// Cons: hosts speaking the classic bridge vocabulary only understand XML.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	switch v.(type) {
	case *message.Request, *message.Response:
		return json.Marshal(v)
	default:
		return nil, errors.New("JSONCodec: v must be *Request or *Response")
	}
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	switch v.(type) {
	case *message.Request, *message.Response:
		return json.Unmarshal(data, v)
	default:
		return errors.New("JSONCodec: v must be *Request or *Response")
	}
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
