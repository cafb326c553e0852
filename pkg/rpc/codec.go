package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the grpc content subtype, application/grpc+json on the wire.
const codecName = "json"

// jsonCodec carries the plain structs of this package, there are no
// generated protobuf messages.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
