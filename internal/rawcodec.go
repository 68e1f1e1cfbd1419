package internal

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype under which the raw passthrough
// codec is registered. Clients select it per call via
// grpc.CallContentSubtype(CodecName); servers resolve it from the
// request's content-type.
const CodecName = "raw"

// RawMessage is an opaque RPC payload. The runtime never interprets
// message contents; requests and responses travel as-is.
type RawMessage []byte

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// rawCodec is a passthrough encoding.Codec for RawMessage values. It
// exists so that schema-free calls can ride the stock gRPC transport
// without compiled protobuf types.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(*RawMessage)
	if !ok {
		return nil, fmt.Errorf("raw codec: cannot marshal %T", v)
	}
	return *m, nil
}

// Unmarshal copies the wire data into a fresh contiguous buffer; the
// transport may reuse the input slice after this call returns.
func (rawCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(*RawMessage)
	if !ok {
		return fmt.Errorf("raw codec: cannot unmarshal into %T", v)
	}
	*m = append(RawMessage(nil), data...)
	return nil
}

func (rawCodec) Name() string {
	return CodecName
}
