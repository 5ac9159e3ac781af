package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc-go's encoding registry and selected by
// clients through grpc.CallContentSubtype, so every message on this
// service marshals as JSON instead of protobuf wire format.
const codecName = "json"

// jsonCodec implements encoding.Codec (formerly encoding.CodecV2's
// predecessor interface) over the plain Go structs in messages.go. grpc-go
// documents Codec as a supported registration point for non-protobuf
// payloads.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return codecName
}

// init registers the JSON codec globally. Clients must select it with
// grpc.CallContentSubtype since it is not the transport default; the
// server looks the codec up by the request's content subtype, so NewServer
// sets no codec option.
func init() {
	encoding.RegisterCodec(jsonCodec{})
}
