package yellowstone

import "encoding/json"

// jsonCodec implements grpc/encoding.Codec, framing messages as JSON rather
// than protobuf wire format — see the package doc in messages.go for why.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "yellowstone-json"
}

// Codec is registered with grpc via encoding.RegisterCodec in the
// subscription package's grpcstream.go init, then selected per-call with grpc.CallContentSubtype(Codec.Name()).
var Codec = jsonCodec{}
