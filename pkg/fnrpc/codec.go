package fnrpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype this package registers its
// codec under. Clients select it with grpc.CallContentSubtype(CodecName);
// the server picks it up automatically from the request's content-type
// once the codec is registered.
const CodecName = "fnrpc-json"

// jsonCodec carries StreamingMessage values over grpc as JSON instead
// of protobuf binary. It satisfies encoding.Codec.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
