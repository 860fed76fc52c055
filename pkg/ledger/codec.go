package ledger

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is the gRPC content-subtype registered by this
// package. The native ledger's transfer/transfer_from RPC is
// out-of-scope and has no shared .proto contract with this bridge, so
// call payloads are framed as gRPC messages encoded with JSON rather
// than a fabricated protobuf schema, using grpc-go's pluggable codec
// mechanism exactly as documented for custom content types.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
