package apiserver

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered instead of the usual "proto" codec name.
// No protoc toolchain is available in this environment (see DESIGN.md),
// so the status service exchanges the same plain JSON-taggable structs
// the HTTP API already returns, rather than generated protobuf message
// types.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// statusRequest is the sole request message for StatusService.GetStatus;
// it carries no fields, and GetStatus always returns the
// coordinator-wide snapshot.
type statusRequest struct{}

// promoteRequest is the request message for StatusService.Promote.
type promoteRequest struct {
	Replica string `json:"replica"`
}
