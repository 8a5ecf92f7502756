// Package v1 is the wire contract of chat.v1.ChatService. Messages are plain
// structs carried by a JSON codec; the service descriptor, server interface
// and client below are maintained by hand.
package v1

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// Codec is the content-subtype both sides must use.
const Codec = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return Codec }
