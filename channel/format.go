package channel

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

func init() {
	RegisterTransformer("json", func() Transformer { return jsonTransformer{} })
	RegisterTransformer("msgpack", func() Transformer { return msgpackTransformer{} })
}

// jsonTransformer encodes payloads as JSON. This is the default wire format;
// subscribers rely on the envelope's exact field names.
type jsonTransformer struct{}

func (jsonTransformer) Encode(payload any) ([]byte, error) {
	return json.Marshal(payload)
}

// msgpackTransformer encodes payloads as msgpack for subscribers that want
// the compact binary framing.
type msgpackTransformer struct{}

func (msgpackTransformer) Encode(payload any) ([]byte, error) {
	return msgpack.Marshal(payload)
}
