// Package json is the JSON codec used on the provider wire and in caches.
// sonic falls back to encoding/json by itself on architectures its JIT
// does not support.
package json

import (
	"io"

	"github.com/bytedance/sonic"
)

// api matches encoding/json behavior: sorted map keys, HTML escaping, valid UTF-8.
var api = sonic.ConfigStd

// Encoder writes JSON values to a stream.
type Encoder = sonic.Encoder

// Decoder reads JSON values from a stream.
type Decoder = sonic.Decoder

func Marshal(v any) ([]byte, error) { return api.Marshal(v) }

func Unmarshal(data []byte, v any) error { return api.Unmarshal(data, v) }

func NewEncoder(w io.Writer) Encoder { return api.NewEncoder(w) }

func NewDecoder(r io.Reader) Decoder { return api.NewDecoder(r) }

// MarshalString encodes v into a string.
func MarshalString(v any) (string, error) {
	return api.MarshalToString(v)
}
