// Package codec provides the element codec used by cache adapters.
package codec

import (
	"github.com/bytedance/sonic"

	"github.com/aretw0/eddy/pkg/domain"
)

// JSON encodes elements as JSON documents using sonic.
// Decoding follows JSON semantics: numeric values come back as float64.
type JSON struct{}

// Encode serializes one element.
func (JSON) Encode(e domain.Element) ([]byte, error) {
	return sonic.Marshal(e)
}

// Decode deserializes one element.
func (JSON) Decode(data []byte) (domain.Element, error) {
	var e domain.Element
	err := sonic.Unmarshal(data, &e)
	return e, err
}
