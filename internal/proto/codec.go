package proto

import (
	"github.com/cab2cab/c2cdump/internal/core"
)

// Codec is the stable payload-decoder surface the pipeline drives: datagram
// in, outcome out. The concrete transform and record catalogue sit behind it
// so a protocol revision swaps the codec, not the pipeline.
type Codec struct {
	transform *Transform
}

// NewCodec builds the production codec. A nil key selects DefaultKey.
func NewCodec(key []byte) (*Codec, error) {
	if key == nil {
		key = DefaultKey
	}
	t, err := NewTransform(key)
	if err != nil {
		return nil, err
	}
	return &Codec{transform: t}, nil
}

// Decode decrypts and parses one qualifying datagram. It never fails hard:
// structural problems come back as a failed outcome, with the plaintext
// still attached whenever decryption ran, so the dump sink can persist it.
func (c *Codec) Decode(dg *core.Datagram) *core.Outcome {
	o := &core.Outcome{Datagram: dg}

	magic, plaintext, err := c.transform.Decrypt(dg.Payload)
	if err != nil {
		o.Err = err
		return o
	}
	o.Magic = magic
	o.Plaintext = plaintext

	records, err := Parse(plaintext)
	if err != nil {
		o.Err = err
		return o
	}
	o.Records = records
	return o
}
