package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Serialize encodes an envelope to canonical CBOR.
func (e Envelope) Serialize() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("protocol: serialize: %w", err)
	}
	return cborEncMode.Marshal(e)
}

// DeserializeEnvelope decodes and validates an envelope.
func DeserializeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := cbor.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("protocol: unmarshal envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("protocol: invalid envelope: %w", err)
	}
	return e, nil
}
