package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Address identifies a message source or destination.
type Address struct {
	Role string `json:"role"`
	Node string `json:"node"`
}

// Envelope wraps every message that crosses the broker.
type Envelope struct {
	Version   int        `json:"v"`
	Type      string     `json:"type"`
	ID        string     `json:"id"`
	Src       Address    `json:"src"`
	Dst       Address    `json:"dst"`
	Timestamp time.Time  `json:"ts"`
	ExpiresAt time.Time  `json:"exp"`
	Payload   RawPayload `json:"p"`
}

// RawHeader is the minimal decode for routing decisions before full payload decode.
type RawHeader struct {
	Version   int       `json:"v"`
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Src       Address   `json:"src"`
	Dst       Address   `json:"dst"`
	ExpiresAt time.Time `json:"exp"`
}

// RawPayload holds a payload already encoded with the envelope's codec.
// Under JSON it is embedded verbatim; under CBOR it travels as a byte string.
type RawPayload []byte

// MarshalJSON embeds the payload bytes as-is.
func (p RawPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON keeps a copy of the raw payload bytes.
func (p *RawPayload) UnmarshalJSON(b []byte) error {
	*p = append((*p)[:0], b...)
	return nil
}

// NewEnvelope creates a JSON envelope with the default TTL for msgType.
func NewEnvelope(msgType string, src, dst Address, payload any) (*Envelope, error) {
	return NewEnvelopeWith(JSON, msgType, src, dst, payload)
}

// NewEnvelopeWith creates an envelope whose payload is encoded with c.
// The whole envelope must later be encoded with the same codec.
func NewEnvelopeWith(c Codec, msgType string, src, dst Address, payload any) (*Envelope, error) {
	p, err := c.Marshal(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Envelope{
		Version:   Version,
		Type:      msgType,
		ID:        uuid.New().String(),
		Src:       src,
		Dst:       dst,
		Timestamp: now,
		ExpiresAt: now.Add(DefaultTTLFor(msgType)),
		Payload:   p,
	}, nil
}

// Encode marshals the envelope to JSON.
func (e *Envelope) Encode() ([]byte, error) {
	return JSON.Marshal(e)
}

// EncodeWith marshals the envelope with c.
func (e *Envelope) EncodeWith(c Codec) ([]byte, error) {
	return c.Marshal(e)
}

// DecodePayload unmarshals a JSON payload into target.
func (e *Envelope) DecodePayload(target any) error {
	return JSON.Unmarshal(e.Payload, target)
}

// DecodePayloadWith unmarshals the payload with c.
func (e *Envelope) DecodePayloadWith(c Codec, target any) error {
	return c.Unmarshal(e.Payload, target)
}
