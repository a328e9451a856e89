package payment

import (
	"encoding/json"
	"fmt"
)

// Proof is the opaque payment authorization from the x-payment header. The
// signature is accepted as an opaque token; cryptographic verification is a
// collaborator concern, so parsing checks shape only.
type Proof struct {
	Signature string `json:"signature"`
	Amount    int64  `json:"amount"`
	Network   string `json:"network"`
	Asset     string `json:"asset"`
}

// ParseProof decodes the x-payment header value. Anything structurally
// unsound is ErrInvalidProof.
func ParseProof(header string) (*Proof, error) {
	if header == "" {
		return nil, fmt.Errorf("%w: empty header", ErrInvalidProof)
	}
	var p Proof
	if err := json.Unmarshal([]byte(header), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if p.Signature == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrInvalidProof)
	}
	if p.Amount <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount", ErrInvalidProof)
	}
	return &p, nil
}
