package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrBadPayload = errors.New("malformed webhook payload")

// Confirmation is the provider-neutral reading of a funding webhook.
type Confirmation struct {
	Provider       string
	ExternalCode   string
	Succeeded      bool
	AmountReceived int64
	Reason         string
	Raw            []byte
}

// ParsePayload normalizes a provider webhook body. Providers differ in
// status vocabulary but agree on the shape: a unique transaction_code, a
// status, and the confirmed received amount.
func ParsePayload(provider string, body []byte) (*Confirmation, error) {
	var p struct {
		TransactionCode string `json:"transaction_code"`
		Status          string `json:"status"`
		AmountReceived  int64  `json:"amount_received"`
		Reason          string `json:"reason"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if p.TransactionCode == "" {
		return nil, fmt.Errorf("%w: missing transaction_code", ErrBadPayload)
	}

	var succeeded bool
	switch strings.ToLower(p.Status) {
	case "successful", "success", "completed":
		succeeded = true
	case "failed", "cancelled", "reversed", "timeout":
		succeeded = false
	default:
		return nil, fmt.Errorf("%w: unrecognized status %q", ErrBadPayload, p.Status)
	}

	return &Confirmation{
		Provider:       provider,
		ExternalCode:   p.TransactionCode,
		Succeeded:      succeeded,
		AmountReceived: p.AmountReceived,
		Reason:         p.Reason,
		Raw:            body,
	}, nil
}
