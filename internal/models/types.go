package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// All monetary amounts are integer minor units (kobo, cents). Floating
// point never touches a balance; decimals appear only in FX rate snapshots.

// AgentAuthorization is a human-granted, capped daily spending permission
// for one agent identity and one category. Mutated only by the budget
// ledger's deduct/refund and by the lazy daily reset those apply.
type AgentAuthorization struct {
	ID             int64               `json:"id"`
	EscrowID       int64               `json:"escrow_id"`
	AgentWallet    string              `json:"agent_wallet"`
	Category       string              `json:"category"`
	MaxDailyBudget int64               `json:"max_daily_budget"`
	SpentToday     int64               `json:"spent_today"`
	Status         AuthorizationStatus `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Remaining is the budget left today. Callers must have applied the daily
// reset first; this is arithmetic, not policy.
func (a *AgentAuthorization) Remaining() int64 {
	return a.MaxDailyBudget - a.SpentToday
}

// SpendTransaction is the audit record of one attempted spend. It is
// created pending at the moment budget is reserved and advances
// monotonically to a terminal status.
type SpendTransaction struct {
	ID              string            `json:"id"`
	AuthorizationID int64             `json:"authorization_id"`
	MerchantID      string            `json:"merchant_id"`
	MerchantName    string            `json:"merchant_name"`
	ItemID          string            `json:"item_id"`
	AmountUSD       int64             `json:"amount_usd"`
	AmountLocal     int64             `json:"amount_local"`
	ExternalCode    string            `json:"external_code,omitempty"`
	Status          TransactionStatus `json:"status"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// CategoryAllocation is one named slice of a requested funding total.
type CategoryAllocation struct {
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

// FundingIntent records an on-ramp request made before the escrow it will
// fund exists. ExternalCode is globally unique and is the idempotency key
// for the confirming webhook.
type FundingIntent struct {
	ID             int64                `json:"id"`
	SenderID       string               `json:"sender_id"`
	Recipient      string               `json:"recipient"`
	TotalRequested int64                `json:"total_requested"`
	Allocations    []CategoryAllocation `json:"allocations"`
	OnRampPhone    string               `json:"onramp_phone"`
	FXRate         decimal.Decimal      `json:"fx_rate"`
	ExpectedAmount int64                `json:"expected_amount"`
	ExternalCode   string               `json:"external_code"`
	Status         IntentStatus         `json:"status"`
	EscrowID       *int64               `json:"escrow_id,omitempty"`
	LastPayload    []byte               `json:"-"`
	FailureReason  string               `json:"failure_reason,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

// Escrow is a balance held against a sender, disbursed only through
// payment requests against its categories.
type Escrow struct {
	ID        int64        `json:"id"`
	SenderID  string       `json:"sender_id"`
	Recipient string       `json:"recipient"`
	Total     int64        `json:"total"`
	Remaining int64        `json:"remaining"`
	Spent     int64        `json:"spent"`
	Status    EscrowStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// SpendingCategory is a per-escrow named allocation. Invariant:
// remaining = allocated - spent, and the sum of allocations never exceeds
// the escrow total.
type SpendingCategory struct {
	ID        int64  `json:"id"`
	EscrowID  int64  `json:"escrow_id"`
	Name      string `json:"name"`
	Allocated int64  `json:"allocated"`
	Spent     int64  `json:"spent"`
	Remaining int64  `json:"remaining"`
}

// Merchant is a catalog entry: somewhere an agent is allowed to spend.
type Merchant struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Category     string `json:"category" yaml:"category"`
	PayoutMSISDN string `json:"payout_msisdn" yaml:"payout_msisdn"`
	Items        []Item `json:"items" yaml:"items"`
}

// Item is a priced catalog entry under a merchant. PriceUSD and PriceLocal
// are minor units in their respective currencies.
type Item struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	PriceUSD   int64  `json:"price_usd" yaml:"price_usd"`
	PriceLocal int64  `json:"price_local" yaml:"price_local"`
}
