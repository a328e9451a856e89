package payment

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/KayaSend/remit-backend/internal/audit"
	"github.com/KayaSend/remit-backend/internal/catalog"
	"github.com/KayaSend/remit-backend/internal/ledger"
	"github.com/KayaSend/remit-backend/internal/models"
	"github.com/KayaSend/remit-backend/internal/settle"
)

const wallet = "0xAGENT"

func fixtureCatalog() catalog.Directory {
	return catalog.NewStatic([]models.Merchant{{
		ID:           "ikeja-electric",
		Name:         "Ikeja Electric",
		Category:     "utilities",
		PayoutMSISDN: "2348000000001",
		Items: []models.Item{
			{ID: "prepaid-385", Name: "Prepaid units", PriceUSD: 385, PriceLocal: 592900},
			{ID: "prepaid-5000", Name: "Prepaid bulk", PriceUSD: 5000, PriceLocal: 7700000},
		},
	}})
}

type testEnv struct {
	protocol *Protocol
	ledger   *ledger.MemoryLedger
	audit    *audit.MemoryLog
	authID   int64
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	l := ledger.NewMemoryLedger()
	authID := l.Grant(models.AgentAuthorization{
		EscrowID:       1,
		AgentWallet:    wallet,
		Category:       "utilities",
		MaxDailyBudget: 5000,
	})
	auditLog := audit.NewMemoryLog()
	dispatcher := settle.NewInlineDispatcher(settle.SimulatedChannel{}, auditLog, l)
	p := NewProtocol(fixtureCatalog(), l, auditLog, dispatcher,
		Terms{Network: "base", Asset: "USDC", PayTo: "0xTREASURY"})
	return &testEnv{protocol: p, ledger: l, audit: auditLog, authID: authID}
}

func order(item string) OrderRequest {
	return OrderRequest{
		MerchantID:  "ikeja-electric",
		ItemID:      item,
		AgentWallet: wallet,
		Category:    "utilities",
		Resource:    "/merchant/ikeja-electric/order",
	}
}

func proof() *Proof {
	return &Proof{Signature: "0xsigned", Amount: 385, Network: "base", Asset: "USDC"}
}

func TestChallengeIsIdempotentAndPriced(t *testing.T) {
	env := newEnv(t)

	first, err := env.protocol.Challenge(order("prepaid-385"))
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	second, err := env.protocol.Challenge(order("prepaid-385"))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("challenge changed between retries")
	}

	a := first.Accepts[0]
	if a.MaxAmountRequired != "385" {
		t.Errorf("maxAmountRequired = %s, want 385", a.MaxAmountRequired)
	}
	if a.PayTo != "0xTREASURY" || a.Network != "base" || a.Asset != "USDC" {
		t.Errorf("unexpected terms: %+v", a)
	}

	// Challenge carries no side effect: full budget still validates.
	if _, err := env.ledger.Validate(context.Background(), wallet, "utilities", 5000); err != nil {
		t.Errorf("budget touched by challenge: %v", err)
	}
}

func TestChallengeUnknownMerchant(t *testing.T) {
	env := newEnv(t)
	req := order("prepaid-385")
	req.MerchantID = "ghost-mart"
	if _, err := env.protocol.Challenge(req); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestChallengeUnknownItem(t *testing.T) {
	env := newEnv(t)
	if _, err := env.protocol.Challenge(order("generator-fuel")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSpendHappyPath(t *testing.T) {
	env := newEnv(t)

	receipt, err := env.protocol.Spend(context.Background(), order("prepaid-385"), proof())
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if receipt.SpentToday != 385 {
		t.Errorf("spent = %d, want 385", receipt.SpentToday)
	}
	if receipt.RemainingBudget != 4615 {
		t.Errorf("remaining = %d, want 4615", receipt.RemainingBudget)
	}
	if receipt.Settlement != models.TxCompleted {
		t.Errorf("settlement = %s, want completed", receipt.Settlement)
	}
	if receipt.ExternalCode == "" {
		t.Error("receipt missing external code")
	}

	stored, err := env.audit.Get(context.Background(), receipt.TransactionID)
	if err != nil {
		t.Fatalf("audit row missing: %v", err)
	}
	if stored.Status != models.TxCompleted {
		t.Errorf("audit status = %s", stored.Status)
	}
}

func TestSpendBudgetExceededAfterPriorSpend(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	if _, err := env.protocol.Spend(ctx, order("prepaid-385"), proof()); err != nil {
		t.Fatalf("first spend: %v", err)
	}

	_, err := env.protocol.Spend(ctx, order("prepaid-5000"), proof())
	if !errors.Is(err, ledger.ErrBudgetExceeded) {
		t.Fatalf("err = %v, want ErrBudgetExceeded", err)
	}

	// Spend unchanged at 385.
	auth, err := env.ledger.Validate(ctx, wallet, "utilities", 1)
	if err != nil {
		t.Fatal(err)
	}
	if auth.SpentToday != 385 {
		t.Errorf("spent = %d, want 385", auth.SpentToday)
	}
}

func TestSpendCategoryMismatchNoMutation(t *testing.T) {
	env := newEnv(t)
	req := order("prepaid-385")
	req.Category = "food"

	_, err := env.protocol.Spend(context.Background(), req, proof())
	if !errors.Is(err, ledger.ErrCategoryMismatch) {
		t.Fatalf("err = %v, want ErrCategoryMismatch", err)
	}

	auth, err := env.ledger.Validate(context.Background(), wallet, "utilities", 1)
	if err != nil {
		t.Fatal(err)
	}
	if auth.SpentToday != 0 {
		t.Errorf("spent = %d, want 0", auth.SpentToday)
	}
}

func TestSpendRefundsWhenAuditRecordFails(t *testing.T) {
	env := newEnv(t)
	env.audit.FailRecord = true

	_, err := env.protocol.Spend(context.Background(), order("prepaid-385"), proof())
	if err == nil {
		t.Fatal("expected error")
	}

	auth, verr := env.ledger.Validate(context.Background(), wallet, "utilities", 5000)
	if verr != nil {
		t.Fatalf("budget leaked: %v", verr)
	}
	if auth.SpentToday != 0 {
		t.Errorf("spent = %d, want 0 after refund", auth.SpentToday)
	}
}

type downChannel struct{}

func (downChannel) Payout(ctx context.Context, msisdn string, amount int64, token string) (*settle.PayoutResult, error) {
	return nil, errors.New("timeout")
}

func TestSpendDispatchFailureCompensates(t *testing.T) {
	l := ledger.NewMemoryLedger()
	l.Grant(models.AgentAuthorization{
		AgentWallet:    wallet,
		Category:       "utilities",
		MaxDailyBudget: 5000,
	})
	auditLog := audit.NewMemoryLog()
	dispatcher := settle.NewInlineDispatcher(downChannel{}, auditLog, l)
	p := NewProtocol(fixtureCatalog(), l, auditLog, dispatcher,
		Terms{Network: "base", Asset: "USDC", PayTo: "0xTREASURY"})

	_, err := p.Spend(context.Background(), order("prepaid-385"), proof())
	var de *DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DispatchError", err)
	}
	if de.TxID == "" {
		t.Error("DispatchError missing transaction id")
	}

	stored, _ := auditLog.Get(context.Background(), de.TxID)
	if stored == nil || stored.Status != models.TxFailed {
		t.Errorf("audit row = %+v, want failed", stored)
	}

	auth, verr := l.Validate(context.Background(), wallet, "utilities", 5000)
	if verr != nil {
		t.Fatalf("budget not restored: %v", verr)
	}
	if auth.SpentToday != 0 {
		t.Errorf("spent = %d, want 0", auth.SpentToday)
	}
}

func TestParseProof(t *testing.T) {
	cases := []struct {
		name   string
		header string
		ok     bool
	}{
		{"valid", `{"signature":"0xabc","amount":385,"network":"base","asset":"USDC"}`, true},
		{"empty", "", false},
		{"not json", "pay me", false},
		{"missing signature", `{"amount":385}`, false},
		{"zero amount", `{"signature":"0xabc","amount":0}`, false},
		{"negative amount", `{"signature":"0xabc","amount":-1}`, false},
	}
	for _, tc := range cases {
		_, err := ParseProof(tc.header)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidProof) {
			t.Errorf("%s: err = %v, want ErrInvalidProof", tc.name, err)
		}
	}
}
