package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/KayaSend/remit-backend/internal/models"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := `
merchants:
  - id: ikeja-electric
    name: Ikeja Electric
    category: utilities
    payout_msisdn: "2348000000001"
    items:
      - id: prepaid-385
        name: Prepaid units
        price_usd: 385
        price_local: 592900
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	dir, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	m, ok := dir.GetMerchant("ikeja-electric")
	if !ok {
		t.Fatal("merchant not found")
	}
	if m.PayoutMSISDN != "2348000000001" {
		t.Errorf("payout msisdn = %s", m.PayoutMSISDN)
	}

	item, ok := dir.GetItem("ikeja-electric", "prepaid-385")
	if !ok {
		t.Fatal("item not found")
	}
	if item.PriceUSD != 385 || item.PriceLocal != 592900 {
		t.Errorf("prices = %d/%d", item.PriceUSD, item.PriceLocal)
	}
}

func TestLoadFileEmptyCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	os.WriteFile(path, []byte("merchants: []\n"), 0o644)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for empty catalog")
	}
}

func TestLookupMisses(t *testing.T) {
	dir := NewStatic([]models.Merchant{{
		ID:    "m1",
		Items: []models.Item{{ID: "i1"}},
	}})

	if _, ok := dir.GetMerchant("ghost"); ok {
		t.Error("found nonexistent merchant")
	}
	if _, ok := dir.GetItem("ghost", "i1"); ok {
		t.Error("found item under nonexistent merchant")
	}
	if _, ok := dir.GetItem("m1", "ghost"); ok {
		t.Error("found nonexistent item")
	}
}
