package domain_test

import (
	"testing"

	"github.com/ultramarket/orderflow/internal/domain"
)

func makeSnapshot() domain.CartSnapshot {
	return domain.CartSnapshot{
		CustomerID: "customer-1",
		Currency:   "UZS",
		Lines: []domain.CartLine{
			{SKU: "sku-1", Qty: 2, PriceMinor: 1500},
			{SKU: "sku-2", Qty: 1, PriceMinor: 700},
		},
	}
}

func TestCartSnapshotTotalMinor(t *testing.T) {
	snap := makeSnapshot()
	if got := snap.TotalMinor(); got != 3700 {
		t.Fatalf("total = %d, want 3700", got)
	}
}

func TestCartSnapshotValidate(t *testing.T) {
	snap := makeSnapshot()
	if errs := snap.Validate(); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}

	snap.CustomerID = ""
	snap.Lines[0].Qty = 0
	if errs := snap.Validate(); len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}

	empty := domain.CartSnapshot{}
	if errs := empty.Validate(); len(errs) == 0 {
		t.Fatalf("empty snapshot must not validate")
	}
}
