package domain_test

import (
	"errors"
	"testing"

	"github.com/ultramarket/orderflow/internal/domain"
)

func TestStockRecordReserve(t *testing.T) {
	rec := domain.StockRecord{SKU: "sku-1", Available: 10}

	if err := rec.Reserve(4); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if rec.Available != 6 || rec.Reserved != 4 {
		t.Fatalf("after reserve: available=%d reserved=%d", rec.Available, rec.Reserved)
	}

	if err := rec.Reserve(7); !errors.Is(err, domain.ErrOutOfStock) {
		t.Fatalf("over-reserve: got %v, want ErrOutOfStock", err)
	}
	if rec.Available != 6 || rec.Reserved != 4 {
		t.Fatalf("state mutated by failed reserve: available=%d reserved=%d", rec.Available, rec.Reserved)
	}
}

func TestStockRecordReserve_NonPositiveQty(t *testing.T) {
	rec := domain.StockRecord{SKU: "sku-1", Available: 10}
	if err := rec.Reserve(0); err == nil {
		t.Fatalf("reserve(0) must fail")
	}
	if err := rec.Reserve(-1); err == nil {
		t.Fatalf("reserve(-1) must fail")
	}
}

func TestStockRecordReleaseAndCommit(t *testing.T) {
	rec := domain.StockRecord{SKU: "sku-1", Available: 10}
	if err := rec.Reserve(6); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := rec.Release(2); err != nil {
		t.Fatalf("release: %v", err)
	}
	if rec.Available != 6 || rec.Reserved != 4 {
		t.Fatalf("after release: available=%d reserved=%d", rec.Available, rec.Reserved)
	}

	if err := rec.Commit(4); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if rec.Available != 6 || rec.Reserved != 0 {
		t.Fatalf("after commit: available=%d reserved=%d", rec.Available, rec.Reserved)
	}

	// Списывать больше, чем зарезервировано, нельзя.
	if err := rec.Commit(1); err == nil {
		t.Fatalf("commit beyond reserved must fail")
	}
	if err := rec.Release(1); err == nil {
		t.Fatalf("release beyond reserved must fail")
	}
}

// Сумма available + reserved + committed неизменна на любом цикле
// reserve/release/commit.
func TestStockRecordConservation(t *testing.T) {
	const stocked = int64(100)
	rec := domain.StockRecord{SKU: "sku-1", Available: stocked}

	var committed int64
	steps := []struct {
		op  string
		qty int64
	}{
		{"reserve", 30},
		{"release", 10},
		{"commit", 15},
		{"reserve", 40},
		{"commit", 5},
		{"release", 40},
	}

	for _, step := range steps {
		var err error
		switch step.op {
		case "reserve":
			err = rec.Reserve(step.qty)
		case "release":
			err = rec.Release(step.qty)
		case "commit":
			err = rec.Commit(step.qty)
			if err == nil {
				committed += step.qty
			}
		}
		if err != nil {
			t.Fatalf("%s(%d): %v", step.op, step.qty, err)
		}
		if got := rec.Available + rec.Reserved + committed; got != stocked {
			t.Fatalf("conservation broken after %s(%d): %d != %d", step.op, step.qty, got, stocked)
		}
	}
}

func TestStockRecordValidate(t *testing.T) {
	rec := domain.StockRecord{SKU: "", Available: -1}
	if errs := rec.Validate(); len(errs) != 2 {
		t.Fatalf("expected 2 validation errors, got %v", errs)
	}
}
