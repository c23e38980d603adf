package postgres

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ultramarket/orderflow/internal/domain"
)

func TestPaymentEventRepository_PostgresDedupeAndParking(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewPaymentEventRepository(store)

	event := domain.PaymentEvent{
		EventID:     "evt-100",
		Gateway:     "click",
		OrderID:     uuid.NewString(),
		Outcome:     domain.PaymentOutcomeSuccess,
		AmountMinor: 250000,
		RawPayload:  []byte(`{"event_id":"evt-100"}`),
	}

	if err := repo.Create(event); err != nil {
		t.Fatalf("create payment event: %v", err)
	}
	if err := repo.Create(event); !errors.Is(err, domain.ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}

	// Тот же event_id у другого шлюза — отдельное событие.
	other := event
	other.Gateway = "payme"
	if err := repo.Create(other); err != nil {
		t.Fatalf("create event for another gateway: %v", err)
	}

	got, err := repo.Get("click", "evt-100")
	if err != nil {
		t.Fatalf("get payment event: %v", err)
	}
	if got.Outcome != domain.PaymentOutcomeSuccess || got.Parked {
		t.Fatalf("unexpected payment event: %+v", got)
	}

	if err := repo.Unpark("click", "evt-100"); !errors.Is(err, domain.ErrEventNotParked) {
		t.Fatalf("expected ErrEventNotParked, got %v", err)
	}

	if err := repo.Park("click", "evt-100"); err != nil {
		t.Fatalf("park payment event: %v", err)
	}

	parked, err := repo.ListParked(10)
	if err != nil {
		t.Fatalf("list parked: %v", err)
	}
	if len(parked) != 1 || parked[0].EventID != "evt-100" || parked[0].Gateway != "click" {
		t.Fatalf("unexpected parked set: %+v", parked)
	}

	if err := repo.Unpark("click", "evt-100"); err != nil {
		t.Fatalf("unpark payment event: %v", err)
	}

	parked, err = repo.ListParked(10)
	if err != nil {
		t.Fatalf("list parked after unpark: %v", err)
	}
	if len(parked) != 0 {
		t.Fatalf("expected empty parked set, got %+v", parked)
	}

	if err := repo.Park("click", "missing"); !errors.Is(err, domain.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
	if _, err := repo.Get("click", "missing"); !errors.Is(err, domain.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound on get, got %v", err)
	}
}
