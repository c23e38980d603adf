package domain_test

import (
	"testing"

	"github.com/ultramarket/orderflow/internal/domain"
)

func TestPaymentEventValidate(t *testing.T) {
	event := domain.PaymentEvent{
		EventID: "evt-1",
		Gateway: "click",
		OrderID: "order-1",
		Outcome: domain.PaymentOutcomeSuccess,
	}
	if errs := event.Validate(); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}

	event = domain.PaymentEvent{}
	if errs := event.Validate(); len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %v", errs)
	}
}
