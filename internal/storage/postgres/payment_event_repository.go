package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ultramarket/orderflow/internal/domain"
)

type paymentEventRepository struct {
	db *sql.DB
}

// NewPaymentEventRepository создаёт PostgreSQL-реализацию PaymentEventRepository.
func NewPaymentEventRepository(store *Store) domain.PaymentEventRepository {
	return &paymentEventRepository{db: store.DB()}
}

// Create сохраняет событие; повторная вставка того же (gateway, event_id)
// упирается в unique violation и возвращает ErrDuplicateEvent.
func (r *paymentEventRepository) Create(event domain.PaymentEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = now
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_events (
			gateway, event_id, order_id, outcome, amount_minor, raw_payload,
			parked, processed_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		event.Gateway, event.EventID, event.OrderID, string(event.Outcome),
		event.AmountMinor, event.RawPayload, event.Parked,
		event.ProcessedAt, event.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateEvent
		}
		return fmt.Errorf("insert payment event: %w", err)
	}

	return nil
}

func (r *paymentEventRepository) Get(gateway, eventID string) (domain.PaymentEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		event   domain.PaymentEvent
		outcome string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT gateway, event_id, order_id, outcome, amount_minor, raw_payload,
		       parked, processed_at, created_at
		FROM payment_events
		WHERE gateway = $1
		  AND event_id = $2
	`, gateway, eventID).Scan(
		&event.Gateway, &event.EventID, &event.OrderID, &outcome,
		&event.AmountMinor, &event.RawPayload, &event.Parked,
		&event.ProcessedAt, &event.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PaymentEvent{}, domain.ErrEventNotFound
		}
		return domain.PaymentEvent{}, fmt.Errorf("select payment event: %w", err)
	}
	event.Outcome = domain.PaymentOutcome(outcome)

	return event, nil
}

func (r *paymentEventRepository) Park(gateway, eventID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE payment_events
		SET parked = TRUE,
		    processed_at = $3
		WHERE gateway = $1
		  AND event_id = $2
	`, gateway, eventID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("park payment event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrEventNotFound
	}

	return nil
}

func (r *paymentEventRepository) Unpark(gateway, eventID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE payment_events
		SET parked = FALSE,
		    processed_at = $3
		WHERE gateway = $1
		  AND event_id = $2
		  AND parked
	`, gateway, eventID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("unpark payment event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.eventExists(ctx, gateway, eventID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrEventNotFound
		}
		return domain.ErrEventNotParked
	}

	return nil
}

func (r *paymentEventRepository) ListParked(limit int) ([]domain.PaymentEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT gateway, event_id, order_id, outcome, amount_minor, raw_payload,
		       parked, processed_at, created_at
		FROM payment_events
		WHERE parked
		ORDER BY created_at ASC, event_id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list parked payment events: %w", err)
	}
	defer rows.Close()

	result := make([]domain.PaymentEvent, 0)
	for rows.Next() {
		var (
			event   domain.PaymentEvent
			outcome string
		)
		if err := rows.Scan(
			&event.Gateway, &event.EventID, &event.OrderID, &outcome,
			&event.AmountMinor, &event.RawPayload, &event.Parked,
			&event.ProcessedAt, &event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan payment event: %w", err)
		}
		event.Outcome = domain.PaymentOutcome(outcome)
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment events: %w", err)
	}

	return result, nil
}

func (r *paymentEventRepository) eventExists(ctx context.Context, gateway, eventID string) (bool, error) {
	var found string
	err := r.db.QueryRowContext(ctx, `
		SELECT event_id FROM payment_events WHERE gateway = $1 AND event_id = $2
	`, gateway, eventID).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check payment event exists: %w", err)
}

var _ domain.PaymentEventRepository = (*paymentEventRepository)(nil)
