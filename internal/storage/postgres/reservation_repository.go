package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ultramarket/orderflow/internal/domain"
)

type reservationRepository struct {
	db *sql.DB
}

// NewReservationRepository создаёт PostgreSQL-реализацию ReservationRepository.
func NewReservationRepository(store *Store) domain.ReservationRepository {
	return &reservationRepository{db: store.DB()}
}

func (r *reservationRepository) Create(res domain.Reservation) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reservations (
			id, order_id, sku, qty, status, created_at, expires_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		res.ID, res.OrderID, res.SKU, res.Qty, string(res.Status),
		res.CreatedAt, res.ExpiresAt, res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}

	return nil
}

func (r *reservationRepository) Get(id string) (domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := scanReservation(r.db.QueryRowContext(ctx, `
		SELECT id, order_id, sku, qty, status, created_at, expires_at, updated_at
		FROM reservations
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("select reservation: %w", err)
	}

	return res, nil
}

func (r *reservationRepository) ListByOrder(orderID string) ([]domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, sku, qty, status, created_at, expires_at, updated_at
		FROM reservations
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list reservations by order: %w", err)
	}
	defer rows.Close()

	return collectReservations(rows)
}

func (r *reservationRepository) ListExpired(before time.Time, limit int) ([]domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, sku, qty, status, created_at, expires_at, updated_at
		FROM reservations
		WHERE status = 'active'
		  AND expires_at <= $1
		ORDER BY expires_at ASC, id ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	defer rows.Close()

	return collectReservations(rows)
}

// TransitionStatus — CAS по статусу: UPDATE срабатывает только если резерв
// всё ещё в статусе from. Проигравший гонку commit/expire получает
// ErrReservationNotActive.
func (r *reservationRepository) TransitionStatus(id string, from, to domain.ReservationStatus) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE reservations
		SET status = $1,
		    updated_at = $2
		WHERE id = $3
		  AND status = $4
	`, string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return fmt.Errorf("transition reservation status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.reservationExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrReservationNotFound
		}
		return domain.ErrReservationNotActive
	}

	return nil
}

func (r *reservationRepository) reservationExists(ctx context.Context, id string) (bool, error) {
	var found string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM reservations WHERE id = $1`, id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check reservation exists: %w", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (domain.Reservation, error) {
	var (
		res    domain.Reservation
		status string
	)
	if err := row.Scan(
		&res.ID, &res.OrderID, &res.SKU, &res.Qty, &status,
		&res.CreatedAt, &res.ExpiresAt, &res.UpdatedAt,
	); err != nil {
		return domain.Reservation{}, err
	}
	res.Status = domain.ReservationStatus(status)
	return res, nil
}

func collectReservations(rows *sql.Rows) ([]domain.Reservation, error) {
	result := make([]domain.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		result = append(result, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}

	return result, nil
}

var _ domain.ReservationRepository = (*reservationRepository)(nil)
