package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ultramarket/orderflow/internal/domain"
)

type stockRepository struct {
	db *sql.DB
}

// NewStockRepository создаёт PostgreSQL-реализацию StockRepository.
func NewStockRepository(store *Store) domain.StockRepository {
	return &stockRepository{db: store.DB()}
}

func (r *stockRepository) Create(record domain.StockRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stock_records (
			sku, available, reserved, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6)
	`,
		record.SKU, record.Available, record.Reserved, record.Version,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrStockVersionConflict
		}
		return fmt.Errorf("insert stock record: %w", err)
	}

	return nil
}

func (r *stockRepository) Get(sku string) (domain.StockRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var record domain.StockRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT sku, available, reserved, version, created_at, updated_at
		FROM stock_records
		WHERE sku = $1
	`, sku).Scan(
		&record.SKU, &record.Available, &record.Reserved, &record.Version,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockRecord{}, domain.ErrStockNotFound
		}
		return domain.StockRecord{}, fmt.Errorf("select stock record: %w", err)
	}

	return record, nil
}

func (r *stockRepository) Save(record domain.StockRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE stock_records
		SET available = $1,
		    reserved = $2,
		    version = version + 1,
		    updated_at = $3
		WHERE sku = $4
		  AND version = $5
	`,
		record.Available, record.Reserved, record.UpdatedAt,
		record.SKU, record.Version,
	)
	if err != nil {
		return fmt.Errorf("update stock record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.stockExists(ctx, record.SKU)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrStockNotFound
		}
		return domain.ErrStockVersionConflict
	}

	return nil
}

func (r *stockRepository) stockExists(ctx context.Context, sku string) (bool, error) {
	var found string
	err := r.db.QueryRowContext(ctx, `SELECT sku FROM stock_records WHERE sku = $1`, sku).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check stock exists: %w", err)
}

var _ domain.StockRepository = (*stockRepository)(nil)
