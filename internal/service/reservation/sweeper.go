package reservation

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ultramarket/orderflow/internal/domain"
)

const (
	defaultSweepInterval  = time.Minute
	defaultSweepBatchSize = 500
)

// SweeperOptions задаёт параметры воркера снятия просроченных резервов.
type SweeperOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
}

// SweeperOption настраивает Sweeper.
type SweeperOption func(*SweeperOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Logger = logger
	}
}

// WithInterval задаёт интервал между циклами sweep.
func WithInterval(interval time.Duration) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задаёт размер выборки просроченных резервов за один проход.
func WithBatchSize(batchSize int) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.BatchSize = batchSize
	}
}

// Sweeper периодически снимает просроченные резервы, возвращая сток
// в доступный остаток. Гонка с параллельным commit разрешается на
// уровне перехода статуса резерва: проигравшая сторона получает
// ErrReservationNotActive и ничего не меняет.
type Sweeper struct {
	ledger       domain.InventoryLedger
	reservations domain.ReservationRepository
	logger       *log.Entry
	interval     time.Duration
	batchSize    int
}

// NewSweeper создаёт воркер снятия просроченных резервов.
func NewSweeper(ledger domain.InventoryLedger, reservations domain.ReservationRepository, options ...SweeperOption) *Sweeper {
	opts := SweeperOptions{
		Interval:  defaultSweepInterval,
		BatchSize: defaultSweepBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reservation-sweeper")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatchSize
	}

	return &Sweeper{
		ledger:       ledger,
		reservations: reservations,
		logger:       logger,
		interval:     opts.Interval,
		batchSize:    opts.BatchSize,
	}
}

// Run запускает периодический sweep до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.reservations == nil {
		s.logger.Warn("reservation sweeper is disabled: repo is nil")
		return
	}

	s.sweep(ctx, time.Now().UTC())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx, time.Now().UTC())
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, before time.Time) {
	expired, err := s.SweepExpired(ctx, before)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.WithError(err).Warn("reservation sweep run failed")
		return
	}
	if expired > 0 {
		s.logger.WithField("expired", expired).Info("reservation sweep completed")
	}
}

// SweepExpired снимает все активные резервы с expires_at <= before порциями
// batchSize и возвращает количество снятых.
func (s *Sweeper) SweepExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		batch, err := s.reservations.ListExpired(before, s.batchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			break
		}

		for _, res := range batch {
			if err := s.ledger.Expire(res.ID); err != nil {
				if errors.Is(err, domain.ErrReservationNotActive) {
					continue
				}
				s.logger.WithError(err).WithFields(log.Fields{
					"reservation_id": res.ID,
					"sku":            res.SKU,
				}).Error("reservation expire failed")
				continue
			}
			total++
		}

		if len(batch) < s.batchSize {
			break
		}
	}

	return total, nil
}
