package app

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestNewDependencies_Memory(t *testing.T) {
	deps, err := NewDependencies(context.Background(), DefaultConfig(), log.WithField("component", "test"))
	if err != nil {
		t.Fatalf("NewDependencies failed: %v", err)
	}
	t.Cleanup(func() { _ = deps.Close() })

	if deps.Orders == nil || deps.Stock == nil || deps.Reservations == nil {
		t.Fatal("expected repositories to be initialized")
	}
	if deps.PaymentEvents == nil || deps.OutboxRepo == nil || deps.TimelineRepo == nil {
		t.Fatal("expected all repositories to be initialized")
	}
	if deps.Store != nil {
		t.Fatal("memory driver must not open a postgres store")
	}
}

func TestNewDependencies_UnknownDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "cassandra"

	if _, err := NewDependencies(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for unknown storage driver")
	}
}

func TestNewDependencies_PostgresRequiresDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = ""

	if _, err := NewDependencies(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for missing postgres dsn")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.SweepInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, cfg)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
