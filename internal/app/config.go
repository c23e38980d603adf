package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ultramarket/orderflow/internal/service/settlement"
)

// StorageDriver выбирает реализацию хранилища.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers []string
	RedisAddr    string

	GatewaySecrets settlement.GatewaySecrets

	ReservationTTL time.Duration
	SweepInterval  time.Duration
	SweepBatchSize int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
}

// DefaultConfig возвращает значения для локального запуска без внешних систем.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:            ":8080",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		GatewaySecrets:      settlement.GatewaySecrets{},
		ReservationTTL:      15 * time.Minute,
		SweepInterval:       time.Minute,
		SweepBatchSize:      500,
		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     100,
		OutboxMaxAttempts:   5,
		OutboxRetryDelay:    200 * time.Millisecond,
	}
}

// LoadConfigFromEnv собирает конфигурацию из переменных окружения,
// отсутствующие значения берутся из DefaultConfig.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()

	cfg.HTTPAddr = envString("ORDERFLOW_HTTP_ADDR", cfg.HTTPAddr)
	if driver := envString("ORDERFLOW_STORAGE_DRIVER", ""); driver != "" {
		cfg.StorageDriver = StorageDriver(driver)
	}
	cfg.PostgresDSN = envString("ORDERFLOW_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.PostgresAutoMigrate = envBool("ORDERFLOW_POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate)

	if brokers := envString("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	cfg.RedisAddr = envString("ORDERFLOW_REDIS_ADDR", cfg.RedisAddr)

	cfg.GatewaySecrets = settlement.GatewaySecrets{
		settlement.GatewayClick:  envString("ORDERFLOW_CLICK_SECRET", ""),
		settlement.GatewayPayme:  envString("ORDERFLOW_PAYME_SECRET", ""),
		settlement.GatewayUzcard: envString("ORDERFLOW_UZCARD_SECRET", ""),
		settlement.GatewayHumo:   envString("ORDERFLOW_HUMO_SECRET", ""),
	}

	cfg.ReservationTTL = envDuration("ORDERFLOW_RESERVATION_TTL", cfg.ReservationTTL)
	cfg.SweepInterval = envDuration("ORDERFLOW_SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.SweepBatchSize = envInt("ORDERFLOW_SWEEP_BATCH_SIZE", cfg.SweepBatchSize)

	cfg.OutboxPollInterval = envDuration("ORDERFLOW_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = envInt("ORDERFLOW_OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxAttempts = envInt("ORDERFLOW_OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts)
	cfg.OutboxRetryDelay = envDuration("ORDERFLOW_OUTBOX_RETRY_DELAY", cfg.OutboxRetryDelay)

	return cfg
}

func envString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
