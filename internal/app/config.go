package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/gateway/vnpay"
	"github.com/vladislavdragonenkov/storefront/internal/httpapi"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Переменные окружения, которые читает ConfigFromEnv.
const (
	EnvHTTPAddr                    = "STOREFRONT_HTTP_ADDR"
	EnvMetricsAddr                 = "STOREFRONT_METRICS_ADDR"
	EnvGRPCAddr                    = "STOREFRONT_GRPC_ADDR"
	EnvStorageDriver               = "STOREFRONT_STORAGE_DRIVER"
	EnvPostgresDSN                 = "STOREFRONT_POSTGRES_DSN"
	EnvPostgresAutoMigrate         = "STOREFRONT_POSTGRES_AUTO_MIGRATE"
	EnvSeedDemo                    = "STOREFRONT_SEED_DEMO"
	EnvApplyOnReturn               = "STOREFRONT_APPLY_ON_RETURN"
	EnvAllowedOrigins              = "STOREFRONT_ALLOWED_ORIGINS"
	EnvCheckoutRateLimit           = "STOREFRONT_CHECKOUT_RATE_LIMIT"
	EnvCallbackRateLimit           = "STOREFRONT_CALLBACK_RATE_LIMIT"
	EnvRateWindow                  = "STOREFRONT_RATE_WINDOW"
	EnvOutboxPollInterval          = "STOREFRONT_OUTBOX_POLL_INTERVAL"
	EnvOutboxBatchSize             = "STOREFRONT_OUTBOX_BATCH_SIZE"
	EnvOutboxMaxAttempts           = "STOREFRONT_OUTBOX_MAX_ATTEMPTS"
	EnvOutboxRetryDelay            = "STOREFRONT_OUTBOX_RETRY_DELAY"
	EnvIdempotencyTTL              = "STOREFRONT_IDEMPOTENCY_TTL"
	EnvIdempotencyCleanupInterval  = "STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL"
	EnvIdempotencyCleanupBatchSize = "STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	EnvReconciliationInterval      = "STOREFRONT_RECONCILIATION_INTERVAL"
	EnvDiscountCacheTTL            = "STOREFRONT_DISCOUNT_CACHE_TTL"
	EnvFrontendURL                 = "FRONTEND_URL"
	EnvKafkaBrokers                = "KAFKA_BROKERS"
	EnvKafkaConsumerGroup          = "KAFKA_CONSUMER_GROUP"
	EnvRedisAddr                   = "REDIS_ADDR"
	EnvRedisPassword               = "REDIS_PASSWORD"
	EnvRedisDB                     = "REDIS_DB"
	EnvJWTSecret                   = "JWT_SECRET"
	EnvJWTIssuer                   = "JWT_ISSUER"
	EnvVNPayTmnCode                = "VNPAY_TMN_CODE"
	EnvVNPaySecureSecret           = "VNPAY_SECURE_SECRET"
	EnvVNPayHost                   = "VNPAY_HOST"
	EnvVNPayReturnURL              = "VNPAY_RETURN_URL"
	EnvVNPayTestMode               = "VNPAY_TEST_MODE"
	EnvVNPayHashAlgorithm          = "VNPAY_HASH_ALGORITHM"
)

// Config описывает настройки запуска storefront.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	// GRPCAddr — адрес ops gRPC (health + reflection); пусто отключает сервер.
	GRPCAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// SeedDemo заполняет memory-хранилище демонстрационным каталогом.
	SeedDemo bool

	VNPay       vnpay.Config
	FrontendURL string
	// ApplyOnReturn применяет оплату и по return URL, когда IPN не доходит до хоста (sandbox).
	ApplyOnReturn bool

	HTTP httpapi.Config

	JWTSecret string
	JWTIssuer string

	KafkaBrokers       []string
	KafkaClientID      string
	KafkaConsumerGroup string
	KafkaMaxRetries    int

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	DiscountCacheTTL time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	ReconciliationInterval time.Duration
}

// DefaultConfig возвращает настройки локальной разработки: memory-хранилище и sandbox VNPay.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		VNPay:       vnpay.DefaultConfig(),
		FrontendURL: "http://localhost:3000",

		HTTP: httpapi.DefaultConfig(),

		JWTIssuer: "storefront",

		KafkaClientID:      "storefront",
		KafkaConsumerGroup: "storefront-reconciliation-alerts",
		KafkaMaxRetries:    3,

		DiscountCacheTTL: time.Minute,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   200 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		ReconciliationInterval: time.Minute,
	}
}

// Validate проверяет настройки до запуска; ошибки собираются вместе.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, fmt.Errorf("%s is required for postgres storage", EnvPostgresDSN))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, fmt.Errorf("%s is required", EnvJWTSecret))
	}
	if strings.TrimSpace(c.FrontendURL) == "" {
		errs = append(errs, fmt.Errorf("%s is required", EnvFrontendURL))
	}
	if err := c.VNPay.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// EnvLookup — сигнатура os.LookupEnv.
type EnvLookup func(key string) (string, bool)

// ConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректное значение не роняет запуск: остаётся значение по умолчанию, а в ответ добавляется предупреждение.
func ConfigFromEnv(lookup EnvLookup) (Config, []string) {
	cfg := DefaultConfig()
	var warnings []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}

	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDur := func(v time.Duration) bool { return v > 0 }
	nonNegativeDur := func(v time.Duration) bool { return v >= 0 }

	str(EnvHTTPAddr, &cfg.HTTPAddr)
	str(EnvMetricsAddr, &cfg.MetricsAddr)
	str(EnvGRPCAddr, &cfg.GRPCAddr)

	str(EnvStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(EnvPostgresDSN, &cfg.PostgresDSN)
	boolean(EnvPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	boolean(EnvSeedDemo, &cfg.SeedDemo)

	str(EnvFrontendURL, &cfg.FrontendURL)
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	boolean(EnvApplyOnReturn, &cfg.ApplyOnReturn)

	if v, ok := lookup(EnvAllowedOrigins); ok {
		cfg.HTTP.AllowedOrigins = splitList(v)
	} else if cfg.FrontendURL != "" {
		cfg.HTTP.AllowedOrigins = []string{cfg.FrontendURL}
	}
	integer(EnvCheckoutRateLimit, &cfg.HTTP.CheckoutRateLimit, nonNegative, "must be >= 0")
	integer(EnvCallbackRateLimit, &cfg.HTTP.CallbackRateLimit, nonNegative, "must be >= 0")
	duration(EnvRateWindow, &cfg.HTTP.RateWindow, positiveDur, "must be > 0")

	str(EnvJWTSecret, &cfg.JWTSecret)
	str(EnvJWTIssuer, &cfg.JWTIssuer)

	if v, ok := lookup(EnvKafkaBrokers); ok {
		cfg.KafkaBrokers = splitList(v)
	}
	str(EnvKafkaConsumerGroup, &cfg.KafkaConsumerGroup)

	str(EnvRedisAddr, &cfg.RedisAddr)
	str(EnvRedisPassword, &cfg.RedisPassword)
	integer(EnvRedisDB, &cfg.RedisDB, nonNegative, "must be >= 0")
	duration(EnvDiscountCacheTTL, &cfg.DiscountCacheTTL, positiveDur, "must be > 0")

	duration(EnvOutboxPollInterval, &cfg.OutboxPollInterval, positiveDur, "must be > 0")
	integer(EnvOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(EnvOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(EnvOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDur, "must be >= 0")

	duration(EnvIdempotencyTTL, &cfg.IdempotencyTTL, positiveDur, "must be > 0")
	duration(EnvIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDur, "must be > 0")
	integer(EnvIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")

	duration(EnvReconciliationInterval, &cfg.ReconciliationInterval, positiveDur, "must be > 0")

	str(EnvVNPayTmnCode, &cfg.VNPay.TmnCode)
	str(EnvVNPaySecureSecret, &cfg.VNPay.SecureSecret)
	str(EnvVNPayHost, &cfg.VNPay.Host)
	str(EnvVNPayReturnURL, &cfg.VNPay.ReturnURL)
	boolean(EnvVNPayTestMode, &cfg.VNPay.TestMode)
	if v, ok := lookup(EnvVNPayHashAlgorithm); ok && strings.TrimSpace(v) != "" {
		cfg.VNPay.HashAlgorithm = vnpay.HashAlgorithm(strings.ToUpper(strings.TrimSpace(v)))
	}

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
