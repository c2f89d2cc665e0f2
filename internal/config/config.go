// Package config reads the environment of every medstore binary.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"

	SequencePostgres = "postgres"
	SequenceRedis    = "redis"
	SequenceMemory   = "memory"
)

type Config struct {
	ServiceName string
	Port        string
	LogLevel    string

	Storage     string
	DatabaseURL string

	KafkaBrokers string
	KafkaTopic   string
	KafkaGroupID string

	RedisAddr     string
	RedisPassword string
	Sequence      string

	JWTSecret string
	JWTIssuer string

	EventBuffer         int
	OutboxRelayInterval time.Duration

	PaymentExpiry       time.Duration
	ExpirySweepInterval time.Duration
	ExpiryBatch         int

	S3Bucket      string
	S3Region      string
	S3Endpoint    string
	MaxProofBytes int64

	CheckoutRPS    float64
	CheckoutBurst  int
	RequestTimeout time.Duration

	OTLPEndpoint string
}

// Load reads the configuration. service names the binary and is the default
// SERVICE_NAME.
func Load(service string) (Config, error) {
	var errs []error
	p := parser{errs: &errs}

	cfg := Config{
		ServiceName: getenv("SERVICE_NAME", service),
		Port:        getenv("PORT", "8080"),
		LogLevel:    strings.ToUpper(getenv("LOG_LEVEL", "INFO")),

		Storage:     strings.ToLower(getenv("STORAGE", StoragePostgres)),
		DatabaseURL: getenv("DATABASE_URL", ""),

		KafkaBrokers: getenv("KAFKA_BROKERS", ""),
		KafkaTopic:   getenv("KAFKA_TOPIC", "medstore.orders"),
		KafkaGroupID: getenv("KAFKA_GROUP_ID", service),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTIssuer: getenv("JWT_ISSUER", "medstore"),

		EventBuffer:         p.getInt("EVENT_BUFFER", 256),
		OutboxRelayInterval: p.getMillis("OUTBOX_RELAY_INTERVAL_MS", 5*time.Second),

		PaymentExpiry:       p.getDuration("PAYMENT_EXPIRY", 72*time.Hour),
		ExpirySweepInterval: p.getDuration("EXPIRY_SWEEP_INTERVAL", 15*time.Minute),
		ExpiryBatch:         p.getInt("EXPIRY_BATCH", 100),

		S3Bucket:      getenv("S3_BUCKET", ""),
		S3Region:      getenv("S3_REGION", "us-east-1"),
		S3Endpoint:    getenv("S3_ENDPOINT", ""),
		MaxProofBytes: int64(p.getInt("MAX_PROOF_BYTES", 5<<20)),

		CheckoutRPS:    p.getFloat("CHECKOUT_RPS", 5),
		CheckoutBurst:  p.getInt("CHECKOUT_BURST", 10),
		RequestTimeout: p.getMillis("REQUEST_TIMEOUT_MS", 10*time.Second),

		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	switch cfg.Storage {
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required"))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("STORAGE must be %s or %s, got %q", StoragePostgres, StorageMemory, cfg.Storage))
	}

	def := SequencePostgres
	if cfg.Storage == StorageMemory {
		def = SequenceMemory
	}
	cfg.Sequence = strings.ToLower(getenv("SEQUENCE_BACKEND", def))
	switch cfg.Sequence {
	case SequencePostgres:
		if cfg.Storage == StorageMemory {
			errs = append(errs, errors.New("SEQUENCE_BACKEND=postgres needs STORAGE=postgres"))
		}
	case SequenceRedis:
		if cfg.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for SEQUENCE_BACKEND=redis"))
		}
	case SequenceMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown SEQUENCE_BACKEND %q", cfg.Sequence))
	}

	if cfg.PaymentExpiry <= 0 {
		errs = append(errs, errors.New("PAYMENT_EXPIRY must be positive"))
	}
	if cfg.ExpiryBatch <= 0 {
		errs = append(errs, errors.New("EXPIRY_BATCH must be positive"))
	}
	if cfg.MaxProofBytes <= 0 {
		errs = append(errs, errors.New("MAX_PROOF_BYTES must be positive"))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// KafkaEnabled reports whether any broker is configured.
func (c Config) KafkaEnabled() bool {
	return strings.TrimSpace(c.KafkaBrokers) != ""
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

type parser struct {
	errs *[]error
}

func (p parser) fail(k, v string, err error) {
	*p.errs = append(*p.errs, fmt.Errorf("%s=%q: %w", k, v, err))
}

func (p parser) getInt(k string, def int) int {
	v := getenv(k, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(k, v, err)
		return def
	}
	return n
}

func (p parser) getFloat(k string, def float64) float64 {
	v := getenv(k, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(k, v, err)
		return def
	}
	return f
}

func (p parser) getDuration(k string, def time.Duration) time.Duration {
	v := getenv(k, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(k, v, err)
		return def
	}
	return d
}

func (p parser) getMillis(k string, def time.Duration) time.Duration {
	v := getenv(k, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(k, v, err)
		return def
	}
	return time.Duration(n) * time.Millisecond
}
