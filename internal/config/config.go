package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderVipps = "vipps"
	ProviderStub  = "stub"
)

const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
	TraceExporterOTLP   = "otlp"
)

type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Payment  PaymentConfig
	AMQP     AMQPConfig
	Tracing  TracingConfig
}

type AppConfig struct {
	Port          string
	LogLevel      string
	LogFormat     string
	MenuPath      string
	InitialStatus string
}

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MigrationsPath  string
}

// DSN returns a postgres:// URL understood by both pgx and lib/pq. Values are
// escaped, so empty passwords and special characters survive parsing.
func (c PostgresConfig) DSN() string {
	user := url.User(c.User)
	if c.Password != "" {
		user = url.UserPassword(c.User, c.Password)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     user,
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

type PaymentConfig struct {
	Enabled  bool
	Provider string
	Vipps    VippsConfig
}

type VippsConfig struct {
	BaseURL              string
	ClientID             string
	ClientSecret         string
	SubscriptionKey      string
	MerchantSerialNumber string
	CallbackPrefix       string
	FallbackURL          string
	Timeout              time.Duration
}

// AMQPConfig is optional; an empty URL disables status events.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// TracingConfig selects where spans go. The OTLP exporter also honours the
// standard OTEL_EXPORTER_OTLP_* variables.
type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	SampleRatio  float64
}

// NewConfig reads an optional .env file and then the process environment.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	return FromEnv()
}

// FromEnv builds the configuration from environment variables only.
func FromEnv() (*Config, error) {
	var (
		cfg Config
		err error
	)

	cfg.App.Port = getEnv("APP_PORT", "8080")
	cfg.App.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.App.LogFormat = getEnv("LOG_FORMAT", "console")
	cfg.App.MenuPath = getEnv("MENU_PATH", "configs/menu.yaml")
	cfg.App.InitialStatus = getEnv("ORDER_INITIAL_STATUS", "pending")

	cfg.Postgres.Host = getEnv("DB_HOST", "localhost")
	cfg.Postgres.Port = getEnv("DB_PORT", "5432")
	cfg.Postgres.User = getEnv("DB_USER", "postgres")
	cfg.Postgres.Password = os.Getenv("DB_PASSWORD")
	cfg.Postgres.DBName = getEnv("DB_NAME", "cafe_diem")
	cfg.Postgres.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Postgres.MigrationsPath = getEnv("DB_MIGRATIONS_PATH", "migrations")

	if cfg.Postgres.MaxConns, err = getEnvInt32("DB_MAX_CONNS", 10); err != nil {
		return nil, err
	}
	if cfg.Postgres.MinConns, err = getEnvInt32("DB_MIN_CONNS", 2); err != nil {
		return nil, err
	}
	if cfg.Postgres.MaxConnLifetime, err = getEnvDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Postgres.MinConns > cfg.Postgres.MaxConns {
		return nil, fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", cfg.Postgres.MinConns, cfg.Postgres.MaxConns)
	}

	if cfg.Payment.Enabled, err = getEnvBool("PAYMENT_ENABLED", false); err != nil {
		return nil, err
	}
	cfg.Payment.Provider = strings.ToLower(getEnv("PAYMENT_PROVIDER", ProviderVipps))

	vipps := &cfg.Payment.Vipps
	vipps.BaseURL = strings.TrimRight(getEnv("VIPPS_BASE_URL", "https://apitest.vipps.no"), "/")
	vipps.ClientID = os.Getenv("VIPPS_CLIENT_ID")
	vipps.ClientSecret = os.Getenv("VIPPS_CLIENT_SECRET")
	vipps.SubscriptionKey = os.Getenv("VIPPS_SUBSCRIPTION_KEY")
	vipps.MerchantSerialNumber = os.Getenv("VIPPS_MERCHANT_SERIAL_NUMBER")
	vipps.CallbackPrefix = os.Getenv("VIPPS_CALLBACK_PREFIX")
	vipps.FallbackURL = os.Getenv("VIPPS_FALLBACK_URL")
	if vipps.Timeout, err = getEnvDuration("VIPPS_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	cfg.AMQP.URL = os.Getenv("AMQP_URL")
	cfg.AMQP.Exchange = getEnv("AMQP_EXCHANGE", "order_status")

	cfg.Tracing.Exporter = strings.ToLower(getEnv("TRACING_EXPORTER", TraceExporterNone))
	cfg.Tracing.OTLPEndpoint = os.Getenv("TRACING_OTLP_ENDPOINT")
	if cfg.Tracing.SampleRatio, err = getEnvFloat("TRACING_SAMPLE_RATIO", 1); err != nil {
		return nil, err
	}
	if err := cfg.Tracing.validate(); err != nil {
		return nil, err
	}

	if err := cfg.Payment.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (p PaymentConfig) validate() error {
	if !p.Enabled {
		return nil
	}

	switch p.Provider {
	case ProviderStub:
		if p.Vipps.FallbackURL == "" {
			return errors.New("VIPPS_FALLBACK_URL is required when payments are enabled")
		}
		return nil
	case ProviderVipps:
	default:
		return fmt.Errorf("unknown PAYMENT_PROVIDER %q", p.Provider)
	}

	required := map[string]string{
		"VIPPS_CLIENT_ID":              p.Vipps.ClientID,
		"VIPPS_CLIENT_SECRET":          p.Vipps.ClientSecret,
		"VIPPS_SUBSCRIPTION_KEY":       p.Vipps.SubscriptionKey,
		"VIPPS_MERCHANT_SERIAL_NUMBER": p.Vipps.MerchantSerialNumber,
		"VIPPS_CALLBACK_PREFIX":        p.Vipps.CallbackPrefix,
		"VIPPS_FALLBACK_URL":           p.Vipps.FallbackURL,
	}
	var missing []string
	for key, value := range required {
		if value == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("missing vipps configuration: %s", strings.Join(missing, ", "))
	}

	return nil
}

func (t TracingConfig) validate() error {
	switch t.Exporter {
	case TraceExporterNone, TraceExporterStdout, TraceExporterOTLP:
	default:
		return fmt.Errorf("unknown TRACING_EXPORTER %q", t.Exporter)
	}
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATIO must be between 0 and 1, got %v", t.SampleRatio)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) (int32, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return int32(v), nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
