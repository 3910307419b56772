package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

const (
	defaultHTTPAddr        = ":8080"
	defaultDatabaseURL     = "file:winetours.db?_pragma=busy_timeout(5000)"
	defaultJWTSecret       = "change-me-jwt-secret"
	defaultJWTTTL          = "12h"
	defaultLogLevel        = "info"
	defaultInvoicePrefix   = "WWT"
	defaultProposalPrefix  = "PRO"
	defaultBookingPrefix   = "BK"
	defaultFinalDueAfter   = "48h"
	defaultProposalValid   = "336h"
	defaultSweepInterval   = "5m"
	defaultApprovalLockTTL = "30s"
	defaultTimezone        = "America/Los_Angeles"
	defaultClockOutStream  = "timeclock:clockouts"
	defaultClockOutGroup   = "hoursync"
)

type Config struct {
	AppEnv       string
	HTTPAddr     string
	DatabaseURL  string
	MaxOpenConns int
	JWTSecret    string
	JWTTTL       time.Duration
	LogLevel     string
	CORSOrigins  []string
	// TimeclockTokenHash is the bcrypt hash of the token the time-tracking
	// subsystem presents on clock events.
	TimeclockTokenHash string
	TracingEnabled     bool
	Location           *time.Location

	Numbering NumberingConfig
	Invoice   InvoiceConfig
	Proposal  ProposalConfig
	Redis     RedisConfig
	PubSub    PubSubConfig
	Report    ReportConfig
}

type NumberingConfig struct {
	InvoicePrefix  string
	ProposalPrefix string
	BookingPrefix  string
}

type InvoiceConfig struct {
	FinalDueAfter   time.Duration
	ApprovalLockTTL time.Duration
}

type ProposalConfig struct {
	Validity      time.Duration
	SweepInterval time.Duration
}

type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	ClockOutStream string
	ClockOutGroup  string
	ConsumerName   string
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type PubSubConfig struct {
	ProjectID         string
	NotificationTopic string
	CredentialsJSON   string
}

func (p PubSubConfig) Enabled() bool { return p.ProjectID != "" && p.NotificationTopic != "" }

type ReportConfig struct {
	Bucket string
}

// Load reads configuration from the environment. A .env file in the working
// directory is honoured when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = strings.TrimSpace(os.Getenv("ENV"))
	}
	if appEnv == "" {
		appEnv = "dev"
	}
	cfg.AppEnv = strings.ToLower(appEnv)

	cfg.HTTPAddr = strings.TrimSpace(getEnv("HTTP_ADDR", defaultHTTPAddr))
	cfg.DatabaseURL = strings.TrimSpace(getEnv("DATABASE_URL", defaultDatabaseURL))
	cfg.JWTSecret = strings.TrimSpace(getEnv("JWT_SECRET", defaultJWTSecret))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(getEnv("LOG_LEVEL", defaultLogLevel)))
	cfg.TimeclockTokenHash = strings.TrimSpace(os.Getenv("TIMECLOCK_TOKEN_HASH"))
	cfg.TracingEnabled = parseBoolEnv("TRACING_ENABLED", "false")
	cfg.CORSOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))

	var err error
	if cfg.MaxOpenConns, err = parseIntEnv("DB_MAX_OPEN_CONNS", "0"); err != nil {
		return nil, err
	}
	if cfg.JWTTTL, err = parseDurationEnv("JWT_TTL", defaultJWTTTL); err != nil {
		return nil, err
	}

	tz := strings.TrimSpace(getEnv("BUSINESS_TIMEZONE", defaultTimezone))
	if cfg.Location, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid BUSINESS_TIMEZONE value %q: %w", tz, err)
	}

	cfg.Numbering = NumberingConfig{
		InvoicePrefix:  strings.ToUpper(strings.TrimSpace(getEnv("INVOICE_PREFIX", defaultInvoicePrefix))),
		ProposalPrefix: strings.ToUpper(strings.TrimSpace(getEnv("PROPOSAL_PREFIX", defaultProposalPrefix))),
		BookingPrefix:  strings.ToUpper(strings.TrimSpace(getEnv("BOOKING_PREFIX", defaultBookingPrefix))),
	}

	if cfg.Invoice.FinalDueAfter, err = parseDurationEnv("FINAL_DUE_AFTER", defaultFinalDueAfter); err != nil {
		return nil, err
	}
	if cfg.Invoice.ApprovalLockTTL, err = parseDurationEnv("APPROVAL_LOCK_TTL", defaultApprovalLockTTL); err != nil {
		return nil, err
	}
	if cfg.Proposal.Validity, err = parseDurationEnv("PROPOSAL_VALIDITY", defaultProposalValid); err != nil {
		return nil, err
	}
	if cfg.Proposal.SweepInterval, err = parseDurationEnv("PROPOSAL_SWEEP_INTERVAL", defaultSweepInterval); err != nil {
		return nil, err
	}

	cfg.Redis = RedisConfig{
		Addr:           strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		Password:       os.Getenv("REDIS_PASSWORD"),
		ClockOutStream: strings.TrimSpace(getEnv("CLOCKOUT_STREAM", defaultClockOutStream)),
		ClockOutGroup:  strings.TrimSpace(getEnv("CLOCKOUT_GROUP", defaultClockOutGroup)),
		ConsumerName:   strings.TrimSpace(getEnv("CLOCKOUT_CONSUMER", hostname())),
	}
	if cfg.Redis.DB, err = parseIntEnv("REDIS_DB", "0"); err != nil {
		return nil, err
	}

	cfg.PubSub = PubSubConfig{
		ProjectID:         strings.TrimSpace(os.Getenv("PUBSUB_PROJECT_ID")),
		NotificationTopic: strings.TrimSpace(os.Getenv("PUBSUB_NOTIFICATION_TOPIC")),
		CredentialsJSON:   os.Getenv("GOOGLE_CREDENTIALS_JSON"),
	}
	cfg.Report = ReportConfig{Bucket: strings.TrimSpace(os.Getenv("REPORT_BUCKET"))}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must not be empty")
	}
	if cfg.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be > 0")
	}
	if cfg.Invoice.FinalDueAfter < 0 {
		return fmt.Errorf("FINAL_DUE_AFTER must be >= 0")
	}
	if cfg.Invoice.ApprovalLockTTL <= 0 {
		return fmt.Errorf("APPROVAL_LOCK_TTL must be > 0")
	}
	if cfg.Proposal.Validity <= 0 {
		return fmt.Errorf("PROPOSAL_VALIDITY must be > 0")
	}
	if cfg.Proposal.SweepInterval <= 0 {
		return fmt.Errorf("PROPOSAL_SWEEP_INTERVAL must be > 0")
	}
	if cfg.MaxOpenConns < 0 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be >= 0")
	}
	for name, prefix := range map[string]string{
		"INVOICE_PREFIX":  cfg.Numbering.InvoicePrefix,
		"PROPOSAL_PREFIX": cfg.Numbering.ProposalPrefix,
		"BOOKING_PREFIX":  cfg.Numbering.BookingPrefix,
	} {
		if prefix == "" || strings.Contains(prefix, "-") {
			return fmt.Errorf("%s must be non-empty and must not contain '-'", name)
		}
	}
	if cfg.Redis.Enabled() && (cfg.Redis.ClockOutStream == "" || cfg.Redis.ClockOutGroup == "") {
		return fmt.Errorf("CLOCKOUT_STREAM and CLOCKOUT_GROUP are required when REDIS_ADDR is set")
	}

	if isProdLike(cfg.AppEnv) {
		if isEmptyOrDefault(cfg.JWTSecret, defaultJWTSecret) {
			return fmt.Errorf("in prod/release JWT_SECRET must be set and not default")
		}
		if cfg.TimeclockTokenHash == "" {
			return fmt.Errorf("in prod/release TIMECLOCK_TOKEN_HASH must be set")
		}
	}
	return nil
}

func (c *Config) IsProdLike() bool { return isProdLike(c.AppEnv) }

func isProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}

func parseDurationEnv(name, fallback string) (time.Duration, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return d, nil
}

func parseIntEnv(name, fallback string) (int, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return n, nil
}

func parseBoolEnv(name, fallback string) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(name, fallback)))
	return value == "1" || value == "true" || value == "yes" || value == "on"
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "winetours"
	}
	return h
}
