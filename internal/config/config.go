package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the api and worker processes.
// Values come from the environment; a local .env file is loaded first when present.
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Twilio   TwilioConfig
	SendGrid SendGridConfig
	Worker   WorkerConfig
	Ledger   LedgerConfig
	Pricing  PricingConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string

	// AnswerURL serves the TwiML for answered outbound calls.
	AnswerURL         string
	StatusCallbackURL string
	// MediaStreamURL is the wss:// endpoint of the voice agent.
	MediaStreamURL string

	APIBaseURL         string
	ValidateSignatures bool
}

// Enabled reports whether real Twilio credentials are configured.
func (t TwilioConfig) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != ""
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

type WorkerConfig struct {
	PollInterval           time.Duration
	BatchSize              int
	Concurrency            int
	CallsPerSecond         float64
	PerUserConcurrentCalls int
	StaleAfter             time.Duration
	CapTTL                 time.Duration
	MetricsPort            int
}

type LedgerConfig struct {
	MaxCreditPerTx int64
}

type PricingConfig struct {
	CacheTTL time.Duration
}

func Load() (Config, error) {
	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port = requiredInt("APP_PORT", &parseErrs)

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = requiredInt("DB_PORT", &parseErrs)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = requiredInt("REDIS_PORT", &parseErrs)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = optionalDuration("JWT_ACCESS_TTL", &parseErrs)
	c.Auth.RefreshTokenTTL = optionalDuration("JWT_REFRESH_TTL", &parseErrs)

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.FromNumber = strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER"))
	c.Twilio.AnswerURL = strings.TrimSpace(os.Getenv("TWILIO_ANSWER_URL"))
	c.Twilio.StatusCallbackURL = strings.TrimSpace(os.Getenv("TWILIO_STATUS_CALLBACK_URL"))
	c.Twilio.MediaStreamURL = strings.TrimSpace(os.Getenv("TWILIO_MEDIA_STREAM_URL"))
	c.Twilio.APIBaseURL = strings.TrimSpace(os.Getenv("TWILIO_API_BASE_URL"))
	c.Twilio.ValidateSignatures = optionalBool("TWILIO_VALIDATE_SIGNATURES", true, &parseErrs)

	c.SendGrid.APIKey = os.Getenv("SENDGRID_API_KEY")
	c.SendGrid.FromEmail = strings.TrimSpace(os.Getenv("SENDGRID_FROM_EMAIL"))
	c.SendGrid.FromName = strings.TrimSpace(os.Getenv("SENDGRID_FROM_NAME"))

	c.Worker.PollInterval = optionalDuration("WORKER_POLL_INTERVAL", &parseErrs)
	c.Worker.BatchSize = optionalInt("WORKER_BATCH_SIZE", &parseErrs)
	c.Worker.Concurrency = optionalInt("WORKER_CONCURRENCY", &parseErrs)
	c.Worker.CallsPerSecond = optionalFloat("WORKER_CALLS_PER_SECOND", &parseErrs)
	c.Worker.PerUserConcurrentCalls = optionalInt("WORKER_PER_USER_CONCURRENT_CALLS", &parseErrs)
	c.Worker.StaleAfter = optionalDuration("WORKER_STALE_AFTER", &parseErrs)
	c.Worker.CapTTL = optionalDuration("WORKER_CAP_TTL", &parseErrs)
	c.Worker.MetricsPort = optionalInt("WORKER_METRICS_PORT", &parseErrs)

	c.Ledger.MaxCreditPerTx = int64(optionalInt("LEDGER_MAX_CREDIT_PER_TX", &parseErrs))
	c.Pricing.CacheTTL = optionalDuration("PRICING_CACHE_TTL", &parseErrs)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	return c, nil
}

// Validate reports every configuration problem at once.
// It does not mutate c; defaults are applied by Load after validation.
func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" && c.IsProduction() {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if !c.Twilio.Enabled() {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required in production"))
		}
	}
	access, refresh := c.Auth.AccessTokenTTL, c.Auth.RefreshTokenTTL
	if access <= 0 {
		access = defaultAccessTTL
	}
	if refresh <= 0 {
		refresh = defaultRefreshTTL
	}
	if refresh <= access {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Twilio.Enabled() {
		if c.Twilio.FromNumber == "" {
			errs = append(errs, errors.New("TWILIO_FROM_NUMBER is required when Twilio is enabled"))
		}
		if c.Twilio.AnswerURL == "" {
			errs = append(errs, errors.New("TWILIO_ANSWER_URL is required when Twilio is enabled"))
		}
		if c.Twilio.StatusCallbackURL == "" {
			errs = append(errs, errors.New("TWILIO_STATUS_CALLBACK_URL is required when Twilio is enabled"))
		}
	}

	if c.Worker.BatchSize < 0 || c.Worker.BatchSize > 500 {
		errs = append(errs, fmt.Errorf("WORKER_BATCH_SIZE must be between 1 and 500, got %d", c.Worker.BatchSize))
	}
	if c.Worker.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.Worker.Concurrency))
	}
	if c.Worker.CallsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("WORKER_CALLS_PER_SECOND must be positive, got %v", c.Worker.CallsPerSecond))
	}
	if c.Worker.PollInterval < 0 || (c.Worker.PollInterval > 0 && c.Worker.PollInterval < time.Second) {
		errs = append(errs, fmt.Errorf("WORKER_POLL_INTERVAL must be at least 1s, got %v", c.Worker.PollInterval))
	}
	if c.Worker.MetricsPort < 0 || c.Worker.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("WORKER_METRICS_PORT must be a valid port, got %d", c.Worker.MetricsPort))
	}
	if c.Ledger.MaxCreditPerTx < 0 {
		errs = append(errs, fmt.Errorf("LEDGER_MAX_CREDIT_PER_TX must be positive, got %d", c.Ledger.MaxCreditPerTx))
	}

	return joinErrors(errs)
}

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
)

func (c *Config) applyDefaults() {
	if c.DB.SSLMode == "" {
		c.DB.SSLMode = "disable"
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = defaultAccessTTL
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = defaultRefreshTTL
	}
	if c.Twilio.APIBaseURL == "" {
		c.Twilio.APIBaseURL = "https://api.twilio.com"
	}

	w := &c.Worker
	if w.PollInterval <= 0 {
		w.PollInterval = 10 * time.Second
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 5
	}
	if w.Concurrency <= 0 {
		w.Concurrency = w.BatchSize
	}
	if w.CallsPerSecond <= 0 {
		w.CallsPerSecond = 1
	}
	if w.PerUserConcurrentCalls <= 0 {
		w.PerUserConcurrentCalls = 3
	}
	if w.StaleAfter <= 0 {
		w.StaleAfter = 2 * time.Hour
	}
	if w.CapTTL <= 0 {
		w.CapTTL = time.Hour
	}
	if w.MetricsPort == 0 {
		w.MetricsPort = 9091
	}

	if c.Ledger.MaxCreditPerTx == 0 {
		c.Ledger.MaxCreditPerTx = 10_000_000
	}
	if c.Pricing.CacheTTL <= 0 {
		c.Pricing.CacheTTL = 5 * time.Minute
	}
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) MetricsAddr() string {
	return fmt.Sprintf(":%d", c.Worker.MetricsPort)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func requiredInt(key string, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		*errs = append(*errs, fmt.Errorf("%s is required", key))
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

func optionalInt(key string, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

func optionalFloat(key string, errs *[]error) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a number, got %q", key, v))
		return 0
	}
	return f
}

func optionalBool(key string, def bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return def
	}
	return b
}

func optionalDuration(key string, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a duration, got %q", key, v))
		return 0
	}
	return d
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
