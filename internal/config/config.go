package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Twilio    TwilioConfig
	AI        AIConfig
	Pipeline  PipelineConfig
	Streaming StreamingConfig
	Google    OAuthConfig
	Microsoft OAuthConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable https origin used to build
	// TwiML action and stream URLs (e.g. https://voice.example.com).
	PublicBaseURL string
}

type DBConfig struct {
	// Host empty means "no database": in-memory repositories are used.
	// Only accepted outside production.
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// AutoMigrate applies embedded migrations on boot.
	AutoMigrate bool
}

type RedisConfig struct {
	// Host empty disables redis-backed locking, queueing and stream caps.
	Host     string
	Port     int
	Password string
	DB       int
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

	// ValidateSignatures toggles X-Twilio-Signature verification.
	// Forced on in production.
	ValidateSignatures bool
}

type AIConfig struct {
	// Provider is one of openai, anthropic, keyword.
	Provider string
	Model    string

	OpenAIKey     string
	OpenAIBaseURL string
	AnthropicKey  string

	// Timeout bounds a single analysis attempt.
	Timeout time.Duration
	// MaxRetries is the number of additional attempts after the first one.
	MaxRetries int
	// DefaultConfidenceThreshold applies to tenants without their own threshold.
	DefaultConfidenceThreshold float64
}

type PipelineConfig struct {
	// WebhookTimeout bounds every telephony webhook request path.
	WebhookTimeout time.Duration
	// BackgroundTimeout bounds a whole background analysis job, retries included.
	BackgroundTimeout time.Duration

	Workers   int
	QueueSize int
	// QueueBackend is memory or redis.
	QueueBackend string

	ResolverRetries int
	// SyncMaxAttempts after which a pending calendar sync is marked failed.
	SyncMaxAttempts int
}

type StreamingConfig struct {
	SilenceThreshold     time.Duration
	SessionTTL           time.Duration
	ReapInterval         time.Duration
	MaxConcurrentStreams int
}

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// TenantID is only used by Microsoft identity platform.
	TenantID string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	if c.DB.Host != "" {
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	c.DB.AutoMigrate = optBool("DB_AUTO_MIGRATE", false)

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optInt("REDIS_DB", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.ValidateSignatures = optBool("TWILIO_VALIDATE_SIGNATURES", true)

	c.AI.Provider = strings.ToLower(strings.TrimSpace(os.Getenv("AI_PROVIDER")))
	c.AI.Model = strings.TrimSpace(os.Getenv("AI_MODEL"))
	c.AI.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	c.AI.OpenAIBaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	c.AI.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	c.AI.Timeout = mustDuration("AI_TIMEOUT")
	{
		n, err := optInt("AI_MAX_RETRIES", -1)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.AI.MaxRetries = n
	}
	{
		f, err := optFloat("AI_CONFIDENCE_THRESHOLD")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.AI.DefaultConfidenceThreshold = f
	}

	c.Pipeline.WebhookTimeout = mustDuration("WEBHOOK_TIMEOUT")
	c.Pipeline.BackgroundTimeout = mustDuration("ANALYSIS_JOB_TIMEOUT")
	c.Pipeline.QueueBackend = strings.ToLower(strings.TrimSpace(os.Getenv("QUEUE_BACKEND")))
	for key, dst := range map[string]*int{
		"WORKERS":           &c.Pipeline.Workers,
		"QUEUE_SIZE":        &c.Pipeline.QueueSize,
		"RESOLVER_RETRIES":  &c.Pipeline.ResolverRetries,
		"SYNC_MAX_ATTEMPTS": &c.Pipeline.SyncMaxAttempts,
	} {
		n, err := optInt(key, 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		*dst = n
	}

	c.Streaming.SilenceThreshold = mustDuration("STREAM_SILENCE_THRESHOLD")
	c.Streaming.SessionTTL = mustDuration("STREAM_SESSION_TTL")
	c.Streaming.ReapInterval = mustDuration("STREAM_REAP_INTERVAL")
	{
		n, err := optInt("STREAM_MAX_CONCURRENT", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Streaming.MaxConcurrentStreams = n
	}

	c.Google.ClientID = strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID"))
	c.Google.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	c.Google.RedirectURL = strings.TrimSpace(os.Getenv("GOOGLE_REDIRECT_URL"))

	c.Microsoft.ClientID = strings.TrimSpace(os.Getenv("MICROSOFT_CLIENT_ID"))
	c.Microsoft.ClientSecret = os.Getenv("MICROSOFT_CLIENT_SECRET")
	c.Microsoft.RedirectURL = strings.TrimSpace(os.Getenv("MICROSOFT_REDIRECT_URL"))
	c.Microsoft.TenantID = strings.TrimSpace(os.Getenv("MICROSOFT_TENANT_ID"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.IsProduction() && !strings.HasPrefix(c.App.PublicBaseURL, "https://") {
		errs = append(errs, errors.New("PUBLIC_BASE_URL must be an https URL in production"))
	}

	if c.DB.Host == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_HOST is required in production"))
		}
	} else {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if strings.TrimSpace(c.DB.SSLMode) == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				// Local-friendly default; production must be explicit.
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
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
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.IsProduction() {
		c.Twilio.ValidateSignatures = true
	}
	if c.Twilio.ValidateSignatures && c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required when signature validation is enabled"))
	}

	if c.AI.Provider == "" {
		c.AI.Provider = "keyword"
	}
	switch c.AI.Provider {
	case "openai":
		if c.AI.OpenAIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for AI_PROVIDER=openai"))
		}
		if c.AI.Model == "" {
			c.AI.Model = "gpt-4o-mini"
		}
	case "anthropic":
		if c.AI.AnthropicKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for AI_PROVIDER=anthropic"))
		}
		if c.AI.Model == "" {
			c.AI.Model = "claude-3-5-haiku-latest"
		}
	case "keyword":
	default:
		errs = append(errs, fmt.Errorf("AI_PROVIDER must be one of openai, anthropic, keyword, got %q", c.AI.Provider))
	}
	if c.AI.Timeout <= 0 {
		c.AI.Timeout = 20 * time.Second
	}
	if c.AI.MaxRetries < 0 {
		c.AI.MaxRetries = 2
	}
	if c.AI.MaxRetries > 5 {
		errs = append(errs, fmt.Errorf("AI_MAX_RETRIES must be at most 5, got %d", c.AI.MaxRetries))
	}
	if c.AI.DefaultConfidenceThreshold == 0 {
		c.AI.DefaultConfidenceThreshold = 0.8
	}
	if c.AI.DefaultConfidenceThreshold < 0 || c.AI.DefaultConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("AI_CONFIDENCE_THRESHOLD must be within [0,1], got %v", c.AI.DefaultConfidenceThreshold))
	}

	if c.Pipeline.WebhookTimeout <= 0 {
		c.Pipeline.WebhookTimeout = 800 * time.Millisecond
	}
	if c.Pipeline.WebhookTimeout > 5*time.Second {
		errs = append(errs, fmt.Errorf("WEBHOOK_TIMEOUT must be at most 5s, got %s", c.Pipeline.WebhookTimeout))
	}
	if c.Pipeline.BackgroundTimeout <= 0 {
		c.Pipeline.BackgroundTimeout = 2 * time.Minute
	}
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.QueueSize <= 0 {
		c.Pipeline.QueueSize = 256
	}
	if c.Pipeline.QueueBackend == "" {
		c.Pipeline.QueueBackend = "memory"
	}
	switch c.Pipeline.QueueBackend {
	case "memory":
	case "redis":
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required for QUEUE_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("QUEUE_BACKEND must be one of memory, redis, got %q", c.Pipeline.QueueBackend))
	}
	if c.Pipeline.ResolverRetries <= 0 {
		c.Pipeline.ResolverRetries = 2
	}
	if c.Pipeline.SyncMaxAttempts <= 0 {
		c.Pipeline.SyncMaxAttempts = 10
	}

	if c.Streaming.SilenceThreshold <= 0 {
		c.Streaming.SilenceThreshold = 700 * time.Millisecond
	}
	if c.Streaming.SessionTTL <= 0 {
		c.Streaming.SessionTTL = 15 * time.Minute
	}
	if c.Streaming.ReapInterval <= 0 {
		c.Streaming.ReapInterval = 30 * time.Second
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HasDatabase() bool { return c.DB.Host != "" }

func (c Config) HasRedis() bool { return c.Redis.Host != "" }

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
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

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optFloat(key string) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func optBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
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
