package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultDBMaxConns           = 10
	defaultDBMaxConnLifetime    = 30 * time.Minute
	defaultGatewayBaseURL       = "https://api.razorpay.com"
	defaultGatewayTimeout       = 10 * time.Second
	defaultGatewayMaxRetries    = 3
	defaultOTPTTL               = 5 * time.Minute
	defaultOTPLength            = 6
	defaultShippingTimeout      = 10 * time.Second
	defaultPubSubTopic          = "checkout-events"
	defaultRateLimitDefault     = 120
	defaultRateLimitAuth        = 240
	defaultVerifyAttempts       = 5
	defaultVerifyWindow         = 15 * time.Minute
	defaultSecurityEnvironment  = "local"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Gateway     GatewayConfig
	Wallet      WalletConfig
	Shipping    ShippingConfig
	PubSub      PubSubConfig
	Firebase    FirebaseConfig
	Idempotency IdempotencyConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig configures the Postgres pool.
type DatabaseConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig points at the shared attempt-limiter store. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// GatewayConfig holds hosted payment gateway credentials.
type GatewayConfig struct {
	BaseURL    string
	KeyID      string
	KeySecret  string
	Timeout    time.Duration
	MaxRetries int
}

// WalletConfig controls OTP issuance for wallet payments.
// OTPHashKey keys the stored OTP hash; it falls back to the gateway key secret when empty.
type WalletConfig struct {
	OTPTTL     time.Duration
	OTPLength  int
	OTPHashKey string
}

// ShippingConfig points at the shipment partner API. An empty BaseURL disables shipment registration.
type ShippingConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// PubSubConfig names the topic that receives order and payment events. An empty ProjectID disables publishing.
// OTPTopic, when set, routes wallet OTP delivery to the SMS worker instead of the log sender.
type PubSubConfig struct {
	ProjectID string
	Topic     string
	OTPTopic  string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// RateLimitConfig controls request throttling and verification attempt budgets.
type RateLimitConfig struct {
	DefaultPerMinute       int
	AuthenticatedPerMinute int
	VerifyAttempts         int
	VerifyWindow           time.Duration
}

// SecurityConfig groups deployment security settings.
type SecurityConfig struct {
	Environment string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "Gateway.KeySecret") as mandatory secrets.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret:       unconfiguredResolver,
	}
	for _, opt := range opts {
		opt(&options)
	}

	lookup, err := newLookup(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "CHECKOUT_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "CHECKOUT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "CHECKOUT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "CHECKOUT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Database: DatabaseConfig{
			URL:             stringWithDefault(lookup, "CHECKOUT_DATABASE_URL", ""),
			MaxConns:        int32(intWithDefault(lookup, "CHECKOUT_DATABASE_MAX_CONNS", defaultDBMaxConns)),
			MinConns:        int32(intWithDefault(lookup, "CHECKOUT_DATABASE_MIN_CONNS", 0)),
			MaxConnLifetime: durationWithDefault(lookup, "CHECKOUT_DATABASE_MAX_CONN_LIFETIME", defaultDBMaxConnLifetime),
			AutoMigrate:     boolWithDefault(lookup, "CHECKOUT_DATABASE_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "CHECKOUT_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "CHECKOUT_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "CHECKOUT_REDIS_DB", 0),
		},
		Gateway: GatewayConfig{
			BaseURL:    stringWithDefault(lookup, "CHECKOUT_GATEWAY_BASE_URL", defaultGatewayBaseURL),
			KeyID:      stringWithDefault(lookup, "CHECKOUT_GATEWAY_KEY_ID", ""),
			KeySecret:  stringWithDefault(lookup, "CHECKOUT_GATEWAY_KEY_SECRET", ""),
			Timeout:    durationWithDefault(lookup, "CHECKOUT_GATEWAY_TIMEOUT", defaultGatewayTimeout),
			MaxRetries: intWithDefault(lookup, "CHECKOUT_GATEWAY_MAX_RETRIES", defaultGatewayMaxRetries),
		},
		Wallet: WalletConfig{
			OTPTTL:     durationWithDefault(lookup, "CHECKOUT_WALLET_OTP_TTL", defaultOTPTTL),
			OTPLength:  intWithDefault(lookup, "CHECKOUT_WALLET_OTP_LENGTH", defaultOTPLength),
			OTPHashKey: stringWithDefault(lookup, "CHECKOUT_WALLET_OTP_HASH_KEY", ""),
		},
		Shipping: ShippingConfig{
			BaseURL: stringWithDefault(lookup, "CHECKOUT_SHIPPING_BASE_URL", ""),
			APIKey:  stringWithDefault(lookup, "CHECKOUT_SHIPPING_API_KEY", ""),
			Timeout: durationWithDefault(lookup, "CHECKOUT_SHIPPING_TIMEOUT", defaultShippingTimeout),
		},
		PubSub: PubSubConfig{
			ProjectID: stringWithDefault(lookup, "CHECKOUT_PUBSUB_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "CHECKOUT_PUBSUB_TOPIC", defaultPubSubTopic),
			OTPTopic:  stringWithDefault(lookup, "CHECKOUT_PUBSUB_OTP_TOPIC", ""),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "CHECKOUT_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "CHECKOUT_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "CHECKOUT_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "CHECKOUT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "CHECKOUT_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "CHECKOUT_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:       intWithDefault(lookup, "CHECKOUT_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			AuthenticatedPerMinute: intWithDefault(lookup, "CHECKOUT_RATELIMIT_AUTH_PER_MIN", defaultRateLimitAuth),
			VerifyAttempts:         intWithDefault(lookup, "CHECKOUT_RATELIMIT_VERIFY_ATTEMPTS", defaultVerifyAttempts),
			VerifyWindow:           durationWithDefault(lookup, "CHECKOUT_RATELIMIT_VERIFY_WINDOW", defaultVerifyWindow),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "CHECKOUT_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
		},
	}

	// PubSub defaults to the Firebase project when the topic is configured without one.
	if cfg.PubSub.ProjectID == "" && boolWithDefault(lookup, "CHECKOUT_PUBSUB_ENABLED", false) {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Database.URL", &cfg.Database.URL},
		{"Redis.Password", &cfg.Redis.Password},
		{"Gateway.KeySecret", &cfg.Gateway.KeySecret},
		{"Wallet.OTPHashKey", &cfg.Wallet.OTPHashKey},
		{"Shipping.APIKey", &cfg.Shipping.APIKey},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Database.URL) == "" {
		missing = append(missing, "Database.URL")
	}
	if cfg.Database.MinConns < 0 || (cfg.Database.MaxConns > 0 && cfg.Database.MinConns > cfg.Database.MaxConns) {
		missing = append(missing, "Database.MinConns")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if strings.TrimSpace(cfg.Gateway.BaseURL) == "" {
		missing = append(missing, "Gateway.BaseURL")
	}
	if cfg.Gateway.Timeout <= 0 {
		missing = append(missing, "Gateway.Timeout")
	}
	if cfg.Gateway.MaxRetries < 0 {
		missing = append(missing, "Gateway.MaxRetries")
	}
	if cfg.Wallet.OTPTTL <= 0 {
		missing = append(missing, "Wallet.OTPTTL")
	}
	if cfg.Wallet.OTPLength < 4 || cfg.Wallet.OTPLength > 10 {
		missing = append(missing, "Wallet.OTPLength")
	}
	if cfg.RateLimits.VerifyAttempts <= 0 {
		missing = append(missing, "RateLimits.VerifyAttempts")
	}
	if cfg.RateLimits.VerifyWindow <= 0 {
		missing = append(missing, "RateLimits.VerifyWindow")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}
