package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"
)

func init() {
	// Auto-load .env file if present (don't override existing env vars)
	loadDotEnv(".env")
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		// Remove surrounding quotes
		if len(val) >= 2 && ((val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'')) {
			val = val[1 : len(val)-1]
		}
		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

const (
	defaultPort           = "4400"
	defaultEnvironment    = "development"
	defaultCurrency       = "USD"
	defaultPayPalBaseURL  = "https://api-m.sandbox.paypal.com"
	defaultStripeBaseURL  = "https://api.stripe.com"
	defaultSessionCleanup = time.Hour
)

// StripeConfig carries Stripe REST credentials.
type StripeConfig struct {
	SecretKey string
	BaseURL   string
}

// PayPalConfig carries PayPal Orders v2 credentials.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
}

// Config is the process configuration, loaded from the environment.
// Websocket origin checks read WS_ALLOWED_ORIGINS directly in the ws
// package.
type Config struct {
	Port           string
	DatabaseURL    string
	Environment    string
	Currency       string
	SessionCleanup time.Duration
	Stripe         StripeConfig
	PayPal         PayPalConfig
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	cfg := Config{
		Port:        firstNonEmpty(strings.TrimSpace(os.Getenv("PORT")), defaultPort),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Environment: resolveEnvironment(),
		Currency:    firstNonEmpty(strings.TrimSpace(os.Getenv("CURRENCY")), defaultCurrency),
		Stripe: StripeConfig{
			SecretKey: strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
			BaseURL:   firstNonEmpty(strings.TrimSpace(os.Getenv("STRIPE_API_BASE_URL")), defaultStripeBaseURL),
		},
		PayPal: PayPalConfig{
			ClientID:     strings.TrimSpace(os.Getenv("PAYPAL_CLIENT_ID")),
			ClientSecret: strings.TrimSpace(os.Getenv("PAYPAL_CLIENT_SECRET")),
			BaseURL:      firstNonEmpty(strings.TrimSpace(os.Getenv("PAYPAL_API_BASE_URL")), defaultPayPalBaseURL),
		},
	}

	cleanup, err := parseDuration("SESSION_CLEANUP_INTERVAL", defaultSessionCleanup)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionCleanup = cleanup

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements. Gateway credentials are
// only mandatory outside development, where the fake flows are enough.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.SessionCleanup <= 0 {
		return fmt.Errorf("SESSION_CLEANUP_INTERVAL must be greater than zero")
	}

	if !isNonDevelopment(c.Environment) {
		return nil
	}

	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required in non-development environments")
	}
	if c.PayPal.ClientID == "" || c.PayPal.ClientSecret == "" {
		return fmt.Errorf("PAYPAL_CLIENT_ID and PAYPAL_CLIENT_SECRET are required in non-development environments")
	}
	return nil
}

func resolveEnvironment() string {
	return strings.ToLower(firstNonEmpty(
		strings.TrimSpace(os.Getenv("APP_ENV")),
		strings.TrimSpace(os.Getenv("ENVIRONMENT")),
		strings.TrimSpace(os.Getenv("GO_ENV")),
		defaultEnvironment,
	))
}

func isNonDevelopment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "dev", "development", "local", "test":
		return false
	default:
		return true
	}
}

func parseDuration(name string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", name, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero", name)
	}
	return parsed, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
