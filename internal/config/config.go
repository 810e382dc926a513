package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Codes    CodeConfig
	Email    EmailConfig
	GeoIP    GeoIPConfig
	Admin    AdminConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret               string
	AccessTokenExpiry       time.Duration
	EmailVerification       bool
	StrictUserAgent         bool
	WorkEmailOnly           bool
	MinPasswordLength       int
	LoginRatePerMinute      int
	LoginEmailRatePerMinute int
	TimingDelayBase         time.Duration
	TimingDelayRandom       time.Duration
}

// CodeConfig holds verification code expiry windows, in calendar days
type CodeConfig struct {
	ExpiryDays              int
	SignupExpiryDays        int
	PasswordResetExpiryDays int
	EmailChangeExpiryDays   int
	CleanupInterval         time.Duration
}

type EmailConfig struct {
	AWSRegion     string
	From          string
	BCC           []string
	LinkBaseURL   string
	QueueRedisURL string
	QueueMaxSize  int
}

type GeoIPConfig struct {
	DataPath  string
	DataURL   string
	AWSRegion string
}

// AdminConfig bootstraps a superuser at startup when both fields are set
type AdminConfig struct {
	Email    string
	Password string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "authemail"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:               jwtSecret,
			AccessTokenExpiry:       getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 24*time.Hour),
			EmailVerification:       getEnvAsBool("AUTH_EMAIL_VERIFICATION", true),
			StrictUserAgent:         getEnvAsBool("AUTH_STRICT_USER_AGENT", false),
			WorkEmailOnly:           getEnvAsBool("AUTH_WORK_EMAIL_ONLY", false),
			MinPasswordLength:       getEnvAsInt("AUTH_EMAIL_MIN_PASSWORD_LENGTH", 8),
			LoginRatePerMinute:      getEnvAsInt("LOGIN_RATE_PER_MINUTE", 10),
			LoginEmailRatePerMinute: getEnvAsInt("LOGIN_EMAIL_RATE_PER_MINUTE", 5),
			TimingDelayBase:         time.Duration(getEnvAsInt("TIMING_DELAY_BASE_MS", 500)) * time.Millisecond,
			TimingDelayRandom:       time.Duration(getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100)) * time.Millisecond,
		},
		Codes: CodeConfig{
			ExpiryDays:              getEnvAsInt("CODE_EXPIRY_DAYS", 3),
			SignupExpiryDays:        getEnvAsInt("CODE_EXPIRY_DAYS_SIGNUP", 0),
			PasswordResetExpiryDays: getEnvAsInt("CODE_EXPIRY_DAYS_PASSWORD_RESET", 0),
			EmailChangeExpiryDays:   getEnvAsInt("CODE_EXPIRY_DAYS_EMAIL_CHANGE", 0),
			CleanupInterval:         getEnvAsDuration("CODE_CLEANUP_INTERVAL", 1*time.Hour),
		},
		Email: EmailConfig{
			AWSRegion:     getEnv("EMAIL_AWS_REGION", "us-east-1"),
			From:          getEnv("EMAIL_FROM", "noreply@localhost"),
			BCC:           getEnvAsList("EMAIL_BCC"),
			LinkBaseURL:   strings.TrimRight(getEnv("EMAIL_LINK_BASE_URL", "http://localhost:8080"), "/"),
			QueueRedisURL: getEnv("MAIL_QUEUE_REDIS_URL", ""),
			QueueMaxSize:  getEnvAsInt("MAIL_QUEUE_MAX_SIZE", 10000),
		},
		GeoIP: GeoIPConfig{
			DataPath:  getEnv("GEOIP_DATA_PATH", "/usr/share/authemail/ip_to_loc.csv"),
			DataURL:   getEnv("GEOIP_DATA_URL", ""),
			AWSRegion: getEnv("GEOIP_AWS_REGION", "us-east-1"),
		},
		Admin: AdminConfig{
			Email:    getEnv("ADMIN_EMAIL", ""),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if cfg.Codes.ExpiryDays < 0 {
		return nil, fmt.Errorf("CODE_EXPIRY_DAYS must not be negative (got %d)", cfg.Codes.ExpiryDays)
	}
	if cfg.Auth.MinPasswordLength < 1 {
		return nil, fmt.Errorf("AUTH_EMAIL_MIN_PASSWORD_LENGTH must be positive (got %d)", cfg.Auth.MinPasswordLength)
	}

	return cfg, nil
}

// ExpiryDaysFor returns the expiry window for a code kind, falling back to the shared default.
// Kind names match models.CodeKind values.
func (c CodeConfig) ExpiryDaysFor(kind string) int {
	var override int
	switch kind {
	case "signup":
		override = c.SignupExpiryDays
	case "password_reset":
		override = c.PasswordResetExpiryDays
	case "email_change":
		override = c.EmailChangeExpiryDays
	}
	if override > 0 {
		return override
	}
	return c.ExpiryDays
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsList splits a comma-separated variable, dropping empty items
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		origins := getEnvAsList("ALLOWED_ORIGINS")
		if origins == nil {
			return []string{} // Default to no origins in production
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
