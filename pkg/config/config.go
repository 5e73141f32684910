package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// devJWTSecret is only ever used outside production.
const devJWTSecret = "dev-only-insecure-secret"

type Config struct {
	Environment Environment
	Port        int
	HTTPAddr    string
	LogLevel    string

	// MongoURI is the runtime connection string. MongoDatabase overrides the
	// database named in the URI path, if any.
	MongoURI      string
	MongoDatabase string

	// AllowedOrigins is the CORS allowlist. Only enforced in production;
	// development allows any origin.
	AllowedOrigins []string

	DB   DBConfig
	Auth AuthConfig
	HTTP HTTPConfig
}

type DBConfig struct {
	MaxRetries             int
	RetryDelay             time.Duration
	ServerSelectionTimeout time.Duration
	SocketTimeout          time.Duration
}

type AuthConfig struct {
	JWTSecret string
	JWTExpiry time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
}

type HTTPConfig struct {
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	MaxBodyBytes      int64
	// TrustProxy honors X-Forwarded-For and X-Real-IP. Enable only behind a
	// proxy that overwrites them.
	TrustProxy bool
}

// ConfigError lists every required variable missing in strict mode.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing required environment variables: %s", strings.Join(e.Missing, ", "))
}

func (c Config) IsProduction() bool {
	return c.Environment == Production
}

// Load reads the process environment. Production is strict: MONGO_URI,
// JWT_SECRET and CLIENT_URL must be set.
func Load() (Config, error) {
	// Convenience for local dev: load variables from .env if present.
	// In production, rely on real environment variables.
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from an arbitrary lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	l := loader{getenv: getenv}

	environment := parseEnvironment(l.getFirst("NODE_ENV", "APP_ENV"))

	port, err := l.getInt("PORT", 5000)
	if err != nil {
		return Config{}, err
	}
	httpAddr := l.getString("HTTP_ADDR", "")
	if httpAddr == "" {
		httpAddr = ":" + strconv.Itoa(port)
	}

	cfg := Config{
		Environment:    environment,
		Port:           port,
		HTTPAddr:       httpAddr,
		LogLevel:       l.getString("LOG_LEVEL", "info"),
		MongoURI:       strings.TrimSpace(getenv("MONGO_URI")),
		MongoDatabase:  l.getString("MONGO_DB", ""),
		AllowedOrigins: l.getList("CLIENT_URL", ""),
		Auth: AuthConfig{
			JWTSecret: strings.TrimSpace(getenv("JWT_SECRET")),
		},
	}

	if cfg.DB.MaxRetries, err = l.getInt("DB_MAX_RETRIES", 5); err != nil {
		return Config{}, err
	}
	if cfg.DB.RetryDelay, err = l.getDuration("DB_RETRY_DELAY", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.DB.ServerSelectionTimeout, err = l.getDuration("DB_SERVER_SELECTION_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.DB.SocketTimeout, err = l.getDuration("DB_SOCKET_TIMEOUT", 45*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Auth.JWTExpiry, err = l.getDuration("JWT_EXPIRES_IN", 30*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.Auth.RateLimitRPS, err = l.getFloat("AUTH_RATE_LIMIT_RPS", 5); err != nil {
		return Config{}, err
	}
	if cfg.Auth.RateLimitBurst, err = l.getInt("AUTH_RATE_LIMIT_BURST", 10); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.ShutdownTimeout, err = l.getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	maxBody, err := l.getInt("MAX_BODY_BYTES", 1<<20)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTP.MaxBodyBytes = int64(maxBody)
	if cfg.HTTP.TrustProxy, err = l.getBool("TRUST_PROXY", false); err != nil {
		return Config{}, err
	}
	cfg.HTTP.ReadHeaderTimeout = 10 * time.Second

	if cfg.DB.MaxRetries < 0 {
		return Config{}, fmt.Errorf("DB_MAX_RETRIES must not be negative, got %d", cfg.DB.MaxRetries)
	}

	if environment == Production {
		var missing []string
		if cfg.MongoURI == "" {
			missing = append(missing, "MONGO_URI")
		}
		if cfg.Auth.JWTSecret == "" {
			missing = append(missing, "JWT_SECRET")
		}
		if len(cfg.AllowedOrigins) == 0 {
			missing = append(missing, "CLIENT_URL")
		}
		if len(missing) > 0 {
			return Config{}, &ConfigError{Missing: missing}
		}
	} else {
		if cfg.Auth.JWTSecret == "" {
			cfg.Auth.JWTSecret = devJWTSecret
		}
		if len(cfg.AllowedOrigins) == 0 {
			cfg.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
		}
	}

	return cfg, nil
}

func parseEnvironment(v string) Environment {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "production", "prod":
		return Production
	default:
		return Development
	}
}

type loader struct {
	getenv func(string) string
}

func (l loader) getString(key, fallback string) string {
	v := strings.TrimSpace(l.getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func (l loader) getFirst(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(l.getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func (l loader) getInt(key string, fallback int) (int, error) {
	v := l.getString(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func (l loader) getBool(key string, fallback bool) (bool, error) {
	v := l.getString(key, "")
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return b, nil
}

func (l loader) getFloat(key string, fallback float64) (float64, error) {
	v := l.getString(key, "")
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", key, v)
	}
	return f, nil
}

// getDuration accepts Go duration syntax ("5s", "720h"), whole days ("30d")
// or a bare integer in milliseconds.
func (l loader) getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := l.getString(key, "")
	if v == "" {
		return fallback, nil
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	if days, ok := strings.CutSuffix(v, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil {
			return time.Duration(n) * 24 * time.Hour, nil
		}
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

func (l loader) getList(key, fallbackCSV string) []string {
	v := l.getString(key, fallbackCSV)
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
