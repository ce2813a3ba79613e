package arxivauth

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/arxiv/arxiv-auth/legacy"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is loaded once at process start and treated as read-only afterwards.
type Config struct {
	Session SessionConfig `yaml:"session"`
	Redis   RedisConfig   `yaml:"redis"`
	Classic ClassicConfig `yaml:"classic"`
	Login   LoginConfig   `yaml:"login"`
	Audit   AuditConfig   `yaml:"audit"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	HTTP    HTTPConfig    `yaml:"http"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig covers the key-value session store and its cookie.
type SessionConfig struct {
	// JWTSecret signs claims tokens and pointer cookies.
	JWTSecret    string        `yaml:"jwt_secret"`
	Duration     time.Duration `yaml:"duration"`
	CookieName   string        `yaml:"cookie_name"`
	CookieDomain string        `yaml:"cookie_domain"`
	CookieSecure bool          `yaml:"cookie_secure"`
}

/*
====================================
REDIS CONFIG
====================================
*/

// RedisConfig locates the session store.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database int    `yaml:"database"`
	Token    string `yaml:"token"`
	Cluster  bool   `yaml:"cluster"`
	Prefix   string `yaml:"prefix"`
}

// Addr returns host:port.
func (c RedisConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

/*
====================================
CLASSIC CONFIG
====================================
*/

// ClassicConfig covers the legacy relational session system. It is optional.
type ClassicConfig struct {
	DatabaseURI     string        `yaml:"database_uri"`
	SessionHash     string        `yaml:"session_hash"`
	CookieName      string        `yaml:"cookie_name"`
	SignatureScheme string        `yaml:"signature_scheme"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	RetryBackoff    float64       `yaml:"retry_backoff"`
}

// RetryPolicy returns the load retry policy.
func (c ClassicConfig) RetryPolicy() legacy.RetryPolicy {
	return legacy.RetryPolicy{Attempts: c.RetryAttempts, Delay: c.RetryDelay, Backoff: c.RetryBackoff}
}

/*
====================================
LOGIN CONFIG
====================================
*/

// LoginConfig throttles failed logins. MaxAttempts <= 0 disables throttling.
type LoginConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Cooldown    time.Duration `yaml:"cooldown"`
	PerIP       bool          `yaml:"per_ip"`
}

// AuditConfig controls delivery of login and logout events.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

/*
====================================
AMBIENT CONFIG
====================================
*/

// LogConfig selects the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"latency_histograms"`
}

// HTTPConfig configures the server started by `arxiv-auth serve`.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the defaults that LoadConfig starts from. Secrets are empty.
func DefaultConfig() Config {
	retry := legacy.DefaultRetryPolicy()
	return Config{
		Session: SessionConfig{
			Duration:     7200 * time.Second,
			CookieName:   "ARXIVNG_SESSION_ID",
			CookieSecure: true,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Classic: ClassicConfig{
			CookieName:      "tapir_session",
			SignatureScheme: string(legacy.SchemeSHA1),
			RetryAttempts:   retry.Attempts,
			RetryDelay:      retry.Delay,
			RetryBackoff:    retry.Backoff,
		},
		Login: LoginConfig{
			MaxAttempts: 10,
			Cooldown:    15 * time.Minute,
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
		Log: LogConfig{Level: "info"},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		HTTP: HTTPConfig{Addr: ":8000"},
	}
}

/*
====================================
LOADING
====================================
*/

// LoadConfig is ReadConfig followed by Validate.
func LoadConfig(path string, envFiles ...string) (Config, error) {
	cfg, err := ReadConfig(path, envFiles...)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadConfig builds a Config from defaults, then the YAML file at path (if
// path is non-empty), then environment variables. envFiles are read with
// godotenv and consulted after the process environment; missing files are
// skipped. The result is not validated.
func ReadConfig(path string, envFiles ...string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
		}
	}

	fileEnv := map[string]string{}
	for _, f := range envFiles {
		vals, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %v", ErrConfig, f, err)
		}
		for k, v := range vals {
			if _, seen := fileEnv[k]; !seen {
				fileEnv[k] = v
			}
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("JWT_SECRET", &c.Session.JWTSecret)
	e.seconds("SESSION_DURATION", &c.Session.Duration)
	e.str("AUTH_SESSION_COOKIE_NAME", &c.Session.CookieName)
	e.str("AUTH_SESSION_COOKIE_DOMAIN", &c.Session.CookieDomain)
	e.boolean("AUTH_SESSION_COOKIE_SECURE", &c.Session.CookieSecure)

	e.str("REDIS_HOST", &c.Redis.Host)
	e.integer("REDIS_PORT", &c.Redis.Port)
	e.integer("REDIS_DATABASE", &c.Redis.Database)
	e.str("REDIS_TOKEN", &c.Redis.Token)
	e.boolean("REDIS_CLUSTER", &c.Redis.Cluster)
	e.str("REDIS_PREFIX", &c.Redis.Prefix)

	e.str("CLASSIC_DATABASE_URI", &c.Classic.DatabaseURI)
	e.str("CLASSIC_SESSION_HASH", &c.Classic.SessionHash)
	e.str("CLASSIC_COOKIE_NAME", &c.Classic.CookieName)
	e.str("CLASSIC_SIGNATURE_SCHEME", &c.Classic.SignatureScheme)
	e.integer("CLASSIC_RETRY_ATTEMPTS", &c.Classic.RetryAttempts)
	e.seconds("CLASSIC_RETRY_DELAY", &c.Classic.RetryDelay)
	e.float("CLASSIC_RETRY_BACKOFF", &c.Classic.RetryBackoff)

	e.integer("LOGIN_MAX_ATTEMPTS", &c.Login.MaxAttempts)
	e.seconds("LOGIN_COOLDOWN", &c.Login.Cooldown)
	e.boolean("LOGIN_IP_THROTTLE", &c.Login.PerIP)

	e.boolean("AUDIT_ENABLED", &c.Audit.Enabled)
	e.integer("AUDIT_BUFFER_SIZE", &c.Audit.BufferSize)
	e.boolean("AUDIT_DROP_IF_FULL", &c.Audit.DropIfFull)

	e.str("LOG_LEVEL", &c.Log.Level)
	e.boolean("LOG_DEVELOPMENT", &c.Log.Development)
	e.boolean("METRICS_ENABLED", &c.Metrics.Enabled)
	e.str("HTTP_ADDR", &c.HTTP.Addr)

	return e.err
}

// envReader keeps the first parse error and skips later keys once one occurs.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(key, v string, err error) {
	e.err = fmt.Errorf("%w: %s=%q: %v", ErrConfig, key, v, err)
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) float(key string, dst *float64) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = f
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

// seconds accepts a number of seconds ("7200", "0.5") or a Go duration ("2h").
func (e *envReader) seconds(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(f * float64(time.Second))
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting, wrapped in ErrConfig.
func (c *Config) Validate() error {
	if c.Session.JWTSecret == "" {
		return fmt.Errorf("%w: JWT_SECRET must be set", ErrConfig)
	}
	if c.Session.Duration <= 0 {
		return fmt.Errorf("%w: SESSION_DURATION must be > 0", ErrConfig)
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("%w: AUTH_SESSION_COOKIE_NAME must be set", ErrConfig)
	}
	if c.Redis.Host == "" {
		return fmt.Errorf("%w: REDIS_HOST must be set", ErrConfig)
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		return fmt.Errorf("%w: REDIS_PORT out of range", ErrConfig)
	}
	if c.Redis.Database < 0 {
		return fmt.Errorf("%w: REDIS_DATABASE must be >= 0", ErrConfig)
	}
	if strings.Contains(c.Redis.Prefix, " ") {
		return fmt.Errorf("%w: REDIS_PREFIX must not contain spaces", ErrConfig)
	}

	if _, err := legacy.ParseScheme(c.Classic.SignatureScheme); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := c.Classic.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if c.Classic.DatabaseURI != "" && c.Classic.SessionHash == "" {
		return fmt.Errorf("%w: CLASSIC_SESSION_HASH is required with CLASSIC_DATABASE_URI", ErrConfig)
	}
	if c.LegacyConfigured() && c.Classic.CookieName == "" {
		return fmt.Errorf("%w: CLASSIC_COOKIE_NAME must be set", ErrConfig)
	}
	if c.LegacyConfigured() && c.Classic.CookieName == c.Session.CookieName {
		return fmt.Errorf("%w: session and classic cookie names must differ", ErrConfig)
	}

	if c.Login.MaxAttempts > 0 && c.Login.Cooldown <= 0 {
		return fmt.Errorf("%w: LOGIN_COOLDOWN must be > 0 when throttling", ErrConfig)
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return fmt.Errorf("%w: AUDIT_BUFFER_SIZE must be > 0", ErrConfig)
	}
	return nil
}

// LegacyConfigured reports whether the classic session system is in use.
func (c *Config) LegacyConfigured() bool {
	return c.Classic.DatabaseURI != "" && c.Classic.SessionHash != ""
}
