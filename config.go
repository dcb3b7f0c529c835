package sessionstore

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Mode controls which records reach the durable backend.
type Mode string

const (
	// ModePersistent writes every dirty record to the backend.
	ModePersistent Mode = "persistent"
	// ModeOptIn keeps records in memory until the handler marks them storable.
	ModeOptIn Mode = "opt-in"
)

const minKeyLength = 32

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Config holds the engine settings. Every field can be populated from the
// environment with LoadConfig.
type Config struct {
	CookieName   string `env:"SESSION_COOKIE_NAME" envDefault:"session_id"`
	CookiePath   string `env:"SESSION_COOKIE_PATH" envDefault:"/"`
	CookieDomain string `env:"SESSION_COOKIE_DOMAIN"`
	// Secure defaults to following the request's TLS state when nil.
	Secure   *bool  `env:"SESSION_COOKIE_SECURE"`
	HttpOnly *bool  `env:"SESSION_COOKIE_HTTP_ONLY"`
	SameSite string `env:"SESSION_COOKIE_SAME_SITE" envDefault:"lax"`

	Lifetime         time.Duration `env:"SESSION_LIFETIME" envDefault:"24h"`
	LongtermLifetime time.Duration `env:"SESSION_LONGTERM_LIFETIME" envDefault:"720h"`

	MemoryOnly      bool          `env:"SESSION_MEMORY_ONLY"`
	Mode            Mode          `env:"SESSION_MODE" envDefault:"persistent"`
	// CleanupInterval paces the expiration sweeper. A negative value disables it.
	CleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`
	// MaxSessions is a soft cap on cached sessions, used for diagnostics only. 0 disables it.
	MaxSessions int    `env:"SESSION_MAX_SESSIONS"`
	KeyPrefix   string `env:"SESSION_KEY_PREFIX" envDefault:"session:"`
	TableName   string `env:"SESSION_TABLE_NAME" envDefault:"sessions"`

	// Keys signs (and with EncryptCookies encrypts) the cookie. The first key
	// is used for new cookies, all keys are accepted on the way in.
	Keys           []string `env:"SESSION_KEYS" envSeparator:","`
	EncryptCookies bool     `env:"SESSION_ENCRYPT_COOKIES"`

	// ClearOnRenew drops the session data when the id is renewed.
	ClearOnRenew bool `env:"SESSION_CLEAR_ON_RENEW"`
	// Strict surfaces backend load failures instead of starting a fresh session.
	Strict bool `env:"SESSION_STRICT"`

	BackendTimeout time.Duration `env:"SESSION_BACKEND_TIMEOUT" envDefault:"5s"`
	// BackendRetries is the number of retries after a failed backend call.
	// A negative value disables retrying.
	BackendRetries int `env:"SESSION_BACKEND_RETRIES" envDefault:"2"`
	// MaxSessionBytes limits the encoded size of the session data. 0 means unlimited.
	MaxSessionBytes int `env:"SESSION_MAX_BYTES"`
}

// DefaultConfig returns the configuration LoadConfig yields for an empty environment.
func DefaultConfig() Config {
	return Config{
		CookieName:       "session_id",
		CookiePath:       "/",
		SameSite:         "lax",
		Lifetime:         24 * time.Hour,
		LongtermLifetime: 30 * 24 * time.Hour,
		Mode:             ModePersistent,
		CleanupInterval:  time.Hour,
		KeyPrefix:        "session:",
		TableName:        "sessions",
		BackendTimeout:   5 * time.Second,
		BackendRetries:   2,
	}
}

// LoadConfig reads an optional .env file and parses SESSION_* variables.
func LoadConfig() (Config, error) {
	// The .env file is optional.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// withDefaults fills zero values so a partially populated Config literal
// behaves like DefaultConfig. Negative CleanupInterval and BackendRetries
// switch the sweeper and retries off.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CookieName == "" {
		c.CookieName = d.CookieName
	}
	if c.CookiePath == "" {
		c.CookiePath = d.CookiePath
	}
	if c.SameSite == "" {
		c.SameSite = d.SameSite
	}
	if c.Lifetime == 0 {
		c.Lifetime = d.Lifetime
	}
	if c.LongtermLifetime == 0 {
		c.LongtermLifetime = d.LongtermLifetime
	}
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = d.KeyPrefix
	}
	if c.TableName == "" {
		c.TableName = d.TableName
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.BackendTimeout == 0 {
		c.BackendTimeout = d.BackendTimeout
	}
	if c.BackendRetries == 0 {
		c.BackendRetries = d.BackendRetries
	}
	return c
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := parseSameSite(c.SameSite); err != nil {
		return err
	}
	switch c.Mode {
	case ModePersistent, ModeOptIn:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.Lifetime <= 0 || c.LongtermLifetime <= 0 {
		return fmt.Errorf("%w: lifetimes must be positive", ErrInvalidConfig)
	}
	if c.EncryptCookies && len(c.Keys) == 0 {
		return fmt.Errorf("%w: cookie encryption requires keys", ErrInvalidConfig)
	}
	for i, k := range c.Keys {
		if len(k) < minKeyLength {
			return fmt.Errorf("%w: key %d has %d bytes, need at least %d", ErrInvalidConfig, i, len(k), minKeyLength)
		}
	}
	if !tableNamePattern.MatchString(c.TableName) {
		return fmt.Errorf("%w: invalid table name %q", ErrInvalidConfig, c.TableName)
	}
	return nil
}

func (c Config) lifetime(longterm bool) time.Duration {
	if longterm {
		return c.LongtermLifetime
	}
	return c.Lifetime
}

func parseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(s) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	case "default":
		return http.SameSiteDefaultMode, nil
	}
	return 0, fmt.Errorf("%w: unknown same-site value %q", ErrInvalidConfig, s)
}
