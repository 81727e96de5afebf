package config

import (
	"fmt"
	"log"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for fineauth.
type Config struct {
	Host    string `env:"HOST" envDefault:"0.0.0.0"`
	Port    int    `env:"PORT" envDefault:"3000"`
	DBPath  string `env:"DB_PATH" envDefault:"data/fineauth.db"`
	LogDir  string `env:"LOG_DIR" envDefault:"logs"`
	DataDir string `env:"DATA_DIR" envDefault:"data"`

	// Permission flags file. Defaults to <DATA_DIR>/permissions.yaml.
	PermissionsPath string `env:"PERMISSIONS_PATH"`

	// Built web client. Served at / when set.
	WebDir string `env:"WEB_DIR"`

	// Identity provider application credentials. Login is disabled, not
	// fatal, when either is missing.
	ClientID     string   `env:"ESI_CLIENT_ID"`
	ClientSecret string   `env:"ESI_CLIENT_SECRET"`
	CallbackURL  string   `env:"ESI_CALLBACK_URL" envDefault:"http://localhost:3000/callback"`
	Scopes       []string `env:"ESI_SCOPES" envSeparator:","`

	LoginBaseURL string `env:"ESI_LOGIN_BASE_URL" envDefault:"https://login.eveonline.com"`
	BaseURL      string `env:"ESI_BASE_URL" envDefault:"https://esi.evetech.net/latest"`
	Datasource   string `env:"ESI_DATASOURCE" envDefault:"tranquility"`
	UserAgent    string `env:"ESI_USER_AGENT" envDefault:"fineauth"`

	CacheSeconds           int `env:"ESI_CACHE_SECONDS" envDefault:"45"`
	QueueRunSeconds        int `env:"ESI_QUEUE_RUN_SECONDS" envDefault:"12"`
	StatusRefreshSeconds   int `env:"ESI_STATUS_REFRESH_SECONDS" envDefault:"60"`
	RefreshIntervalMinutes int `env:"ESI_REFRESH_INTERVAL_MINUTES" envDefault:"15"`
	NameCheckMinutes       int `env:"ESI_NAME_CHECK_MINUTES" envDefault:"60"`

	LoginStateTTL time.Duration `env:"LOGIN_STATE_TTL" envDefault:"15m"`

	HTTPSEnabled  bool   `env:"HTTPS_ENABLED" envDefault:"false"`
	HTTPSCertPath string `env:"HTTPS_CERT_PATH"`
	HTTPSKeyPath  string `env:"HTTPS_KEY_PATH"`
}

// warnInsecureEnvFile flags a group or world readable .env file, which
// would expose the client secret to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(".env")
	if err != nil {
		return
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		log.Printf("⚠️ .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	if cfg.PermissionsPath == "" {
		cfg.PermissionsPath = strings.TrimSuffix(cfg.DataDir, "/") + "/permissions.yaml"
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if !cfg.SSOConfigured() {
		log.Printf("⚠️ ESI_CLIENT_ID / ESI_CLIENT_SECRET not set; SSO login is disabled")
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.HTTPSEnabled && (c.HTTPSCertPath == "" || c.HTTPSKeyPath == "") {
		return fmt.Errorf("HTTPS_CERT_PATH and HTTPS_KEY_PATH are required when HTTPS is enabled")
	}
	if c.LoginStateTTL < time.Minute {
		return fmt.Errorf("LOGIN_STATE_TTL must be at least 1m, got %s", c.LoginStateTTL)
	}
	for name, v := range map[string]int{
		"ESI_CACHE_SECONDS":            c.CacheSeconds,
		"ESI_QUEUE_RUN_SECONDS":        c.QueueRunSeconds,
		"ESI_STATUS_REFRESH_SECONDS":   c.StatusRefreshSeconds,
		"ESI_REFRESH_INTERVAL_MINUTES": c.RefreshIntervalMinutes,
		"ESI_NAME_CHECK_MINUTES":       c.NameCheckMinutes,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	return nil
}

// SSOConfigured reports whether provider credentials are present.
func (c *Config) SSOConfigured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheSeconds) * time.Second
}

func (c *Config) StatusRefreshInterval() time.Duration {
	return time.Duration(c.StatusRefreshSeconds) * time.Second
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMinutes) * time.Minute
}

func (c *Config) NameCheckInterval() time.Duration {
	return time.Duration(c.NameCheckMinutes) * time.Minute
}
