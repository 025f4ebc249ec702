// Package config handles configuration loading for the net-net
// collector. Values come from defaults, an optional netnet.yaml, and
// environment variables; J-Quants credentials live in a .env file that
// the client writes refreshed tokens back to.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultEnvFile is where credentials are read from and refreshed
// tokens are persisted to.
const DefaultEnvFile = ".env"

// Config represents the complete application configuration.
type Config struct {
	// Screening parameters.
	SemaphoreLimit        int     `mapstructure:"semaphore_limit"         yaml:"semaphore_limit"`         // concurrent in-flight ticker evaluations
	NCAVPSLimit           float64 `mapstructure:"ncavps_limit"            yaml:"ncavps_limit"`            // close must sit strictly under NCAVPS × limit
	OHLCLookbackDays      int     `mapstructure:"ohlc_lookback_days"      yaml:"ohlc_lookback_days"`      // price staleness tolerance
	StatementLookbackDays int     `mapstructure:"statement_lookback_days" yaml:"statement_lookback_days"` // statement staleness tolerance

	// J-Quants API access.
	APIURL         string  `mapstructure:"api_url"          yaml:"api_url"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec" yaml:"requests_per_sec"`
	Email          string  `mapstructure:"email"            yaml:"email"`
	Password       string  `mapstructure:"password"         yaml:"password"`
	IDToken        string  `mapstructure:"id_token"         yaml:"id_token"`
	RefreshToken   string  `mapstructure:"refresh_token"    yaml:"refresh_token"`

	// Output and log locations.
	DataDir  string `mapstructure:"data_dir"  yaml:"data_dir"`
	LogDir   string `mapstructure:"log_dir"   yaml:"log_dir"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// Disclosure watching and scheduled screens.
	FeedURL        string `mapstructure:"feed_url"        yaml:"feed_url"`
	ScreenSchedule string `mapstructure:"screen_schedule" yaml:"screen_schedule"`

	envFile string // token persistence target
}

// Load reads the configuration from defaults, an optional config file,
// and environment variables.
//
// Config file search order:
//  1. ./netnet.yaml
//  2. ./config/netnet.yaml
//  3. ~/.netnet/netnet.yaml
//
// Environment variables with the NETNET_ prefix override file values
// (NETNET_SEMAPHORE_LIMIT, NETNET_DATA_DIR, ...). The unprefixed names
// used in .env files (EMAIL, PASS, IDTOKEN, REFRESHTOKEN, API_URL,
// SEMAPHORE_LIMIT, NCAVPS_LIMIT, OHLC_LOOKBACK_LIMIT_DAYS,
// STATEMENT_LOOKBACK_DAYS) are honored last.
func Load() (*Config, error) {
	loadEnvFile(DefaultEnvFile)

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("netnet")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".netnet"))

	v.SetEnvPrefix("NETNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file — defaults plus env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.envFile = DefaultEnvFile
	overrideFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile(DefaultEnvFile)

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("NETNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.envFile = DefaultEnvFile
	overrideFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.SemaphoreLimit < 1 {
		return fmt.Errorf("semaphore_limit must be at least 1, got %d", c.SemaphoreLimit)
	}
	if c.NCAVPSLimit <= 0 || c.NCAVPSLimit > 1 {
		return fmt.Errorf("ncavps_limit must be in (0, 1], got %g", c.NCAVPSLimit)
	}
	if c.OHLCLookbackDays < 1 {
		return fmt.Errorf("ohlc_lookback_days must be at least 1, got %d", c.OHLCLookbackDays)
	}
	if c.StatementLookbackDays < 1 {
		return fmt.Errorf("statement_lookback_days must be at least 1, got %d", c.StatementLookbackDays)
	}
	if c.APIURL == "" {
		return fmt.Errorf("api_url must not be empty")
	}
	if c.RequestsPerSec <= 0 {
		return fmt.Errorf("requests_per_sec must be positive, got %g", c.RequestsPerSec)
	}
	return nil
}

// SaveTokens persists refreshed J-Quants tokens back to the .env file
// so later runs skip the password flow. Other keys in the file are
// preserved. Implements the market data client's token store contract.
func (c *Config) SaveTokens(idToken, refreshToken string) error {
	path := c.envFile
	if path == "" {
		path = DefaultEnvFile
	}

	env, err := godotenv.Read(path)
	if err != nil {
		// Missing or unreadable file: start fresh rather than lose the tokens.
		env = map[string]string{}
	}
	if idToken != "" {
		env["IDTOKEN"] = idToken
	}
	if refreshToken != "" {
		env["REFRESHTOKEN"] = refreshToken
	}

	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("persist tokens to %s: %w", path, err)
	}

	if idToken != "" {
		c.IDToken = idToken
	}
	if refreshToken != "" {
		c.RefreshToken = refreshToken
	}
	return nil
}

// SetEnvFile overrides where SaveTokens writes. Used by tests.
func (c *Config) SetEnvFile(path string) { c.envFile = path }

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Screening defaults mirror the tuned production values.
	v.SetDefault("semaphore_limit", 5)
	v.SetDefault("ncavps_limit", 0.8)
	v.SetDefault("ohlc_lookback_days", 14)
	v.SetDefault("statement_lookback_days", 365)

	// API defaults.
	v.SetDefault("api_url", "https://api.jquants.com")
	v.SetDefault("requests_per_sec", 4.0)

	// Output defaults.
	v.SetDefault("data_dir", "./data")
	v.SetDefault("log_dir", "./logs")
	v.SetDefault("log_level", "info")

	// Disclosure feed and schedule are opt-in; no defaults.
}

// loadEnvFile merges a .env file into the process environment without
// overriding variables that are already set.
func loadEnvFile(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

// overrideFromEnv honors the unprefixed variable names that .env files
// use for credentials and tuning knobs.
func overrideFromEnv(cfg *Config) {
	if s := os.Getenv("API_URL"); s != "" {
		cfg.APIURL = s
	}
	if s := os.Getenv("EMAIL"); s != "" {
		cfg.Email = s
	}
	if s := os.Getenv("PASS"); s != "" {
		cfg.Password = s
	}
	if s := os.Getenv("IDTOKEN"); s != "" {
		cfg.IDToken = s
	}
	if s := os.Getenv("REFRESHTOKEN"); s != "" {
		cfg.RefreshToken = s
	}
	if n, ok := envInt("SEMAPHORE_LIMIT"); ok {
		cfg.SemaphoreLimit = n
	}
	if f, ok := envFloat("NCAVPS_LIMIT"); ok {
		cfg.NCAVPSLimit = f
	}
	if n, ok := envInt("OHLC_LOOKBACK_LIMIT_DAYS"); ok {
		cfg.OHLCLookbackDays = n
	}
	if n, ok := envInt("STATEMENT_LOOKBACK_DAYS"); ok {
		cfg.StatementLookbackDays = n
	}
}

func envInt(key string) (int, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
