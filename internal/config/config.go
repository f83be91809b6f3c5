package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/maltedev/marketplace-scraper/internal/antidetect"
	"github.com/maltedev/marketplace-scraper/internal/browser"
	"github.com/maltedev/marketplace-scraper/internal/scraper"
	"github.com/maltedev/marketplace-scraper/internal/storage"
)

type Config struct {
	Server   ServerConfig
	Browser  BrowserConfig
	Scraper  ScraperConfig
	Output   OutputConfig
	Jobs     JobsConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type BrowserConfig struct {
	Driver         string
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
}

type ScraperConfig struct {
	PageRetries   int
	BackoffStep   time.Duration
	PaceMin       time.Duration
	PaceMax       time.Duration
	FieldAttempts int
	FieldDelay    time.Duration
	WaitTimeout   time.Duration
	UserAgents    []string
	SkipDetails   bool
	// TablesDir overrides or extends the built-in site tables.
	TablesDir string
}

type OutputConfig struct {
	PrimaryDir  string
	FallbackDir string
}

type JobsConfig struct {
	MaxConcurrent int
	PerMinute     int
	MaxPages      int
	DefaultPages  int
	History       int
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Enabled      bool
	Addr         string
	Password     string
	DB           int
	Stream       string
	PollInterval time.Duration
	BatchSize    int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	primary, fallback := storage.DefaultDirs()
	sc := scraper.DefaultConfig()
	bo := browser.DefaultOptions()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "5000"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Minute),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Browser: BrowserConfig{
			Driver:         getEnvOrDefault("BROWSER_DRIVER", browser.DriverPlaywright),
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", bo.Headless),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", bo.Timeout),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", bo.ViewportWidth),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", bo.ViewportHeight),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", bo.AcceptLanguage),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", bo.TimezoneID),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", bo.Locale),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Scraper: ScraperConfig{
			PageRetries:   getIntOrDefault("SCRAPER_PAGE_RETRIES", sc.PageRetries),
			BackoffStep:   getDurationOrDefault("SCRAPER_BACKOFF_STEP", sc.BackoffStep),
			PaceMin:       getDurationOrDefault("SCRAPER_PACE_MIN", sc.PaceMin),
			PaceMax:       getDurationOrDefault("SCRAPER_PACE_MAX", sc.PaceMax),
			FieldAttempts: getIntOrDefault("SCRAPER_FIELD_ATTEMPTS", sc.FieldAttempts),
			FieldDelay:    getDurationOrDefault("SCRAPER_FIELD_DELAY", sc.FieldDelay),
			WaitTimeout:   getDurationOrDefault("SCRAPER_WAIT_TIMEOUT", sc.WaitTimeout),
			UserAgents:    getStringSliceOrDefault("SCRAPER_USER_AGENTS", nil),
			SkipDetails:   getBoolOrDefault("SCRAPER_SKIP_DETAILS", false),
			TablesDir:     getEnvOrDefault("SCRAPER_TABLES_DIR", ""),
		},
		Output: OutputConfig{
			PrimaryDir:  getEnvOrDefault("OUTPUT_PRIMARY_DIR", primary),
			FallbackDir: getEnvOrDefault("OUTPUT_FALLBACK_DIR", fallback),
		},
		Jobs: JobsConfig{
			MaxConcurrent: getIntOrDefault("JOBS_MAX_CONCURRENT", 1),
			PerMinute:     getIntOrDefault("JOBS_PER_MINUTE", 10),
			MaxPages:      getIntOrDefault("JOBS_MAX_PAGES", 20),
			DefaultPages:  getIntOrDefault("JOBS_DEFAULT_PAGES", 5),
			History:       getIntOrDefault("JOBS_HISTORY", 50),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "marketplace_scraper"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Enabled:      getBoolOrDefault("REDIS_ENABLED", false),
			Addr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:     getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:           getIntOrDefault("REDIS_DB", 0),
			Stream:       getEnvOrDefault("REDIS_STREAM", "stream:scrape_jobs"),
			PollInterval: getDurationOrDefault("REDIS_RELAY_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("REDIS_RELAY_BATCH", 100),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Browser.Driver) {
	case browser.DriverPlaywright, browser.DriverRod:
	default:
		return fmt.Errorf("BROWSER_DRIVER must be %q or %q, got %q", browser.DriverPlaywright, browser.DriverRod, c.Browser.Driver)
	}

	if c.Scraper.PageRetries < 1 {
		return fmt.Errorf("SCRAPER_PAGE_RETRIES must be at least 1")
	}

	if c.Scraper.PaceMin > c.Scraper.PaceMax {
		return fmt.Errorf("SCRAPER_PACE_MIN cannot be greater than SCRAPER_PACE_MAX")
	}

	if c.Jobs.MaxConcurrent < 1 {
		return fmt.Errorf("JOBS_MAX_CONCURRENT must be at least 1")
	}

	if c.Jobs.MaxPages < 1 {
		return fmt.Errorf("JOBS_MAX_PAGES must be at least 1")
	}

	if c.Jobs.DefaultPages < 1 || c.Jobs.DefaultPages > c.Jobs.MaxPages {
		return fmt.Errorf("JOBS_DEFAULT_PAGES must be between 1 and %d", c.Jobs.MaxPages)
	}

	if c.Output.PrimaryDir == "" && c.Output.FallbackDir == "" {
		return fmt.Errorf("at least one of OUTPUT_PRIMARY_DIR and OUTPUT_FALLBACK_DIR is required")
	}

	if c.Redis.Enabled && !c.Database.Enabled {
		return fmt.Errorf("REDIS_ENABLED requires DB_ENABLED: events are relayed from the database outbox")
	}

	return nil
}

// BrowserOptions maps the browser section onto launcher options.
func (c *Config) BrowserOptions() *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Browser.Headless
	opts.Timeout = c.Browser.Timeout
	opts.ViewportWidth = c.Browser.ViewportWidth
	opts.ViewportHeight = c.Browser.ViewportHeight
	opts.AcceptLanguage = c.Browser.AcceptLanguage
	opts.TimezoneID = c.Browser.TimezoneID
	opts.Locale = c.Browser.Locale
	opts.ProxyServer = c.Browser.ProxyServer
	opts.InitScript = antidetect.MaskScript()
	opts.Args = append([]string{}, antidetect.LaunchArgs...)
	if len(c.Scraper.UserAgents) > 0 {
		opts.UserAgent = c.Scraper.UserAgents[0]
	}
	return opts
}

// EngineConfig maps the scraper section onto engine settings.
func (c *Config) EngineConfig() scraper.Config {
	return scraper.Config{
		PageRetries:   c.Scraper.PageRetries,
		BackoffStep:   c.Scraper.BackoffStep,
		PaceMin:       c.Scraper.PaceMin,
		PaceMax:       c.Scraper.PaceMax,
		FieldAttempts: c.Scraper.FieldAttempts,
		FieldDelay:    c.Scraper.FieldDelay,
		WaitTimeout:   c.Scraper.WaitTimeout,
		UserAgents:    c.Scraper.UserAgents,
		SkipDetails:   c.Scraper.SkipDetails,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}
