package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"pricewatcher/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	OCR      OCRConfig      `mapstructure:"ocr"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// BrowserConfig drives the headless Chrome session.
type BrowserConfig struct {
	URL          string        `mapstructure:"url"`
	Selector     string        `mapstructure:"selector"`
	Timeout      time.Duration `mapstructure:"timeout"`
	WindowWidth  int           `mapstructure:"window_width"`
	WindowHeight int           `mapstructure:"window_height"`
	Headless     bool          `mapstructure:"headless"`
	NoSandbox    bool          `mapstructure:"no_sandbox"`
	ExecPath     string        `mapstructure:"exec_path"`
	UserAgent    string        `mapstructure:"user_agent"`
}

// OCRConfig tunes the Tesseract client.
type OCRConfig struct {
	Language   string  `mapstructure:"language"`
	PSM        int     `mapstructure:"psm"`
	Whitelist  string  `mapstructure:"whitelist"`
	Preprocess bool    `mapstructure:"preprocess"`
	Scale      float64 `mapstructure:"scale"`
}

// MonitorConfig governs the capture cadence and screenshot handling.
type MonitorConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
	ScreenshotDir    string        `mapstructure:"screenshot_dir"`
	ScreenshotPrefix string        `mapstructure:"screenshot_prefix"`
	KeepScreenshots  bool          `mapstructure:"keep_screenshots"`
}

// StorageConfig locates the CSV record file.
type StorageConfig struct {
	CSVPath string `mapstructure:"csv_path"`
}

// DatabaseConfig encapsulates the optional PostgreSQL mirror.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricewatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "logs/pricewatcher.log")

	v.SetDefault("browser.url", "https://www.google.com/finance/quote/NVDA:NASDAQ")
	v.SetDefault("browser.selector", "div[data-last-price]")
	v.SetDefault("browser.timeout", "10s")
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)

	v.SetDefault("ocr.language", "eng")
	v.SetDefault("ocr.psm", 0)
	v.SetDefault("ocr.preprocess", false)
	v.SetDefault("ocr.scale", 2.0)

	v.SetDefault("monitor.interval", "5s")
	v.SetDefault("monitor.startup_delay", "0s")
	v.SetDefault("monitor.screenshot_dir", "screenshots")
	v.SetDefault("monitor.screenshot_prefix", "nvidia_stock")
	v.SetDefault("monitor.keep_screenshots", false)

	v.SetDefault("storage.csv_path", "data/nvidia_stock_prices.csv")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x70726963))
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be greater than zero")
	}
	if strings.TrimSpace(c.Browser.URL) == "" {
		return fmt.Errorf("browser.url must be configured")
	}
	if strings.TrimSpace(c.Browser.Selector) == "" {
		return fmt.Errorf("browser.selector must be configured")
	}
	if c.Browser.Timeout <= 0 {
		return fmt.Errorf("browser.timeout must be greater than zero")
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser window size must be positive")
	}
	if c.OCR.Preprocess && c.OCR.Scale < 1 {
		return fmt.Errorf("ocr.scale must be at least 1 when preprocessing")
	}
	if c.OCR.PSM < 0 || c.OCR.PSM > 13 {
		return fmt.Errorf("ocr.psm must be between 0 and 13")
	}
	if strings.TrimSpace(c.Storage.CSVPath) == "" {
		return fmt.Errorf("storage.csv_path must be configured")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
