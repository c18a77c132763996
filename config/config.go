// Package config loads the site configuration from defaults, an optional
// YAML file and the environment (.env is honoured).
package config

import "time"

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Tracker   TrackerConfig   `koanf:"tracker"`
	Enrich    EnrichConfig    `koanf:"enrich"`
	Mail      MailConfig      `koanf:"mail"`
	Portfolio PortfolioConfig `koanf:"portfolio"`
	Store     StoreConfig     `koanf:"store"`
}

type ServerConfig struct {
	Port    string `koanf:"port"`
	GinMode string `koanf:"gin_mode"`
	// HostURL is the public origin used in the sitemap and to tell internal
	// navigation apart from external referrers.
	HostURL        string   `koanf:"host_url"`
	AllowedOrigins []string `koanf:"allowed_origins"`
	// TimeZone is the site's civil time zone; event timestamps use it.
	TimeZone string `koanf:"time_zone"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type TrackerConfig struct {
	FlushThreshold      int           `koanf:"flush_threshold"`
	MaxBufferAge        time.Duration `koanf:"max_buffer_age"`
	IgnoredIPs          []string      `koanf:"ignored_ips"`
	IgnoreListPath      string        `koanf:"ignore_list_path"`
	Workers             int           `koanf:"workers"`
	QueueDepth          int           `koanf:"queue_depth"`
	EnrichConcurrency   int           `koanf:"enrich_concurrency"`
	RequeueOnFailure    bool          `koanf:"requeue_on_failure"`
	MaxDeliveryAttempts int           `koanf:"max_delivery_attempts"`
	// PersistTimeout bounds each durable store write during delivery.
	PersistTimeout time.Duration `koanf:"persist_timeout"`
	// Schedule is an optional cron spec that runs the maintenance operation
	// in-process, in addition to the external cron endpoint.
	Schedule           string        `koanf:"schedule"`
	MaintenanceKeyHash string        `koanf:"maintenance_key_hash"`
	CookieName         string        `koanf:"cookie_name"`
	CookieMaxAge       time.Duration `koanf:"cookie_max_age"`
	CookieSecure       bool          `koanf:"cookie_secure"`
	IdentitySecret     string        `koanf:"identity_secret"`
}

type EnrichConfig struct {
	BaseURL       string        `koanf:"base_url"`
	Timeout       time.Duration `koanf:"timeout"`
	RatePerMinute int           `koanf:"rate_per_minute"`
}

type MailConfig struct {
	Endpoint    string        `koanf:"endpoint"`
	APIKey      string        `koanf:"api_key"`
	ReportFrom  string        `koanf:"report_from"`
	ContactFrom string        `koanf:"contact_from"`
	To          []string      `koanf:"to"`
	Timeout     time.Duration `koanf:"timeout"`
}

type PortfolioConfig struct {
	// Source is "sheet", "database" or "" (portfolio disabled).
	Source       string        `koanf:"source"`
	SheetURL     string        `koanf:"sheet_url"`
	TableKeyword string        `koanf:"table_keyword"`
	TTL          time.Duration `koanf:"ttl"`
	Timeout      time.Duration `koanf:"timeout"`
}

type StoreConfig struct {
	// Driver is "postgres", "clickhouse" or "" (no durable event store).
	Driver      string           `koanf:"driver"`
	DatabaseURL string           `koanf:"database_url"`
	SiteLabel   string           `koanf:"site_label"`
	ClickHouse  ClickHouseConfig `koanf:"clickhouse"`
}

type ClickHouseConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Database string `koanf:"database"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     "8080",
			GinMode:  "debug",
			HostURL:  "https://merlodigital.com",
			TimeZone: "America/Sao_Paulo",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracker: TrackerConfig{
			FlushThreshold:      10,
			MaxBufferAge:        30 * time.Minute,
			Workers:             2,
			QueueDepth:          4,
			EnrichConcurrency:   4,
			MaxDeliveryAttempts: 3,
			PersistTimeout:      10 * time.Second,
			CookieName:          "visitor_id",
			CookieMaxAge:        365 * 24 * time.Hour,
			CookieSecure:        true,
		},
		Enrich: EnrichConfig{
			BaseURL:       "http://ip-api.com/json",
			Timeout:       2 * time.Second,
			RatePerMinute: 45,
		},
		Mail: MailConfig{
			Endpoint:    "https://api.resend.com/emails",
			ReportFrom:  "Merlô Tracker <merlotracker@merlodigital.com>",
			ContactFrom: "Merlô Digital <contato@merlodigital.com>",
			Timeout:     10 * time.Second,
		},
		Portfolio: PortfolioConfig{
			TableKeyword: "Portfolio",
			TTL:          time.Hour,
			Timeout:      10 * time.Second,
		},
		Store: StoreConfig{
			SiteLabel: "merlodigital.com",
			ClickHouse: ClickHouseConfig{
				Port: 9000,
			},
		},
	}
}
