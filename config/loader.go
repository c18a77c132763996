package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the YAML config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

const defaultConfigPath = "config.yaml"

// envMappings maps environment variable names (lower-cased) to config paths.
// The deploy environment predates the YAML layout, hence the flat names.
var envMappings = map[string]string{
	"port":                   "server.port",
	"gin_mode":               "server.gin_mode",
	"host_url":               "server.host_url",
	"fe_origin":              "server.allowed_origins",
	"allowed_origins":        "server.allowed_origins",
	"site_time_zone":         "server.time_zone",
	"log_level":              "log.level",
	"log_format":             "log.format",
	"flush_threshold":        "tracker.flush_threshold",
	"max_buffer_age":         "tracker.max_buffer_age",
	"ignored_ips":            "tracker.ignored_ips",
	"ignore_list_path":       "tracker.ignore_list_path",
	"delivery_workers":       "tracker.workers",
	"delivery_queue_depth":   "tracker.queue_depth",
	"enrich_concurrency":     "tracker.enrich_concurrency",
	"requeue_on_failure":     "tracker.requeue_on_failure",
	"max_delivery_attempts":  "tracker.max_delivery_attempts",
	"persist_timeout":        "tracker.persist_timeout",
	"tracker_schedule":       "tracker.schedule",
	"cron_key_hash":          "tracker.maintenance_key_hash",
	"visitor_cookie_name":    "tracker.cookie_name",
	"cookie_secure":          "tracker.cookie_secure",
	"jwt_secret_key":         "tracker.identity_secret",
	"geoip_base_url":         "enrich.base_url",
	"geoip_timeout":          "enrich.timeout",
	"resend_api_key":         "mail.api_key",
	"resend_endpoint":        "mail.endpoint",
	"email_destino":          "mail.to",
	"email_report_from":      "mail.report_from",
	"email_contact_from":     "mail.contact_from",
	"portfolio_source":       "portfolio.source",
	"portfolio_sheet_url":    "portfolio.sheet_url",
	"portfolio_table":        "portfolio.table_keyword",
	"portfolio_ttl":          "portfolio.ttl",
	"event_store":            "store.driver",
	"database_url":           "store.database_url",
	"site_label":             "store.site_label",
	"clickhouse_host":        "store.clickhouse.host",
	"clickhouse_native_port": "store.clickhouse.port",
	"clickhouse_db_name":     "store.clickhouse.database",
	"clickhouse_username":    "store.clickhouse.username",
	"clickhouse_password":    "store.clickhouse.password",
}

var sliceConfigPaths = []string{
	"server.allowed_origins",
	"tracker.ignored_ips",
	"mail.to",
}

// Load builds the configuration: struct defaults, then the YAML file (if
// any), then environment variables. A .env file in the working directory is
// read into the environment first.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := configPath(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configPath() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// envTransformFunc maps an environment variable to a config path. Unknown
// variables map to "" and are ignored by koanf.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := SplitList(s)
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

// SplitList splits a comma-separated list, trimming blanks.
func SplitList(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
