package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks the loaded configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port == "" {
		errs = append(errs, "server.port is required")
	}
	if _, err := time.LoadLocation(c.Server.TimeZone); err != nil {
		errs = append(errs, fmt.Sprintf("server.time_zone %q: %v", c.Server.TimeZone, err))
	}

	t := c.Tracker
	if t.FlushThreshold < 1 {
		errs = append(errs, "tracker.flush_threshold must be at least 1")
	}
	if t.MaxBufferAge < 0 {
		errs = append(errs, "tracker.max_buffer_age must not be negative")
	}
	if t.Workers < 1 {
		errs = append(errs, "tracker.workers must be at least 1")
	}
	if t.QueueDepth < 1 {
		errs = append(errs, "tracker.queue_depth must be at least 1")
	}
	if t.EnrichConcurrency < 1 {
		errs = append(errs, "tracker.enrich_concurrency must be at least 1")
	}
	if t.RequeueOnFailure && t.MaxDeliveryAttempts < 1 {
		errs = append(errs, "tracker.max_delivery_attempts must be at least 1 when requeue_on_failure is set")
	}
	if t.PersistTimeout <= 0 {
		errs = append(errs, "tracker.persist_timeout must be positive")
	}
	if t.CookieName == "" {
		errs = append(errs, "tracker.cookie_name is required")
	}

	if c.Enrich.Timeout <= 0 {
		errs = append(errs, "enrich.timeout must be positive")
	}
	if c.Enrich.RatePerMinute < 1 {
		errs = append(errs, "enrich.rate_per_minute must be at least 1")
	}

	switch c.Portfolio.Source {
	case "":
	case "sheet":
		if c.Portfolio.SheetURL == "" {
			errs = append(errs, "portfolio.sheet_url is required when portfolio.source is sheet")
		}
	case "database":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required when portfolio.source is database")
		}
	default:
		errs = append(errs, fmt.Sprintf("portfolio.source %q: want sheet, database or empty", c.Portfolio.Source))
	}
	if c.Portfolio.TTL <= 0 {
		errs = append(errs, "portfolio.ttl must be positive")
	}

	switch c.Store.Driver {
	case "":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres event store")
		}
	case "clickhouse":
		ch := c.Store.ClickHouse
		if ch.Host == "" || ch.Port == 0 || ch.Database == "" {
			errs = append(errs, "store.clickhouse host, port and database are required for the clickhouse event store")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q: want postgres, clickhouse or empty", c.Store.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Location returns the site's time zone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Server.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}
