package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const defaultSQLitePath = "data/guardnova.db"

// Config selects the primary relational store. The embedded sqlite file is
// the default; mysql/postgres DSNs are accepted for shared deployments.
type Config struct {
	Driver string
	DSN    string
}

// ConfigFromEnv reads DATABASE_DRIVER / DATABASE_DSN, falling back to the
// bundled sqlite file when nothing is configured.
func ConfigFromEnv() Config {
	cfg := Config{
		Driver: strings.TrimSpace(os.Getenv("DATABASE_DRIVER")),
		DSN:    strings.TrimSpace(os.Getenv("DATABASE_DSN")),
	}
	if cfg.DSN == "" {
		cfg.Driver = "sqlite"
		cfg.DSN = defaultSQLitePath
	}
	if cfg.Driver == "" {
		cfg.Driver = inferDriverFromDSN(cfg.DSN)
	}
	return cfg
}

// Open initializes the gorm connection for the configured driver.
func Open(cfg Config) (*gorm.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("database: DSN is required")
	}
	driver := cfg.Driver
	if driver == "" {
		driver = inferDriverFromDSN(cfg.DSN)
		if driver == "" {
			return nil, errors.New("database: driver is required when DSN does not contain a scheme")
		}
	}

	gormCfg := &gorm.Config{
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	}

	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pg":
		return gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	case "mysql":
		return gorm.Open(mysql.Open(cfg.DSN), gormCfg)
	case "sqlite", "sqlite3":
		if dir := filepath.Dir(cfg.DSN); dir != "" && dir != "." && !strings.HasPrefix(cfg.DSN, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("database: create sqlite directory: %w", err)
			}
		}
		return gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", driver)
	}
}

func inferDriverFromDSN(dsn string) string {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(lower, "mysql://"):
		return "mysql"
	case strings.HasPrefix(lower, "sqlite://"), strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"):
		return "sqlite"
	default:
		return ""
	}
}
