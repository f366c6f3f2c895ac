/*
config.go - Runtime configuration

PURPOSE:
  Reads every setting the service needs from the environment. A .env file
  in the working directory is loaded first when present; variables already
  set in the environment win over the file.

KEYS:
  HTTP_PORT             Port the API listens on (default 8080)
  STORE_DRIVER          sqlite | postgres | memory (default sqlite)
  SQLITE_PATH           SQLite database file (default stockcount.db)
  DATABASE_DSN          PostgreSQL DSN, required when STORE_DRIVER=postgres
  JWT_SECRET            HS256 secret for bearer tokens; empty enables
                        header-based dev auth
  CORS_ALLOWED_ORIGINS  Comma separated origins
  REDIS_ADDR            Redis address for the session lock; empty uses an
                        in-process lock
  REDIS_PASSWORD        Optional Redis password
  REDIS_DB              Redis database number (default 0)
  RABBITMQ_URL          Broker for approval events; empty disables publishing
  SYNC_INTERVAL         Periodic snapshot sync (e.g. 15m); 0 disables
*/
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all runtime settings.
type Config struct {
	Port         int
	StoreDriver  string
	SQLitePath   string
	DatabaseDSN  string
	JWTSecret    string
	CORSOrigins  []string
	RedisAddr    string
	RedisPass    string
	RedisDB      int
	RabbitMQURL  string
	SyncInterval time.Duration
}

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// Load reads the .env file (if any) and the environment. The result is not
// validated so that callers can apply flag overrides first.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[Config] Ignoring .env: %v", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
// It fails on unparsable values; Validate checks the combination.
func FromEnv() (Config, error) {
	cfg := Config{
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
		SQLitePath:  getEnv("SQLITE_PATH", "stockcount.db"),
		DatabaseDSN: os.Getenv("DATABASE_DSN"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		CORSOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		RedisPass:   os.Getenv("REDIS_PASSWORD"),
		RabbitMQURL: os.Getenv("RABBITMQ_URL"),
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = defaultOrigins
	}

	var err error
	if cfg.Port, err = getInt("HTTP_PORT", 8080); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.SyncInterval, err = getDuration("SYNC_INTERVAL", 0); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the combination of settings.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	case DriverPostgres:
		if c.DatabaseDSN == "" {
			return errors.New("DATABASE_DSN is required for the postgres store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want sqlite, postgres or memory)", c.StoreDriver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", c.Port)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("SYNC_INTERVAL must not be negative: %s", c.SyncInterval)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid int for %s: %q", key, s)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" || s == "0" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %q", key, s)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
