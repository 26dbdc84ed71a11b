// Package config loads application configuration from the environment,
// with a .env file picked up for development.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all application configuration.
type AppConfig struct {
	Database DatabaseConfig
	Server   ServerConfig
	Polling  PollingConfig
	// DataPath is where client-side tracking state and QR exports live.
	DataPath string
}

// DatabaseConfig holds database connection settings. When SQLitePath is
// set the embedded driver is used instead of PostgreSQL.
type DatabaseConfig struct {
	URL        string
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SSLMode    string
	SQLitePath string
}

// ServerConfig holds the LAN hub settings.
type ServerConfig struct {
	Port        string
	ServiceName string
	// AnnounceMDNS controls the zeroconf announcement on the local
	// network so kitchen and waiter devices can discover the hub.
	AnnounceMDNS bool
}

// PollingConfig holds the refresh intervals for the polling surfaces.
type PollingConfig struct {
	// OrderInterval drives the order editing and kitchen screens.
	OrderInterval time.Duration
	// BoardInterval drives the table and takeaway boards.
	BoardInterval time.Duration
}

// Load reads configuration from the environment. A missing .env file is
// not an error; deployments set real environment variables.
func Load() *AppConfig {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env file")
	}

	cfg := &AppConfig{
		Database: DatabaseConfig{
			URL:        os.Getenv("DATABASE_URL"),
			Host:       envOr("DB_HOST", "localhost"),
			Port:       envOr("DB_PORT", "5432"),
			User:       envOr("DB_USER", "postgres"),
			Password:   envOr("DB_PASSWORD", "postgres"),
			Name:       envOr("DB_NAME", "ouiouipos"),
			SSLMode:    envOr("DB_SSLMODE", "disable"),
			SQLitePath: os.Getenv("SQLITE_PATH"),
		},
		Server: ServerConfig{
			Port:         envOr("SERVER_PORT", "8090"),
			ServiceName:  envOr("SERVICE_NAME", "OUIOUI POS"),
			AnnounceMDNS: envOr("ANNOUNCE_MDNS", "true") == "true",
		},
		Polling: PollingConfig{
			OrderInterval: envDuration("ORDER_POLL_INTERVAL", 5*time.Second),
			BoardInterval: envDuration("BOARD_POLL_INTERVAL", 10*time.Second),
		},
		DataPath: envOr("DATA_PATH", defaultDataPath()),
	}
	return cfg
}

// DSN builds the PostgreSQL connection string.
// Priority: DATABASE_URL > individual variables > defaults.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

func defaultDataPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return homeDir + "/.ouiouipos"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}
