// Package config reads storefront settings from the environment, optionally
// seeded from local .env files.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/hanpama/marketctx/internal/storefront"
)

// DefaultEnvFiles are read by LoadEnv when no files are given.
var DefaultEnvFiles = []string{".env", ".env.local"}

// Config holds the settings shared by every command.
type Config struct {
	Domain     string
	Token      string
	APIVersion string
	Market     string
	Language   string
	Country    string

	OTelEndpoint string
	OTelService  string
	LogLevel     string
}

// LoadEnv loads the given env files (DefaultEnvFiles when none) into the
// process environment. Variables already set in the process win. It returns
// the files that were loaded.
func LoadEnv(logger logrus.FieldLogger, files ...string) []string {
	if len(files) == 0 {
		files = DefaultEnvFiles
	}
	loaded := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			if logger != nil {
				logger.WithError(err).Warnf("Failed to load %s", file)
			}
			continue
		}
		loaded = append(loaded, file)
	}
	if logger != nil && len(loaded) > 0 {
		logger.Debugf("Loaded env files: %s", strings.Join(loaded, ", "))
	}
	return loaded
}

// FromEnv builds a Config from the process environment.
func FromEnv() Config {
	return Config{
		Domain:       GetEnv("STOREFRONT_DOMAIN", ""),
		Token:        GetEnv("STOREFRONT_TOKEN", ""),
		APIVersion:   GetEnv("STOREFRONT_API_VERSION", storefront.DefaultAPIVersion),
		Market:       GetEnv("STOREFRONT_MARKET", ""),
		Language:     GetEnv("STOREFRONT_LANGUAGE", "EN"),
		Country:      GetEnv("STOREFRONT_COUNTRY", "US"),
		OTelEndpoint: GetEnv("OTEL_ENDPOINT", ""),
		OTelService:  GetEnv("OTEL_SERVICE", "marketctx"),
		LogLevel:     GetEnv("LOG_LEVEL", "info"),
	}
}

// GetEnv gets an environment variable with a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
