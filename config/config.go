// Package config reads pipeline configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
)

const (
	DefaultBaseUrl   = "https://api.rawg.io/api"
	DefaultBronzeUri = "data/bronze"
	DefaultSilverUri = "data/silver"
)

type Config struct {
	// API key for api.rawg.io, required.
	ApiKey string
	// Base URL of the API.
	BaseUrl string
	// Root URI of the bronze layer. A bare path or file:// URI uses local
	// files; any other scheme is opened as a blob bucket.
	BronzeUri string
	// Root URI of the silver layer.
	SilverUri string
}

// Load reads .env if present, then the environment. Validation is left to
// the caller so commands that never touch the API can run without a key.
func Load() *Config {
	// A missing .env is fine; real deployments configure the environment
	// directly.
	_ = godotenv.Load()

	return &Config{
		ApiKey:    os.Getenv("RAWG_API_KEY"),
		BaseUrl:   getEnvDefault("RAWG_BASE_URL", DefaultBaseUrl),
		BronzeUri: getEnvDefault("BRONZE_URI", DefaultBronzeUri),
		SilverUri: getEnvDefault("SILVER_URI", DefaultSilverUri),
	}
}

// Validate fails fast when the API key is absent.
func (c *Config) Validate() error {
	if c.ApiKey == "" {
		return errors.New("RAWG_API_KEY is not set in environment or .env file")
	}
	return nil
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
