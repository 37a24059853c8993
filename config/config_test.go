package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RAWG_API_KEY", "abc")
	t.Setenv("RAWG_BASE_URL", "")
	t.Setenv("BRONZE_URI", "")
	t.Setenv("SILVER_URI", "")

	cfg := Load()
	assert.Equal(t, "abc", cfg.ApiKey)
	assert.Equal(t, DefaultBaseUrl, cfg.BaseUrl)
	assert.Equal(t, DefaultBronzeUri, cfg.BronzeUri)
	assert.Equal(t, DefaultSilverUri, cfg.SilverUri)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RAWG_API_KEY", "abc")
	t.Setenv("RAWG_BASE_URL", "http://localhost:8080/api")
	t.Setenv("BRONZE_URI", "s3://lake?prefix=bronze/")
	t.Setenv("SILVER_URI", "s3://lake?prefix=silver/")

	cfg := Load()
	assert.Equal(t, "http://localhost:8080/api", cfg.BaseUrl)
	assert.Equal(t, "s3://lake?prefix=bronze/", cfg.BronzeUri)
	assert.Equal(t, "s3://lake?prefix=silver/", cfg.SilverUri)
}

func TestValidateRequiresApiKey(t *testing.T) {
	cfg := &Config{}
	assert.ErrorContains(t, cfg.Validate(), "RAWG_API_KEY")
}
