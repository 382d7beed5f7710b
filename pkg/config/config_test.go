package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"unset", "", 7 * time.Second},
		{"go duration", "250ms", 250 * time.Millisecond},
		{"bare seconds", "300", 5 * time.Minute},
		{"garbage", "soon", 7 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			assert.Equal(t, tt.want, getEnvDuration("TEST_DURATION", 7*time.Second))
		})
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", " NG, GH ,,US ")
	assert.Equal(t, []string{"NG", "GH", "US"}, getEnvList("TEST_LIST", nil))

	t.Setenv("TEST_LIST", "")
	assert.Nil(t, getEnvList("TEST_LIST", nil))
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("PAYMENT_PROVIDER", "")
	t.Setenv("PUBLIC_BASE_URL", "https://shop.example.com/")

	cfg := Load()

	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, ProviderSandbox, cfg.PaymentProvider)
	assert.Equal(t, "https://shop.example.com", cfg.PublicBaseURL)
	assert.Equal(t, 3*time.Second, cfg.AdmissionPollInterval)
	assert.Equal(t, 5*time.Minute, cfg.AdmissionWaitDeadline)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			StoreDriver:           StoreMemory,
			PaymentProvider:       ProviderNone,
			JWTSecret:             "s3cret",
			AdmissionPollInterval: time.Second,
			AdmissionWaitDeadline: time.Minute,
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown store", func(c *Config) { c.StoreDriver = "mongo" }},
		{"unknown provider", func(c *Config) { c.PaymentProvider = "paypal" }},
		{"missing secret", func(c *Config) { c.JWTSecret = "" }},
		{"zero interval", func(c *Config) { c.AdmissionPollInterval = 0 }},
		{"interval above deadline", func(c *Config) { c.AdmissionPollInterval = 2 * time.Minute }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
