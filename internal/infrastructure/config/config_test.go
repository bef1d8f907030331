package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.RedisAddr())
	assert.Equal(t, 2*time.Second, cfg.Dispatcher.PollInterval)
	assert.Equal(t, 10, cfg.Dispatcher.BatchSize)
	assert.Equal(t, 5, cfg.Dispatcher.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Dispatcher.BackoffBase)
	assert.Equal(t, 30*time.Minute, cfg.Dispatcher.BackoffCap)
	assert.Equal(t, 15*time.Minute, cfg.Booking.SlotLockTTL)
	assert.Equal(t, 24*time.Hour, cfg.Booking.CancellationLeadTime)
	assert.Equal(t, "stripe", cfg.Payment.DefaultGateway)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FULFILLMENT_INSTANCE_ID", "fulfillment-test-7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "fulfillment-test-7", cfg.InstanceID)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Port: 8080, ReadTimeout: time.Second, WriteTimeout: time.Second},
			Database: DatabaseConfig{
				Host: "localhost", Port: 5432,
			},
			Redis: RedisConfig{Port: 6379},
			Dispatcher: DispatcherConfig{
				PollInterval: time.Second, BatchSize: 10, MaxRetries: 5,
				BackoffBase: 30 * time.Second, BackoffCap: 30 * time.Minute,
			},
			Booking: BookingConfig{SlotLockTTL: 15 * time.Minute, CancellationLeadTime: 24 * time.Hour},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"missing db host", func(c *Config) { c.Database.Host = "" }},
		{"zero poll interval", func(c *Config) { c.Dispatcher.PollInterval = 0 }},
		{"zero batch size", func(c *Config) { c.Dispatcher.BatchSize = 0 }},
		{"cap below base", func(c *Config) { c.Dispatcher.BackoffCap = time.Second }},
		{"zero slot lock ttl", func(c *Config) { c.Booking.SlotLockTTL = 0 }},
		{"negative lead time", func(c *Config) { c.Booking.CancellationLeadTime = -time.Hour }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "db.internal", Port: 5433, User: "svc", Password: "secret",
		Database: "fulfillment", SSLMode: "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=svc password=secret dbname=fulfillment sslmode=require",
		cfg.DatabaseDSN(),
	)
}
