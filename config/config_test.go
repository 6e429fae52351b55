package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"KAFKA_BROKERS", "CANCEL_WINDOW", "DEFAULT_CANCEL_THRESHOLD", "AUTO_MIGRATE", "SESSION_TTL"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t, 2, cfg.Business.DefaultCancelThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Business.CancelWindow)
	assert.Equal(t, 5, cfg.Business.PaymentCodeAttempts)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, 12*time.Hour, cfg.Auth.SessionTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("CANCEL_WINDOW", "6h")
	t.Setenv("DEFAULT_CANCEL_THRESHOLD", "4")
	t.Setenv("AUTO_MIGRATE", "false")
	t.Setenv("SESSION_TTL", "not-a-duration")

	cfg := Load()

	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 6*time.Hour, cfg.Business.CancelWindow)
	assert.Equal(t, 4, cfg.Business.DefaultCancelThreshold)
	assert.False(t, cfg.Database.AutoMigrate)
	assert.Equal(t, 12*time.Hour, cfg.Auth.SessionTTL, "invalid values fall back to the default")
}
