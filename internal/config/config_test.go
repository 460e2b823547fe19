package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 1.0, cfg.Priority.UrgencyWeights["NORMAL"])
	assert.Equal(t, 3.0, cfg.Priority.UrgencyWeights["EMI"])
	assert.Equal(t, 5.0, cfg.Priority.UrgencyWeights["MEDICAL"])
	assert.Equal(t, 0.0, cfg.Priority.TierWeights["BASIC"])
	assert.Equal(t, 2.0, cfg.Priority.TierWeights["PREMIUM"])
	assert.Equal(t, 4.0, cfg.Priority.TierWeights["VIP"])
	assert.Equal(t, 0.1, cfg.Priority.AgingFactor)
	assert.True(t, cfg.TimeLock.Threshold.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, 30*time.Second, cfg.TimeLock.HoldDuration)
	assert.True(t, cfg.Reserve.Minimums["BASIC"].Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 5*time.Second, cfg.Workers.AgingInterval)
	assert.Equal(t, time.Second, cfg.Workers.UnlockInterval)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "memory", cfg.Storage.RankedDriver)
}

func TestFromViper_Overrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("timelock.threshold", "2500.50")
	v.Set("priority.aging_factor", 0.25)
	v.Set("reserve.minimums", map[string]string{"basic": "10"})
	v.Set("ranked.driver", "MEMORY")
	v.Set("jwt.secret_key", "s3cret")

	cfg, err := FromViper(v)
	require.NoError(t, err)

	assert.True(t, cfg.TimeLock.Threshold.Equal(decimal.RequireFromString("2500.50")))
	assert.Equal(t, 0.25, cfg.Priority.AgingFactor)
	assert.True(t, cfg.Reserve.Minimums["BASIC"].Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "memory", cfg.Storage.RankedDriver)
}

func TestFromViper_Invalid(t *testing.T) {
	t.Run("bad threshold", func(t *testing.T) {
		v := viper.New()
		setDefaults(v)
		v.Set("timelock.threshold", "lots")

		_, err := FromViper(v)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "timelock.threshold")
	})

	t.Run("negative aging factor", func(t *testing.T) {
		v := viper.New()
		setDefaults(v)
		v.Set("priority.aging_factor", -1.0)

		_, err := FromViper(v)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "aging_factor")
	})

	t.Run("zero aging factor", func(t *testing.T) {
		v := viper.New()
		setDefaults(v)
		v.Set("jwt.secret_key", "s3cret")
		v.Set("priority.aging_factor", 0.0)

		_, err := FromViper(v)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "aging_factor must be positive")
	})

	t.Run("missing jwt secret", func(t *testing.T) {
		v := viper.New()
		setDefaults(v)

		_, err := FromViper(v)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "jwt.secret_key")

		v.Set("storage.driver", "memory")
		_, err = FromViper(v)
		assert.NoError(t, err)
	})

	t.Run("zero interval", func(t *testing.T) {
		v := viper.New()
		setDefaults(v)
		v.Set("workers.unlock_interval", 0)

		_, err := FromViper(v)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "worker intervals")
	})

	t.Run("negative reserve", func(t *testing.T) {
		v := viper.New()
		setDefaults(v)
		v.Set("reserve.minimums", map[string]string{"VIP": "-5"})

		_, err := FromViper(v)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "VIP")
	})
}
