package economy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIndicator(t *testing.T) {
	t.Run("rejects bad configuration at construction", func(t *testing.T) {
		_, err := NewIndicator("", 1.0, 0.5)
		assert.Error(t, err)

		_, err = NewIndicator("inflation_rate", 1.0, 0)
		assert.ErrorContains(t, err, "tolerance")

		_, err = NewIndicator("inflation_rate", 1.0, -0.5)
		assert.ErrorContains(t, err, "tolerance")
	})

	t.Run("starts stable and normal", func(t *testing.T) {
		ind, err := NewIndicator("inflation_rate", 2.5, 0.5)
		require.NoError(t, err)
		assert.Equal(t, TrendStable, ind.Trend())
		assert.Equal(t, AlertNormal, ind.Alert())
	})
}

func TestIndicatorAlertLevels(t *testing.T) {
	ind, err := NewIndicator("inflation_rate", 10.0, 1.0)
	require.NoError(t, err)

	now := time.Now()
	cases := []struct {
		value float64
		want  AlertLevel
	}{
		{10.0, AlertNormal},
		{10.9, AlertNormal},
		{11.5, AlertWarning},
		{8.5, AlertWarning},
		{13.0, AlertCritical},
		{15.0, AlertEmergency},
		{4.0, AlertEmergency},
	}
	for _, tc := range cases {
		ind.UpdateValue(tc.value, now)
		assert.Equal(t, tc.want, ind.Alert(), "value %v", tc.value)
	}
}

func TestIndicatorAroundTargetStaysNormal(t *testing.T) {
	// Inflation values hovering around a 2.5 target with tolerance 0.5 must
	// never leave the normal band.
	ind, err := NewIndicator("inflation_rate", 2.5, 0.5)
	require.NoError(t, err)

	now := time.Now()
	for _, v := range []float64{2.3, 2.4, 2.5, 2.6, 2.5} {
		ind.UpdateValue(v, now)
		assert.Equal(t, AlertNormal, ind.Alert(), "value %v", v)
		now = now.Add(time.Hour)
	}
}

func TestIndicatorTrend(t *testing.T) {
	feed := func(values []float64) *Indicator {
		ind, err := NewIndicator("currency_velocity", 1.0, 0.5)
		require.NoError(t, err)
		now := time.Now()
		for _, v := range values {
			ind.UpdateValue(v, now)
			now = now.Add(time.Hour)
		}
		return ind
	}

	t.Run("constant stream at target is stable", func(t *testing.T) {
		ind := feed([]float64{1, 1, 1, 1, 1, 1, 1, 1})
		assert.Equal(t, TrendStable, ind.Trend())
		assert.Equal(t, AlertNormal, ind.Alert())
	})

	t.Run("steady growth is rising", func(t *testing.T) {
		ind := feed([]float64{1.0, 1.05, 1.10, 1.16, 1.22, 1.28})
		assert.Equal(t, TrendRising, ind.Trend())
	})

	t.Run("steady decline is falling", func(t *testing.T) {
		ind := feed([]float64{1.28, 1.22, 1.16, 1.10, 1.05, 1.0})
		assert.Equal(t, TrendFalling, ind.Trend())
	})

	t.Run("wild swings are volatile", func(t *testing.T) {
		ind := feed([]float64{1.0, 2.0, 0.8, 2.5, 0.6, 2.2})
		assert.Equal(t, TrendVolatile, ind.Trend())
	})
}

func TestIndicatorHistoryBounds(t *testing.T) {
	ind, err := NewIndicator("transaction_volume", 100, 10)
	require.NoError(t, err)

	t.Run("capped at 30 points", func(t *testing.T) {
		now := time.Now()
		for i := 0; i < 50; i++ {
			ind.UpdateValue(float64(i), now)
			now = now.Add(time.Hour)
		}
		assert.Equal(t, 30, ind.HistoryLen())
	})

	t.Run("prunes points older than 30 days", func(t *testing.T) {
		now := time.Now().Add(31 * 24 * time.Hour)
		ind.UpdateValue(99, now)
		assert.Equal(t, 1, ind.HistoryLen())
	})
}
