// Package economy tracks economic-health indicators for the dual-currency
// virtual economy and drives faucet/sink multipliers toward target values
// with a bounded discrete-time feedback controller.
package economy

import (
	"fmt"
	"math"
	"time"
)

// Trend classifies the recent direction of an indicator's history.
type Trend string

const (
	TrendRising   Trend = "rising"
	TrendFalling  Trend = "falling"
	TrendStable   Trend = "stable"
	TrendVolatile Trend = "volatile"
)

// AlertLevel classifies how far an indicator has deviated from its target
// relative to its tolerance band.
type AlertLevel string

const (
	AlertNormal    AlertLevel = "normal"
	AlertWarning   AlertLevel = "warning"
	AlertCritical  AlertLevel = "critical"
	AlertEmergency AlertLevel = "emergency"
)

const (
	// historyCap bounds each indicator's history.
	historyCap = 30

	// historyWindow prunes datapoints older than 30 days.
	historyWindow = 30 * 24 * time.Hour

	// trendSpan is how many trailing points feed the trend computation.
	trendSpan = 8 // yields up to 7 period-over-period changes

	// trend thresholds per the indicator state machine
	trendChangeThreshold   = 0.02 // +/-2% average change
	trendVarianceThreshold = 0.1
)

type datapoint struct {
	value float64
	at    time.Time
}

// Indicator is one tracked economic signal with its target, tolerance band,
// bounded history, and derived trend/alert classification. Mutate only
// through UpdateValue; trend and alert are pure functions of history.
type Indicator struct {
	Name      string
	Target    float64
	Tolerance float64

	current float64
	history []datapoint
	trend   Trend
	alert   AlertLevel
}

// NewIndicator creates an indicator. Target must be finite and tolerance
// positive; a bad configuration is a startup error, never a runtime one.
func NewIndicator(name string, target, tolerance float64) (*Indicator, error) {
	if name == "" {
		return nil, fmt.Errorf("indicator name cannot be empty")
	}
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return nil, fmt.Errorf("indicator %q: target must be finite, got %v", name, target)
	}
	if tolerance <= 0 || math.IsNaN(tolerance) || math.IsInf(tolerance, 0) {
		return nil, fmt.Errorf("indicator %q: tolerance must be positive and finite, got %v", name, tolerance)
	}

	return &Indicator{
		Name:      name,
		Target:    target,
		Tolerance: tolerance,
		trend:     TrendStable,
		alert:     AlertNormal,
	}, nil
}

// UpdateValue appends a new observation, prunes the history to the retention
// bounds, and recomputes trend and alert.
func (ind *Indicator) UpdateValue(value float64, now time.Time) {
	ind.current = value
	ind.history = append(ind.history, datapoint{value: value, at: now})

	// Prune by age, then by count.
	cutoff := now.Add(-historyWindow)
	kept := ind.history[:0]
	for _, p := range ind.history {
		if p.at.After(cutoff) {
			kept = append(kept, p)
		}
	}
	ind.history = kept
	if len(ind.history) > historyCap {
		ind.history = ind.history[len(ind.history)-historyCap:]
	}

	ind.trend = computeTrend(ind.history)
	ind.alert = computeAlert(value, ind.Target, ind.Tolerance)
}

// Current returns the most recent observed value.
func (ind *Indicator) Current() float64 { return ind.current }

// Trend returns the derived trend classification.
func (ind *Indicator) Trend() Trend { return ind.trend }

// Alert returns the derived alert level.
func (ind *Indicator) Alert() AlertLevel { return ind.alert }

// HistoryLen returns the number of retained datapoints.
func (ind *Indicator) HistoryLen() int { return len(ind.history) }

// Deviation returns how far the current value sits from target, in units
// of the tolerance band.
func (ind *Indicator) Deviation() float64 {
	return math.Abs(ind.current-ind.Target) / ind.Tolerance
}

// AboveTarget reports whether the current value exceeds the target.
func (ind *Indicator) AboveTarget() bool { return ind.current > ind.Target }

// computeTrend averages the fractional period-over-period change over the
// last trendSpan points. High variance of those changes dominates the
// direction classification.
func computeTrend(history []datapoint) Trend {
	if len(history) < 2 {
		return TrendStable
	}

	points := history
	if len(points) > trendSpan {
		points = points[len(points)-trendSpan:]
	}

	changes := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev := points[i-1].value
		if prev == 0 {
			continue
		}
		changes = append(changes, (points[i].value-prev)/prev)
	}
	if len(changes) == 0 {
		return TrendStable
	}

	var sum float64
	for _, ch := range changes {
		sum += ch
	}
	mean := sum / float64(len(changes))

	var variance float64
	for _, ch := range changes {
		variance += (ch - mean) * (ch - mean)
	}
	variance /= float64(len(changes))

	switch {
	case variance > trendVarianceThreshold:
		return TrendVolatile
	case mean > trendChangeThreshold:
		return TrendRising
	case mean < -trendChangeThreshold:
		return TrendFalling
	default:
		return TrendStable
	}
}

// computeAlert maps absolute deviation from target onto the tolerance band:
// within 1x tolerance is normal, 2x warning, 4x critical, beyond emergency.
func computeAlert(value, target, tolerance float64) AlertLevel {
	deviation := math.Abs(value - target)
	switch {
	case deviation <= tolerance:
		return AlertNormal
	case deviation <= 2*tolerance:
		return AlertWarning
	case deviation <= 4*tolerance:
		return AlertCritical
	default:
		return AlertEmergency
	}
}
