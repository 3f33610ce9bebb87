// Package virality computes growth metrics (K-factor, share rate, conversion
// funnels, cohort retention) from noisy aggregate counts. Every computation
// spends privacy budget through the noise engine; raw counts never leave the
// calculator un-noised.
package virality

import (
	"fmt"
	"time"
)

// PrivacyLevel selects how much epsilon a metric computation may spend.
// Higher privacy means a smaller epsilon slice and a noisier estimate.
type PrivacyLevel string

const (
	PrivacyLow    PrivacyLevel = "low"
	PrivacyMedium PrivacyLevel = "medium"
	PrivacyHigh   PrivacyLevel = "high"
)

// epsilon slices per noised counter
const (
	epsilonLow    = 1.0
	epsilonMedium = 0.5
	epsilonHigh   = 0.1
)

// Epsilon returns the per-counter epsilon slice for this privacy level.
func (p PrivacyLevel) Epsilon() (float64, error) {
	switch p {
	case PrivacyLow:
		return epsilonLow, nil
	case PrivacyMedium:
		return epsilonMedium, nil
	case PrivacyHigh:
		return epsilonHigh, nil
	default:
		return 0, fmt.Errorf("unknown privacy level: %q", p)
	}
}

// ConfidenceInterval bounds a metric estimate at 95% confidence.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// MetricRecord is one computed metric value with its confidence interval and
// the privacy context it was computed under. Records are immutable once
// produced; the calculator keeps an append-only history per metric name.
type MetricRecord struct {
	Name         string             `json:"name"`
	Value        float64            `json:"value"`
	Confidence   ConfidenceInterval `json:"confidence"`
	PrivacyLevel PrivacyLevel       `json:"privacy_level"`
	Window       time.Duration      `json:"window"`
	ComputedAt   time.Time          `json:"computed_at"`
}

// FunnelStage is one named step of a conversion funnel with its raw count.
type FunnelStage struct {
	Name  string
	Count int64
}

// StageConversion is the noisy conversion rate between two consecutive
// funnel stages.
type StageConversion struct {
	From   string
	To     string
	Record MetricRecord
}

// RetentionPoint is the noisy retention rate for one cohort week relative
// to week zero.
type RetentionPoint struct {
	Week   int
	Record MetricRecord
}
