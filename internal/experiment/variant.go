// Package experiment implements safety-bounded A/B experiments on growth
// mechanics: deterministic sticky traffic assignment, per-variant metric
// accumulation, automatic safety-triggered rollback, and gradual traffic
// graduation.
package experiment

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/loopworks/flywheel/pkg/journal"
)

// trustSampleCap bounds the rolling trust-score window per variant.
const trustSampleCap = 100

// VariantSpec describes one variant at experiment-creation time.
type VariantSpec struct {
	Name         string
	TrafficShare float64           // Fraction of in-experiment traffic, (0,1]
	IsControl    bool              // Exactly one variant per experiment
	Config       map[string]string // Mechanic configuration payload, opaque to the controller
}

// Variant is one arm of an experiment. Counters are updated concurrently by
// ingestion calls without locking; the trust-score window is the only state
// behind a mutex. A variant is owned exclusively by its parent experiment.
type Variant struct {
	ID           string
	Name         string
	TrafficShare float64
	IsControl    bool
	Config       map[string]string

	participants      atomic.Int64
	conversions       atomic.Int64
	sharingEvents     atomic.Int64
	educationalShares atomic.Int64
	privacyViolations atomic.Int64

	mu          sync.Mutex
	trustScores []float64 // rolling window, oldest evicted at cap
}

func newVariant(spec VariantSpec) (*Variant, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("variant name cannot be empty")
	}
	if spec.TrafficShare <= 0 || spec.TrafficShare > 1 {
		return nil, fmt.Errorf("variant %q: traffic share must be in (0,1], got %v", spec.Name, spec.TrafficShare)
	}

	cfg := make(map[string]string, len(spec.Config))
	for k, v := range spec.Config {
		cfg[k] = v
	}

	return &Variant{
		ID:           uuid.New().String(),
		Name:         spec.Name,
		TrafficShare: spec.TrafficShare,
		IsControl:    spec.IsControl,
		Config:       cfg,
	}, nil
}

// RecordParticipant counts a newly assigned user.
func (v *Variant) RecordParticipant() { v.participants.Add(1) }

// RecordConversion counts a conversion event.
func (v *Variant) RecordConversion() { v.conversions.Add(1) }

// RecordShare counts a sharing event, tracking whether the shared content
// was educational.
func (v *Variant) RecordShare(educational bool) {
	v.sharingEvents.Add(1)
	if educational {
		v.educationalShares.Add(1)
	}
}

// RecordPrivacyViolation counts a detected privacy violation. Any non-zero
// count is treated as critical by the safety check.
func (v *Variant) RecordPrivacyViolation() { v.privacyViolations.Add(1) }

// RecordTrustScore appends a trust-score sample to the rolling window,
// evicting the oldest sample once the window is full.
func (v *Variant) RecordTrustScore(score float64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.trustScores = append(v.trustScores, score)
	if len(v.trustScores) > trustSampleCap {
		v.trustScores = v.trustScores[len(v.trustScores)-trustSampleCap:]
	}
}

// TrustAverage returns the rolling trust-score average and sample count.
func (v *Variant) TrustAverage() (avg float64, samples int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.trustScores) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range v.trustScores {
		sum += s
	}
	return sum / float64(len(v.trustScores)), len(v.trustScores)
}

// EducationalShareRatio returns the fraction of shares that were educational
// and the total share count.
func (v *Variant) EducationalShareRatio() (ratio float64, shares int64) {
	shares = v.sharingEvents.Load()
	if shares == 0 {
		return 0, 0
	}
	return float64(v.educationalShares.Load()) / float64(shares), shares
}

// Participants returns the participant count.
func (v *Variant) Participants() int64 { return v.participants.Load() }

// Conversions returns the conversion count.
func (v *Variant) Conversions() int64 { return v.conversions.Load() }

// PrivacyViolations returns the privacy-violation count.
func (v *Variant) PrivacyViolations() int64 { return v.privacyViolations.Load() }

// Snapshot produces a point-in-time journal view of the variant's counters.
func (v *Variant) Snapshot() journal.VariantSnapshot {
	return journal.VariantSnapshot{
		ID:                v.ID,
		Name:              v.Name,
		TrafficShare:      v.TrafficShare,
		IsControl:         v.IsControl,
		Participants:      v.participants.Load(),
		Conversions:       v.conversions.Load(),
		SharingEvents:     v.sharingEvents.Load(),
		PrivacyViolations: v.privacyViolations.Load(),
	}
}
