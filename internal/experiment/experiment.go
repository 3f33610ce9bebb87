package experiment

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loopworks/flywheel/pkg/journal"
)

// Default safety thresholds applied when a spec leaves them zero.
const (
	DefaultTrustScoreFloor      = 80.0
	DefaultMinTrustSamples      = 10
	DefaultEducationShareTarget = 0.5
	DefaultMinEducationShares   = 20
	DefaultMaxRolloutPercent    = 50.0
)

// graduation requirements
const (
	graduationMinRuntime      = 24 * time.Hour
	graduationMinParticipants = 100
	graduationGrowthFactor    = 1.5
)

// SafetyThresholds bound what an experiment is allowed to do to its
// participants before it is rolled back.
type SafetyThresholds struct {
	TrustScoreFloor      float64 // rolling trust average below this triggers rollback
	MinTrustSamples      int     // samples required before the trust check fires
	EducationShareTarget float64 // minimum educational share of sharing events
	MinEducationShares   int64   // shares required before the education check fires
	MaxRolloutPercent    float64 // graduation ceiling
}

// Merge fills zero-valued thresholds from base, leaving explicitly set
// fields alone. Lets a deployment override the platform defaults while
// individual experiments can still override the deployment.
func (s SafetyThresholds) Merge(base SafetyThresholds) SafetyThresholds {
	if s.TrustScoreFloor == 0 {
		s.TrustScoreFloor = base.TrustScoreFloor
	}
	if s.MinTrustSamples == 0 {
		s.MinTrustSamples = base.MinTrustSamples
	}
	if s.EducationShareTarget == 0 {
		s.EducationShareTarget = base.EducationShareTarget
	}
	if s.MinEducationShares == 0 {
		s.MinEducationShares = base.MinEducationShares
	}
	if s.MaxRolloutPercent == 0 {
		s.MaxRolloutPercent = base.MaxRolloutPercent
	}
	return s
}

// withDefaults fills zero-valued thresholds with the platform defaults.
func (s SafetyThresholds) withDefaults() SafetyThresholds {
	if s.TrustScoreFloor == 0 {
		s.TrustScoreFloor = DefaultTrustScoreFloor
	}
	if s.MinTrustSamples == 0 {
		s.MinTrustSamples = DefaultMinTrustSamples
	}
	if s.EducationShareTarget == 0 {
		s.EducationShareTarget = DefaultEducationShareTarget
	}
	if s.MinEducationShares == 0 {
		s.MinEducationShares = DefaultMinEducationShares
	}
	if s.MaxRolloutPercent == 0 {
		s.MaxRolloutPercent = DefaultMaxRolloutPercent
	}
	return s
}

// Spec describes an experiment to create.
type Spec struct {
	Name           string
	Type           string // growth mechanic under test, e.g. "invite_flow"
	Variants       []VariantSpec
	Thresholds     SafetyThresholds
	RolloutPercent float64 // initial gradual-rollout percentage, (0,100]
}

// Experiment is one safety-bounded A/B test. It exclusively owns its
// variants; all status mutation goes through the experiment's lock while
// variant counters remain lock-free for ingestion.
type Experiment struct {
	ID         string
	Name       string
	Type       string
	Thresholds SafetyThresholds

	mu             sync.Mutex
	status         journal.ExperimentStatus
	rolloutPercent float64
	rollbackReason string
	startedAt      time.Time
	endedAt        time.Time

	variants []*Variant
}

// New creates an experiment in draft status from a spec. Variant traffic
// shares must sum to 1 within a small tolerance.
func New(spec Spec) (*Experiment, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("experiment name cannot be empty")
	}
	if spec.Type == "" {
		return nil, fmt.Errorf("experiment type cannot be empty")
	}
	if len(spec.Variants) < 2 {
		return nil, fmt.Errorf("experiment requires at least 2 variants, got %d", len(spec.Variants))
	}
	if spec.RolloutPercent <= 0 || spec.RolloutPercent > 100 {
		return nil, fmt.Errorf("rollout percent must be in (0,100], got %v", spec.RolloutPercent)
	}

	var shareSum float64
	controls := 0
	variants := make([]*Variant, 0, len(spec.Variants))
	for _, vs := range spec.Variants {
		v, err := newVariant(vs)
		if err != nil {
			return nil, err
		}
		if v.IsControl {
			controls++
		}
		shareSum += v.TrafficShare
		variants = append(variants, v)
	}
	if controls != 1 {
		return nil, fmt.Errorf("experiment requires exactly one control variant, got %d", controls)
	}
	if math.Abs(shareSum-1.0) > 1e-6 {
		return nil, fmt.Errorf("variant traffic shares must sum to 1, got %v", shareSum)
	}

	return &Experiment{
		ID:             uuid.New().String(),
		Name:           spec.Name,
		Type:           spec.Type,
		Thresholds:     spec.Thresholds.withDefaults(),
		status:         journal.StatusDraft,
		rolloutPercent: spec.RolloutPercent,
		variants:       variants,
	}, nil
}

// Status returns the current lifecycle status.
func (e *Experiment) Status() journal.ExperimentStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// RolloutPercent returns the current gradual-rollout percentage.
func (e *Experiment) RolloutPercent() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rolloutPercent
}

// Variants returns the variant set. The slice itself must not be mutated;
// variant counters are safe to update concurrently.
func (e *Experiment) Variants() []*Variant { return e.variants }

// Control returns the designated control variant.
func (e *Experiment) Control() *Variant {
	for _, v := range e.variants {
		if v.IsControl {
			return v
		}
	}
	return nil // unreachable: New enforces exactly one control
}

// SubmitForReview moves a draft experiment into pre-launch review.
func (e *Experiment) SubmitForReview() error {
	return e.transition(journal.StatusDraft, journal.StatusReview)
}

// Start transitions a draft or review experiment to active and records the
// start time.
func (e *Experiment) Start(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != journal.StatusDraft && e.status != journal.StatusReview {
		return fmt.Errorf("cannot start experiment in status %q", e.status)
	}
	e.status = journal.StatusActive
	e.startedAt = now
	return nil
}

// Pause takes an active experiment out of traffic; the one reversible
// transition.
func (e *Experiment) Pause() error {
	return e.transition(journal.StatusActive, journal.StatusPaused)
}

// Resume returns a paused experiment to traffic.
func (e *Experiment) Resume() error {
	return e.transition(journal.StatusPaused, journal.StatusActive)
}

// Complete ends an active or paused experiment at its planned end.
func (e *Experiment) Complete(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != journal.StatusActive && e.status != journal.StatusPaused {
		return fmt.Errorf("cannot complete experiment in status %q", e.status)
	}
	e.status = journal.StatusCompleted
	e.endedAt = now
	return nil
}

// Rollback terminates the experiment after a safety violation, recording
// the reason and end time. All participants revert to the control
// experience. Terminal; idempotent if already rolled back.
func (e *Experiment) Rollback(reason string, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == journal.StatusRolledBack {
		return nil
	}
	if e.status.Terminal() {
		return fmt.Errorf("cannot roll back experiment in terminal status %q", e.status)
	}
	e.status = journal.StatusRolledBack
	e.rollbackReason = reason
	e.endedAt = now
	return nil
}

// RollbackReason returns the recorded rollback reason, empty unless the
// experiment was rolled back.
func (e *Experiment) RollbackReason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rollbackReason
}

func (e *Experiment) transition(from, to journal.ExperimentStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != from {
		return fmt.Errorf("cannot transition experiment from %q to %q", e.status, to)
	}
	e.status = to
	return nil
}

// Runtime returns how long the experiment has been running.
func (e *Experiment) Runtime(now time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.startedAt.IsZero() {
		return 0
	}
	end := now
	if !e.endedAt.IsZero() {
		end = e.endedAt
	}
	return end.Sub(e.startedAt)
}

// Snapshot produces the journal view of the experiment and its variants.
func (e *Experiment) Snapshot() journal.ExperimentSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	variants := make([]journal.VariantSnapshot, 0, len(e.variants))
	for _, v := range e.variants {
		variants = append(variants, v.Snapshot())
	}

	snap := journal.ExperimentSnapshot{
		ID:             e.ID,
		Name:           e.Name,
		Type:           e.Type,
		Status:         e.status,
		RolloutPercent: e.rolloutPercent,
		Variants:       variants,
		RollbackReason: e.rollbackReason,
	}
	if !e.startedAt.IsZero() {
		snap.StartedAtMs = e.startedAt.UnixMilli()
	}
	if !e.endedAt.IsZero() {
		snap.EndedAtMs = e.endedAt.UnixMilli()
	}
	return snap
}

// variantByID looks up a variant by its UUID.
func (e *Experiment) variantByID(id string) (*Variant, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid variant ID %q: %w", id, err)
	}
	for _, v := range e.variants {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, fmt.Errorf("no variant with ID %q", id)
}
