package journal

import (
	"fmt"

	"github.com/google/uuid"
)

// ExperimentStatus is the lifecycle state of an experiment as persisted in the
// journal. Transitions are one-directional except active<->paused;
// completed, rolled_back and failed are terminal.
type ExperimentStatus string

const (
	// StatusDraft is a newly created experiment not yet reviewed.
	StatusDraft ExperimentStatus = "draft"

	// StatusReview is an experiment awaiting approval to start.
	StatusReview ExperimentStatus = "review"

	// StatusActive is a running experiment receiving traffic.
	StatusActive ExperimentStatus = "active"

	// StatusPaused is a running experiment temporarily taken out of traffic.
	StatusPaused ExperimentStatus = "paused"

	// StatusCompleted is an experiment that ran to its planned end.
	StatusCompleted ExperimentStatus = "completed"

	// StatusRolledBack is an experiment terminated by a safety violation.
	StatusRolledBack ExperimentStatus = "rolled_back"

	// StatusFailed is an experiment terminated by an operational failure.
	StatusFailed ExperimentStatus = "failed"
)

// Validate checks if the ExperimentStatus is a valid enum value.
func (s ExperimentStatus) Validate() error {
	switch s {
	case StatusDraft, StatusReview, StatusActive, StatusPaused,
		StatusCompleted, StatusRolledBack, StatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown experiment status: %q", s)
	}
}

// Terminal reports whether the status permits no further transitions.
func (s ExperimentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRolledBack || s == StatusFailed
}

// VariantSnapshot is the persisted view of a single experiment variant.
// Counters are point-in-time copies; the live atomic counters are owned by
// the optimizer process.
type VariantSnapshot struct {
	ID                string  `json:"id"`                 // UUID - unique identifier for this variant
	Name              string  `json:"name"`               // Human-readable variant name
	TrafficShare      float64 `json:"traffic_share"`      // Fraction of in-experiment traffic, (0,1]
	IsControl         bool    `json:"is_control"`         // True for the designated control variant
	Participants      int64   `json:"participants"`       // Users assigned to this variant
	Conversions       int64   `json:"conversions"`        // Conversion events recorded
	SharingEvents     int64   `json:"sharing_events"`     // Share events recorded
	PrivacyViolations int64   `json:"privacy_violations"` // Recorded privacy violations (any > 0 is critical)
}

// ExperimentSnapshot is the persisted view of an A/B experiment.
// The optimizer writes a fresh snapshot after every state change and every
// safety cycle so the journal always reflects the latest status.
type ExperimentSnapshot struct {
	ID             string            `json:"id"`              // UUID - unique identifier for this experiment
	Name           string            `json:"name"`            // Human-readable experiment name
	Type           string            `json:"type"`            // Growth mechanic under test (e.g. "invite_flow")
	Status         ExperimentStatus  `json:"status"`          // Current lifecycle state
	RolloutPercent float64           `json:"rollout_percent"` // Gradual rollout percentage, [0,100]
	Variants       []VariantSnapshot `json:"variants"`        // All variants including control
	RollbackReason string            `json:"rollback_reason,omitempty"` // Set when status=rolled_back
	StartedAtMs    int64             `json:"started_at_ms,omitempty"`   // Unix ms when experiment went active
	EndedAtMs      int64             `json:"ended_at_ms,omitempty"`     // Unix ms when experiment reached a terminal state
}

// Validate checks if the ExperimentSnapshot has valid field values.
func (e *ExperimentSnapshot) Validate() error {
	if !isValidUUID(e.ID) {
		return fmt.Errorf("invalid experiment ID: not a valid UUID")
	}

	if e.Name == "" {
		return fmt.Errorf("experiment name cannot be empty")
	}

	if err := e.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	if e.RolloutPercent < 0 || e.RolloutPercent > 100 {
		return fmt.Errorf("rollout percent must be in [0,100], got %v", e.RolloutPercent)
	}

	if len(e.Variants) < 2 {
		return fmt.Errorf("experiment requires at least 2 variants, got %d", len(e.Variants))
	}

	controls := 0
	for i, v := range e.Variants {
		if !isValidUUID(v.ID) {
			return fmt.Errorf("invalid variant at index %d: not a valid UUID", i)
		}
		if v.TrafficShare <= 0 || v.TrafficShare > 1 {
			return fmt.Errorf("variant %q: traffic share must be in (0,1], got %v", v.Name, v.TrafficShare)
		}
		if v.IsControl {
			controls++
		}
	}
	if controls != 1 {
		return fmt.Errorf("experiment requires exactly one control variant, got %d", controls)
	}

	return nil
}

// AdjustmentEntry records one applied change to the economy's stability
// multipliers, with before/after values and a human-readable reason naming
// the indicators that triggered the change. The journal keeps the last 100
// entries; older entries are evicted on append.
type AdjustmentEntry struct {
	FaucetBefore float64  `json:"faucet_before"`
	FaucetAfter  float64  `json:"faucet_after"`
	SinkBefore   float64  `json:"sink_before"`
	SinkAfter    float64  `json:"sink_after"`
	Reason       string   `json:"reason"`
	Triggered    []string `json:"triggered"` // Indicator names that were out of tolerance
	AppliedAtMs  int64    `json:"applied_at_ms"`
}

// Validate checks if the AdjustmentEntry has valid field values.
// Multipliers are clamped to [0.5, 2.0] by the controller before recording.
func (a *AdjustmentEntry) Validate() error {
	for _, m := range []float64{a.FaucetBefore, a.FaucetAfter, a.SinkBefore, a.SinkAfter} {
		if m < 0.5 || m > 2.0 {
			return fmt.Errorf("multiplier out of bounds [0.5,2.0]: %v", m)
		}
	}
	if a.Reason == "" {
		return fmt.Errorf("adjustment reason cannot be empty")
	}
	return nil
}

// AuditEntry records one privacy-budget spend. Only hashed pseudonyms are
// ever stored; the journal never sees raw user identifiers.
type AuditEntry struct {
	Metric       string  `json:"metric"`    // Metric name the spend served
	Mechanism    string  `json:"mechanism"` // "gaussian", "laplacian" or "exponential"
	EpsilonSpent float64 `json:"epsilon_spent"`
	CallerHash   string  `json:"caller_hash,omitempty"` // xxhash digest of the requesting pseudonym, if any
	CreatedAtMs  int64   `json:"created_at_ms"`
}

// Validate checks if the AuditEntry has valid field values.
func (a *AuditEntry) Validate() error {
	if a.Metric == "" {
		return fmt.Errorf("audit metric cannot be empty")
	}
	if a.EpsilonSpent <= 0 {
		return fmt.Errorf("epsilon spent must be positive, got %v", a.EpsilonSpent)
	}
	switch a.Mechanism {
	case "gaussian", "laplacian", "exponential":
	default:
		return fmt.Errorf("unknown mechanism: %q", a.Mechanism)
	}
	return nil
}

// IndicatorSnapshot is the persisted view of one economic indicator.
type IndicatorSnapshot struct {
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
	Target      float64 `json:"target"`
	Tolerance   float64 `json:"tolerance"`
	Trend       string  `json:"trend"` // rising, falling, stable, volatile
	Alert       string  `json:"alert"` // normal, warning, critical, emergency
	UpdatedAtMs int64   `json:"updated_at_ms"`
}

// Validate checks if the IndicatorSnapshot has valid field values.
func (s *IndicatorSnapshot) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("indicator name cannot be empty")
	}
	if s.Tolerance <= 0 {
		return fmt.Errorf("indicator %q: tolerance must be positive, got %v", s.Name, s.Tolerance)
	}
	return nil
}

// ControlEventKind classifies events published on the control events channel.
type ControlEventKind string

const (
	// EventRollback is published when an experiment is automatically rolled back.
	EventRollback ControlEventKind = "rollback"

	// EventSafetyViolation is published for each detected safety violation.
	EventSafetyViolation ControlEventKind = "safety_violation"

	// EventAdjustment is published when stability multipliers change.
	EventAdjustment ControlEventKind = "adjustment"

	// EventGraduation is published when an experiment's rollout grows.
	EventGraduation ControlEventKind = "graduation"
)

// Validate checks if the ControlEventKind is a valid enum value.
func (k ControlEventKind) Validate() error {
	switch k {
	case EventRollback, EventSafetyViolation, EventAdjustment, EventGraduation:
		return nil
	default:
		return fmt.Errorf("unknown control event kind: %q", k)
	}
}

// ControlEvent is a real-time notification published whenever the optimizer
// takes an automatic action. The CLI's watch command streams these.
type ControlEvent struct {
	Kind         ControlEventKind `json:"kind"`
	ExperimentID string           `json:"experiment_id,omitempty"` // Set for experiment-scoped events
	Detail       string           `json:"detail"`                  // Human-readable description
	CreatedAtMs  int64            `json:"created_at_ms"`
}

// Validate checks if the ControlEvent has valid field values.
func (e *ControlEvent) Validate() error {
	if err := e.Kind.Validate(); err != nil {
		return err
	}
	if e.Detail == "" {
		return fmt.Errorf("control event detail cannot be empty")
	}
	if e.ExperimentID != "" && !isValidUUID(e.ExperimentID) {
		return fmt.Errorf("invalid experiment ID: not a valid UUID")
	}
	return nil
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
