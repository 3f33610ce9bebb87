package experiment

import (
	"fmt"
	"math"
	"time"

	"github.com/loopworks/flywheel/pkg/journal"
)

// ViolationKind names a category of safety violation.
type ViolationKind string

const (
	// TrustScoreDrop fires when a variant's rolling trust average falls
	// below the configured floor.
	TrustScoreDrop ViolationKind = "TrustScoreDrop"

	// EducationImbalance fires when too small a share of a variant's
	// sharing events involves educational content.
	EducationImbalance ViolationKind = "EducationImbalance"

	// PrivacyViolation fires on any recorded privacy violation.
	PrivacyViolation ViolationKind = "PrivacyViolation"
)

// Severity classifies how a violation is handled. Critical violations
// trigger immediate rollback.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Violation is one detected safety problem on one variant.
type Violation struct {
	Kind        ViolationKind
	Severity    Severity
	VariantID   string
	VariantName string
	Detail      string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s on variant %q (%s): %s", v.Kind, v.VariantName, v.Severity, v.Detail)
}

// CheckSafetyViolations evaluates every variant against the experiment's
// thresholds. A check only fires once it has enough samples to be
// meaningful; an empty result means no detectable problem, not proof of
// safety.
func (e *Experiment) CheckSafetyViolations() []Violation {
	var violations []Violation

	for _, v := range e.variants {
		if avg, n := v.TrustAverage(); n >= e.Thresholds.MinTrustSamples && avg < e.Thresholds.TrustScoreFloor {
			violations = append(violations, Violation{
				Kind:        TrustScoreDrop,
				Severity:    SeverityCritical,
				VariantID:   v.ID,
				VariantName: v.Name,
				Detail: fmt.Sprintf("rolling trust average %.1f below floor %.1f over %d samples",
					avg, e.Thresholds.TrustScoreFloor, n),
			})
		}

		if ratio, shares := v.EducationalShareRatio(); shares >= e.Thresholds.MinEducationShares && ratio < e.Thresholds.EducationShareTarget {
			violations = append(violations, Violation{
				Kind:        EducationImbalance,
				Severity:    SeverityWarning,
				VariantID:   v.ID,
				VariantName: v.Name,
				Detail: fmt.Sprintf("educational share ratio %.2f below target %.2f over %d shares",
					ratio, e.Thresholds.EducationShareTarget, shares),
			})
		}

		if count := v.PrivacyViolations(); count > 0 {
			violations = append(violations, Violation{
				Kind:        PrivacyViolation,
				Severity:    SeverityCritical,
				VariantID:   v.ID,
				VariantName: v.Name,
				Detail:      fmt.Sprintf("%d privacy violations recorded", count),
			})
		}
	}

	return violations
}

// ShouldRollback reports whether the detected violations require immediate
// rollback, and if so which violation drove the decision.
func ShouldRollback(violations []Violation) (Violation, bool) {
	for _, v := range violations {
		if v.Severity == SeverityCritical {
			return v, true
		}
	}
	return Violation{}, false
}

// CanGraduate reports whether the experiment qualifies for a traffic
// increase: at least 24 hours of runtime, at least 100 participants in
// every variant, no detectable safety violations, and headroom below the
// rollout ceiling.
func (e *Experiment) CanGraduate(now time.Time) bool {
	if e.Status() != journal.StatusActive {
		return false
	}
	if e.Runtime(now) < graduationMinRuntime {
		return false
	}
	for _, v := range e.variants {
		if v.Participants() < graduationMinParticipants {
			return false
		}
	}
	if len(e.CheckSafetyViolations()) > 0 {
		return false
	}
	return e.RolloutPercent() < e.Thresholds.MaxRolloutPercent
}

// Graduate grows the rollout percentage by 50%, capped at the configured
// ceiling. Returns the new rollout percentage.
func (e *Experiment) Graduate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rolloutPercent = math.Min(e.rolloutPercent*graduationGrowthFactor, e.Thresholds.MaxRolloutPercent)
	return e.rolloutPercent
}
