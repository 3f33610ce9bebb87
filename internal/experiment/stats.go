package experiment

import (
	"fmt"
	"math"
)

const (
	// significanceMinSamples is the per-variant floor below which no
	// significance claim is made.
	significanceMinSamples = 30

	// zCritical95 is the two-sided critical z value at 95% confidence.
	zCritical95 = 1.96
)

// SignificanceResult reports a two-variant comparison of conversion rates.
// When either variant has too few participants, Significant is false and
// InsufficientSamples is set rather than claiming a false result.
type SignificanceResult struct {
	ControlRate         float64
	TreatmentRate       float64
	Lift                float64 // relative change of treatment over control
	ZScore              float64
	Significant         bool
	InsufficientSamples bool
}

// CompareConversion runs a pooled two-proportion z-test of a treatment
// variant's conversion rate against the control.
func (e *Experiment) CompareConversion(treatmentID string) (SignificanceResult, error) {
	treatment, err := e.variantByID(treatmentID)
	if err != nil {
		return SignificanceResult{}, err
	}
	if treatment.IsControl {
		return SignificanceResult{}, fmt.Errorf("variant %q is the control", treatment.Name)
	}
	control := e.Control()

	return compareProportions(
		control.Conversions(), control.Participants(),
		treatment.Conversions(), treatment.Participants(),
	), nil
}

// compareProportions is the pooled z-test on two binomial proportions.
func compareProportions(controlHits, controlN, treatmentHits, treatmentN int64) SignificanceResult {
	result := SignificanceResult{}
	if controlN > 0 {
		result.ControlRate = float64(controlHits) / float64(controlN)
	}
	if treatmentN > 0 {
		result.TreatmentRate = float64(treatmentHits) / float64(treatmentN)
	}
	if result.ControlRate > 0 {
		result.Lift = (result.TreatmentRate - result.ControlRate) / result.ControlRate
	}

	if controlN < significanceMinSamples || treatmentN < significanceMinSamples {
		result.InsufficientSamples = true
		return result
	}

	pooled := float64(controlHits+treatmentHits) / float64(controlN+treatmentN)
	variance := pooled * (1 - pooled) * (1/float64(controlN) + 1/float64(treatmentN))
	if variance > 0 {
		result.ZScore = (result.TreatmentRate - result.ControlRate) / math.Sqrt(variance)
	}
	result.Significant = math.Abs(result.ZScore) > zCritical95

	return result
}
