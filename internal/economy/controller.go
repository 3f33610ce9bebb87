package economy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loopworks/flywheel/pkg/journal"
)

const (
	// MultiplierMin and MultiplierMax bound the stability multipliers.
	MultiplierMin = 0.5
	MultiplierMax = 2.0

	// maxStepPerCycle bounds a single cycle's multiplicative nudge to 10%,
	// doubled when an indicator reaches emergency.
	maxStepPerCycle = 0.10

	// stepGain converts deviation (in tolerance units) into a step size.
	stepGain = 0.05

	// adjustmentLogCap bounds the in-memory adjustment history. Oldest
	// entries are evicted on append, never silently dropped mid-stream.
	adjustmentLogCap = 100
)

// Multipliers is the pair of stability multipliers applied to currency
// issuance (faucet) and currency consumption (sink).
type Multipliers struct {
	Faucet float64
	Sink   float64
}

// Proposal is one computed adjustment: multiplicative factors for each
// multiplier plus the indicators that triggered them. A proposal with no
// triggers has both factors at exactly 1.0.
type Proposal struct {
	FaucetFactor float64
	SinkFactor   float64
	Triggered    []string
	details      []string
}

// Neutral reports whether applying the proposal would change nothing.
func (p Proposal) Neutral() bool {
	return len(p.Triggered) == 0
}

// Controller drives the stability multipliers toward economic targets with
// bounded multiplicative steps. It is a discrete-time feedback controller:
// when every indicator is within tolerance the computed adjustment is
// exactly neutral. Safe for concurrent use; the multipliers are only ever
// mutated under the controller's lock.
type Controller struct {
	tracker *Tracker

	mu     sync.Mutex
	faucet float64
	sink   float64
	log    []journal.AdjustmentEntry
}

// NewController creates a controller over the given tracker with both
// multipliers at 1.0.
func NewController(tracker *Tracker) (*Controller, error) {
	if tracker == nil {
		return nil, fmt.Errorf("indicator tracker is required")
	}
	return &Controller{
		tracker: tracker,
		faucet:  1.0,
		sink:    1.0,
	}, nil
}

// Multipliers returns the current multiplier pair.
func (c *Controller) Multipliers() Multipliers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Multipliers{Faucet: c.faucet, Sink: c.sink}
}

// SetMultipliers restores a previously persisted multiplier pair, clamping
// into bounds. Used on startup to resume from journal state.
func (c *Controller) SetMultipliers(m Multipliers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faucet = clampMultiplier(m.Faucet)
	c.sink = clampMultiplier(m.Sink)
}

// AdjustmentLog returns a copy of the recorded adjustments, oldest first.
func (c *Controller) AdjustmentLog() []journal.AdjustmentEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]journal.AdjustmentEntry, len(c.log))
	copy(out, c.log)
	return out
}

// CalculateOptimalAdjustments computes one cycle's corrective nudge from the
// tracker's current indicator states. Only indicators outside their tolerance
// band contribute; each contributes a step proportional to its deviation,
// capped at 10% per cycle (20% under emergency), in the corrective direction:
//
//   - inflation above target: reduce faucet, raise sink (and the reverse)
//   - currency velocity below target: reduce sink friction
//   - supply ratio off target: shift the earn-vs-purchase balance via faucet
//   - transaction volume below target: reduce sink to stimulate spending
func (c *Controller) CalculateOptimalAdjustments() Proposal {
	proposal := Proposal{FaucetFactor: 1.0, SinkFactor: 1.0}

	states := c.tracker.States()
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })

	for _, st := range states {
		if st.Alert == AlertNormal {
			continue
		}

		deviation := (st.Value - st.Target) / st.Tolerance
		step := stepSize(deviation, st.Alert)
		if step == 0 {
			continue
		}

		triggered := false
		switch st.Name {
		case IndicatorInflationRate:
			if st.Value > st.Target {
				proposal.FaucetFactor *= 1 - step
				proposal.SinkFactor *= 1 + step
			} else {
				proposal.FaucetFactor *= 1 + step
				proposal.SinkFactor *= 1 - step
			}
			triggered = true

		case IndicatorCurrencyVelocity:
			if st.Value < st.Target {
				proposal.SinkFactor *= 1 - step
			} else {
				proposal.SinkFactor *= 1 + step
			}
			triggered = true

		case IndicatorSupplyRatio:
			if st.Value > st.Target {
				proposal.FaucetFactor *= 1 - step
			} else {
				proposal.FaucetFactor *= 1 + step
			}
			triggered = true

		case IndicatorTransactionVolume:
			// High volume is healthy; only stimulate when volume is low.
			if st.Value < st.Target {
				proposal.SinkFactor *= 1 - step
				triggered = true
			}
		}

		if triggered {
			proposal.Triggered = append(proposal.Triggered, st.Name)
			proposal.details = append(proposal.details, fmt.Sprintf(
				"%s %s (%.3g vs target %.3g)", st.Name, st.Alert, st.Value, st.Target))
		}
	}

	return proposal
}

// ApplyAdjustments applies a proposal to the multipliers, clamping into
// [0.5, 2.0], and records an adjustment entry naming the triggering
// indicators. A neutral proposal changes nothing and records nothing.
func (c *Controller) ApplyAdjustments(p Proposal, now time.Time) (journal.AdjustmentEntry, bool) {
	if p.Neutral() {
		return journal.AdjustmentEntry{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := journal.AdjustmentEntry{
		FaucetBefore: c.faucet,
		SinkBefore:   c.sink,
		Triggered:    append([]string(nil), p.Triggered...),
		Reason:       "adjusted for: " + strings.Join(p.details, "; "),
		AppliedAtMs:  now.UnixMilli(),
	}

	c.faucet = clampMultiplier(c.faucet * p.FaucetFactor)
	c.sink = clampMultiplier(c.sink * p.SinkFactor)

	entry.FaucetAfter = c.faucet
	entry.SinkAfter = c.sink

	c.log = append(c.log, entry)
	if len(c.log) > adjustmentLogCap {
		c.log = c.log[len(c.log)-adjustmentLogCap:]
	}

	return entry, true
}

// stepSize converts a deviation (in tolerance units) into a bounded
// multiplicative step. Emergency doubles both the gain and the cap.
func stepSize(deviation float64, alert AlertLevel) float64 {
	if deviation < 0 {
		deviation = -deviation
	}
	step := deviation * stepGain
	limit := maxStepPerCycle
	if alert == AlertEmergency {
		step *= 2
		limit *= 2
	}
	if step > limit {
		step = limit
	}
	return step
}

func clampMultiplier(v float64) float64 {
	if v < MultiplierMin {
		return MultiplierMin
	}
	if v > MultiplierMax {
		return MultiplierMax
	}
	return v
}
