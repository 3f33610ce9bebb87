package economy

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Standard indicator names. The tracker always carries all four.
const (
	IndicatorInflationRate     = "inflation_rate"
	IndicatorCurrencyVelocity  = "currency_velocity"
	IndicatorSupplyRatio       = "supply_ratio"
	IndicatorTransactionVolume = "transaction_volume"
)

// IndicatorTarget configures one indicator's setpoint and tolerance band.
type IndicatorTarget struct {
	Target    float64
	Tolerance float64
}

// Summary is one observation period's aggregate economic feed: transaction
// totals and currency supply split by how the currency entered circulation.
type Summary struct {
	TransactionVolume float64
	EarnedSupply      float64
	PurchasedSupply   float64
	ActiveUsers       int64
}

// IndicatorState is a read-only snapshot of one indicator.
type IndicatorState struct {
	Name      string
	Value     float64
	Target    float64
	Tolerance float64
	Trend     Trend
	Alert     AlertLevel
}

// Tracker holds the standard economic indicators and derives their values
// from ingested summaries. Safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	indicators map[string]*Indicator

	// previous total supply, for period-over-period inflation
	prevSupply    float64
	hasPrevSupply bool
}

// NewTracker creates a tracker with one indicator per configured target.
// All four standard indicators must be configured.
func NewTracker(targets map[string]IndicatorTarget) (*Tracker, error) {
	required := []string{
		IndicatorInflationRate,
		IndicatorCurrencyVelocity,
		IndicatorSupplyRatio,
		IndicatorTransactionVolume,
	}

	indicators := make(map[string]*Indicator, len(required))
	for _, name := range required {
		target, ok := targets[name]
		if !ok {
			return nil, fmt.Errorf("missing target configuration for indicator %q", name)
		}
		ind, err := NewIndicator(name, target.Target, target.Tolerance)
		if err != nil {
			return nil, err
		}
		indicators[name] = ind
	}
	for name := range targets {
		if _, ok := indicators[name]; !ok {
			return nil, fmt.Errorf("unknown indicator %q in target configuration", name)
		}
	}

	return &Tracker{indicators: indicators}, nil
}

// Ingest derives the standard indicators from one period's summary and
// updates each indicator's history.
//
//   - inflation_rate: percent growth of total supply since the last period
//   - currency_velocity: transaction volume over total supply
//   - supply_ratio: earned supply over purchased supply
//   - transaction_volume: taken directly from the summary
func (t *Tracker) Ingest(s Summary, now time.Time) error {
	if s.TransactionVolume < 0 || s.EarnedSupply < 0 || s.PurchasedSupply < 0 {
		return fmt.Errorf("summary values must be non-negative: %+v", s)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	totalSupply := s.EarnedSupply + s.PurchasedSupply

	if t.hasPrevSupply && t.prevSupply > 0 {
		inflation := (totalSupply - t.prevSupply) / t.prevSupply * 100
		t.indicators[IndicatorInflationRate].UpdateValue(inflation, now)
	}
	t.prevSupply = totalSupply
	t.hasPrevSupply = true

	if totalSupply > 0 {
		t.indicators[IndicatorCurrencyVelocity].UpdateValue(s.TransactionVolume/totalSupply, now)
	}
	if s.PurchasedSupply > 0 {
		t.indicators[IndicatorSupplyRatio].UpdateValue(s.EarnedSupply/s.PurchasedSupply, now)
	}
	t.indicators[IndicatorTransactionVolume].UpdateValue(s.TransactionVolume, now)

	return nil
}

// Observe sets one indicator's value directly, bypassing derivation. Used
// when the caller already computed the indicator upstream.
func (t *Tracker) Observe(name string, value float64, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ind, ok := t.indicators[name]
	if !ok {
		return fmt.Errorf("unknown indicator %q", name)
	}
	ind.UpdateValue(value, now)
	return nil
}

// State returns a snapshot of one indicator.
func (t *Tracker) State(name string) (IndicatorState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ind, ok := t.indicators[name]
	if !ok {
		return IndicatorState{}, fmt.Errorf("unknown indicator %q", name)
	}
	return snapshotIndicator(ind), nil
}

// States returns snapshots of every indicator, sorted by name.
func (t *Tracker) States() []IndicatorState {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]IndicatorState, 0, len(t.indicators))
	for _, ind := range t.indicators {
		out = append(out, snapshotIndicator(ind))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// WorstAlert returns the most severe alert across all indicators.
func (t *Tracker) WorstAlert() AlertLevel {
	t.mu.Lock()
	defer t.mu.Unlock()

	worst := AlertNormal
	for _, ind := range t.indicators {
		if alertSeverity(ind.Alert()) > alertSeverity(worst) {
			worst = ind.Alert()
		}
	}
	return worst
}

func snapshotIndicator(ind *Indicator) IndicatorState {
	return IndicatorState{
		Name:      ind.Name,
		Value:     ind.Current(),
		Target:    ind.Target,
		Tolerance: ind.Tolerance,
		Trend:     ind.Trend(),
		Alert:     ind.Alert(),
	}
}

func alertSeverity(level AlertLevel) int {
	switch level {
	case AlertWarning:
		return 1
	case AlertCritical:
		return 2
	case AlertEmergency:
		return 3
	default:
		return 0
	}
}
