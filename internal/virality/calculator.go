package virality

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/loopworks/flywheel/internal/privacy"
)

const (
	// DefaultRetention caps how long metric history is kept. Older records
	// are pruned whenever a new record is appended.
	DefaultRetention = 30 * 24 * time.Hour

	// counting queries have unit sensitivity: one user changes a count by one
	countSensitivity = 1.0

	zScore95 = 1.96
)

// K-factor is clamped to [0,3]; rates and retention to [0,1].
const (
	kFactorMax = 3.0
	rateMax    = 1.0
)

// Calculator derives viral-growth metrics from noisy aggregate counts.
// Safe for concurrent use. All methods are pure with respect to their inputs
// aside from privacy-budget consumption and history recording; no method
// ever sees or branches on user identifiers.
type Calculator struct {
	engine    *privacy.Engine
	retention time.Duration
	now       func() time.Time

	mu      sync.Mutex
	history map[string][]MetricRecord
}

// NewCalculator creates a calculator spending against the given noise engine.
func NewCalculator(engine *privacy.Engine) (*Calculator, error) {
	if engine == nil {
		return nil, fmt.Errorf("noise engine is required")
	}
	return &Calculator{
		engine:    engine,
		retention: DefaultRetention,
		now:       time.Now,
		history:   make(map[string][]MetricRecord),
	}, nil
}

// KFactor computes the viral coefficient: noisy(signups) / noisy(invites),
// clamped to [0,3]. Spends two epsilon slices (one per noised counter).
func (c *Calculator) KFactor(signups, invites int64, window time.Duration, level PrivacyLevel) (MetricRecord, error) {
	epsilon, err := level.Epsilon()
	if err != nil {
		return MetricRecord{}, err
	}

	noisySignups, noisyInvites, err := c.noisyPair(signups, invites, epsilon)
	if err != nil {
		return MetricRecord{}, fmt.Errorf("k-factor: %w", err)
	}

	value := clamp(safeRatio(noisySignups, noisyInvites), 0, kFactorMax)
	record := c.record("k_factor", value, ratioInterval(value, noisyInvites, epsilon, 0, kFactorMax), level, window)
	return record, nil
}

// ShareRate computes noisy(shares) / noisy(achievements), clamped to [0,1].
func (c *Calculator) ShareRate(shares, achievements int64, window time.Duration, level PrivacyLevel) (MetricRecord, error) {
	epsilon, err := level.Epsilon()
	if err != nil {
		return MetricRecord{}, err
	}

	noisyShares, noisyAchievements, err := c.noisyPair(shares, achievements, epsilon)
	if err != nil {
		return MetricRecord{}, fmt.Errorf("share rate: %w", err)
	}

	value := clamp(safeRatio(noisyShares, noisyAchievements), 0, rateMax)
	record := c.record("share_rate", value, ratioInterval(value, noisyAchievements, epsilon, 0, rateMax), level, window)
	return record, nil
}

// ShareRatePerUser is the per-user variant of ShareRate: noisy shares per
// noisy active user. Unlike the per-achievement rate it is not capped at 1,
// since an active user may share more than once.
func (c *Calculator) ShareRatePerUser(shares, activeUsers int64, window time.Duration, level PrivacyLevel) (MetricRecord, error) {
	epsilon, err := level.Epsilon()
	if err != nil {
		return MetricRecord{}, err
	}

	noisyShares, noisyUsers, err := c.noisyPair(shares, activeUsers, epsilon)
	if err != nil {
		return MetricRecord{}, fmt.Errorf("share rate per user: %w", err)
	}

	value := math.Max(0, safeRatio(noisyShares, noisyUsers))
	record := c.record("share_rate_per_user", value, ratioInterval(value, noisyUsers, epsilon, 0, math.Inf(1)), level, window)
	return record, nil
}

// ConversionFunnel noises each stage count independently and reports the
// conversion rate between every pair of consecutive stages, each clamped
// to [0,1].
func (c *Calculator) ConversionFunnel(stages []FunnelStage, window time.Duration, level PrivacyLevel) ([]StageConversion, error) {
	if len(stages) < 2 {
		return nil, fmt.Errorf("conversion funnel requires at least 2 stages, got %d", len(stages))
	}

	epsilon, err := level.Epsilon()
	if err != nil {
		return nil, err
	}

	noisy := make([]float64, len(stages))
	for i, stage := range stages {
		sample, err := c.engine.AddLaplacianNoise(float64(stage.Count), epsilon, countSensitivity)
		if err != nil {
			return nil, fmt.Errorf("conversion funnel stage %q: %w", stage.Name, err)
		}
		noisy[i] = sample.Value
	}

	conversions := make([]StageConversion, 0, len(stages)-1)
	for i := 1; i < len(stages); i++ {
		value := clamp(safeRatio(noisy[i], noisy[i-1]), 0, rateMax)
		name := fmt.Sprintf("funnel_%s_to_%s", stages[i-1].Name, stages[i].Name)
		record := c.record(name, value, ratioInterval(value, noisy[i-1], epsilon, 0, rateMax), level, window)
		conversions = append(conversions, StageConversion{
			From:   stages[i-1].Name,
			To:     stages[i].Name,
			Record: record,
		})
	}

	return conversions, nil
}

// CohortRetention noises each week's active-user count independently and
// reports retention at week n as noisy(week n) / noisy(week 0), clamped
// to [0,1]. weeklyActive[0] is the cohort's first week.
func (c *Calculator) CohortRetention(weeklyActive []int64, level PrivacyLevel) ([]RetentionPoint, error) {
	if len(weeklyActive) == 0 {
		return nil, fmt.Errorf("cohort retention requires at least one week of data")
	}

	epsilon, err := level.Epsilon()
	if err != nil {
		return nil, err
	}

	noisy := make([]float64, len(weeklyActive))
	for i, count := range weeklyActive {
		sample, err := c.engine.AddLaplacianNoise(float64(count), epsilon, countSensitivity)
		if err != nil {
			return nil, fmt.Errorf("cohort retention week %d: %w", i, err)
		}
		noisy[i] = sample.Value
	}

	window := time.Duration(len(weeklyActive)) * 7 * 24 * time.Hour
	points := make([]RetentionPoint, 0, len(weeklyActive)-1)
	for week := 1; week < len(noisy); week++ {
		value := clamp(safeRatio(noisy[week], noisy[0]), 0, rateMax)
		name := fmt.Sprintf("retention_week_%d", week)
		record := c.record(name, value, ratioInterval(value, noisy[0], epsilon, 0, rateMax), level, window)
		points = append(points, RetentionPoint{Week: week, Record: record})
	}

	return points, nil
}

// History returns a copy of the retained records for a metric name, oldest
// first. Returns an empty slice for unknown names.
func (c *Calculator) History(name string) []MetricRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := c.history[name]
	out := make([]MetricRecord, len(records))
	copy(out, records)
	return out
}

// noisyPair noises two counters with independent Laplacian draws.
func (c *Calculator) noisyPair(a, b int64, epsilon float64) (float64, float64, error) {
	if a < 0 || b < 0 {
		return 0, 0, fmt.Errorf("counts must be non-negative, got %d and %d", a, b)
	}

	sampleA, err := c.engine.AddLaplacianNoise(float64(a), epsilon, countSensitivity)
	if err != nil {
		return 0, 0, err
	}
	sampleB, err := c.engine.AddLaplacianNoise(float64(b), epsilon, countSensitivity)
	if err != nil {
		return 0, 0, err
	}
	return sampleA.Value, sampleB.Value, nil
}

// record appends a metric record to history and prunes entries older than
// the retention window.
func (c *Calculator) record(name string, value float64, ci ConfidenceInterval, level PrivacyLevel, window time.Duration) MetricRecord {
	now := c.now()
	rec := MetricRecord{
		Name:         name,
		Value:        value,
		Confidence:   ci,
		PrivacyLevel: level,
		Window:       window,
		ComputedAt:   now,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-c.retention)
	kept := c.history[name][:0]
	for _, old := range c.history[name] {
		if old.ComputedAt.After(cutoff) {
			kept = append(kept, old)
		}
	}
	c.history[name] = append(kept, rec)

	return rec
}

// ratioInterval derives a 95% confidence interval for a noisy ratio.
// Each Laplacian draw has standard deviation sqrt(2)/epsilon, so the ratio's
// uncertainty scales with (1/epsilon) over the denominator magnitude.
func ratioInterval(value, denominator, epsilon, lo, hi float64) ConfidenceInterval {
	noiseStd := math.Sqrt2 / epsilon
	denom := math.Max(math.Abs(denominator), 1)
	halfWidth := zScore95 * noiseStd * (1 + math.Abs(value)) / denom

	return ConfidenceInterval{
		Lower: clamp(value-halfWidth, lo, hi),
		Upper: clamp(value+halfWidth, lo, hi),
	}
}

// safeRatio divides guarding against non-positive denominators, which can
// occur when noise pushes a small count below zero.
func safeRatio(numerator, denominator float64) float64 {
	if denominator <= 0 {
		return 0
	}
	return numerator / denominator
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
