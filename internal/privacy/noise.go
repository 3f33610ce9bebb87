package privacy

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// DefaultNoiseMultiplier calibrates Gaussian noise for the expected data
// scale of aggregate growth counters.
const DefaultNoiseMultiplier = 1.1

// Mechanism identifies which noise mechanism produced a sample.
type Mechanism string

const (
	MechanismGaussian    Mechanism = "gaussian"
	MechanismLaplacian   Mechanism = "laplacian"
	MechanismExponential Mechanism = "exponential"
)

// NoisySample is the immutable result of one noise application.
type NoisySample struct {
	Raw          float64   // Input value before perturbation
	Value        float64   // Perturbed value
	EpsilonSpent float64   // Budget consumed by this call
	Mechanism    Mechanism // Mechanism that produced the sample
	Sensitivity  float64   // Query sensitivity the noise was calibrated for
}

// Engine produces calibrated random perturbations under the budget ledger.
// Safe for concurrent use; the ledger guards budget state and the engine's
// own mutex guards the random source.
type Engine struct {
	ledger          *BudgetLedger
	noiseMultiplier float64

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithNoiseMultiplier overrides the Gaussian noise multiplier.
func WithNoiseMultiplier(m float64) Option {
	return func(e *Engine) { e.noiseMultiplier = m }
}

// WithSource seeds the engine with a deterministic random source.
// Intended for tests.
func WithSource(src rand.Source) Option {
	return func(e *Engine) { e.rng = rand.New(src) }
}

// NewEngine creates a noise engine spending against the given ledger.
func NewEngine(ledger *BudgetLedger, opts ...Option) (*Engine, error) {
	if ledger == nil {
		return nil, fmt.Errorf("budget ledger is required")
	}

	e := &Engine{
		ledger:          ledger,
		noiseMultiplier: DefaultNoiseMultiplier,
		rng:             rand.New(rand.NewSource(rand.Int63())),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.noiseMultiplier <= 0 {
		return nil, fmt.Errorf("noise multiplier must be positive, got %v", e.noiseMultiplier)
	}

	return e, nil
}

// Ledger returns the engine's budget ledger.
func (e *Engine) Ledger() *BudgetLedger {
	return e.ledger
}

// AddGaussianNoise perturbs value with Gaussian noise of standard deviation
// sigma = sensitivity * noiseMultiplier / epsilon.
//
// The epsilon spend is atomic: on ErrBudgetExceeded no budget is consumed
// and no sample is produced.
func (e *Engine) AddGaussianNoise(value, epsilon, delta, sensitivity float64) (NoisySample, error) {
	if err := validateParams(epsilon, sensitivity); err != nil {
		return NoisySample{}, err
	}
	if delta <= 0 || delta >= 1 {
		return NoisySample{}, fmt.Errorf("delta must be in (0,1), got %v", delta)
	}

	if err := e.ledger.Spend(epsilon); err != nil {
		return NoisySample{}, err
	}

	sigma := sensitivity * e.noiseMultiplier / epsilon

	e.mu.Lock()
	noise := e.rng.NormFloat64() * sigma
	e.mu.Unlock()

	return NoisySample{
		Raw:          value,
		Value:        value + noise,
		EpsilonSpent: epsilon,
		Mechanism:    MechanismGaussian,
		Sensitivity:  sensitivity,
	}, nil
}

// AddLaplacianNoise perturbs value with Laplacian noise of scale
// b = sensitivity / epsilon, sampled via the inverse-CDF transform of a
// uniform variate on (-0.5, 0.5).
func (e *Engine) AddLaplacianNoise(value, epsilon, sensitivity float64) (NoisySample, error) {
	if err := validateParams(epsilon, sensitivity); err != nil {
		return NoisySample{}, err
	}

	if err := e.ledger.Spend(epsilon); err != nil {
		return NoisySample{}, err
	}

	b := sensitivity / epsilon

	// Float64 can return exactly 0, which would put u at the closed end
	// -0.5 and make the log below -Inf; resample to keep u on (-0.5, 0.5).
	e.mu.Lock()
	f := e.rng.Float64()
	for f == 0 {
		f = e.rng.Float64()
	}
	e.mu.Unlock()
	u := f - 0.5

	// Inverse CDF: noise = -b * sgn(u) * ln(1 - 2|u|)
	noise := -b * sign(u) * math.Log(1-2*math.Abs(u))

	return NoisySample{
		Raw:          value,
		Value:        value + noise,
		EpsilonSpent: epsilon,
		Mechanism:    MechanismLaplacian,
		Sensitivity:  sensitivity,
	}, nil
}

// ExponentialMechanism selects one candidate with probability proportional
// to exp(epsilon * utility / (2 * sensitivity)).
//
// Selection walks the normalized weights in a single cumulative-sum pass and
// returns the first candidate whose cumulative probability reaches the
// sampled threshold. The last candidate is the explicit fallback for the
// u ~= 1.0 rounding edge, so selection can never fall through.
func (e *Engine) ExponentialMechanism(candidates []string, utility func(string) float64, epsilon, sensitivity float64) (string, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("no candidates provided")
	}
	if utility == nil {
		return "", fmt.Errorf("utility function is required")
	}
	if err := validateParams(epsilon, sensitivity); err != nil {
		return "", err
	}

	if err := e.ledger.Spend(epsilon); err != nil {
		return "", err
	}

	// Subtract the max utility before exponentiating to avoid overflow;
	// the normalized distribution is unchanged.
	maxUtility := math.Inf(-1)
	utilities := make([]float64, len(candidates))
	for i, c := range candidates {
		utilities[i] = utility(c)
		if utilities[i] > maxUtility {
			maxUtility = utilities[i]
		}
	}

	weights := make([]float64, len(candidates))
	var totalWeight float64
	for i, u := range utilities {
		weights[i] = math.Exp(epsilon * (u - maxUtility) / (2 * sensitivity))
		totalWeight += weights[i]
	}

	e.mu.Lock()
	threshold := e.rng.Float64()
	e.mu.Unlock()

	var cumulative float64
	for i, w := range weights {
		cumulative += w / totalWeight
		if cumulative >= threshold {
			return candidates[i], nil
		}
	}

	return candidates[len(candidates)-1], nil
}

func validateParams(epsilon, sensitivity float64) error {
	if epsilon <= 0 || math.IsNaN(epsilon) || math.IsInf(epsilon, 0) {
		return ErrInvalidEpsilon
	}
	if sensitivity <= 0 || math.IsNaN(sensitivity) || math.IsInf(sensitivity, 0) {
		return ErrInvalidSensitivity
	}
	return nil
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}
