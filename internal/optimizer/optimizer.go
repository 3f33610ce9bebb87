// Package optimizer orchestrates the viral-growth control plane: it owns the
// set of experiments, the economic stability controller and the privacy
// ledger, routes ingested events to variant counters and aggregate metric
// buckets, and runs the periodic safety/graduation and adjustment cycles.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/loopworks/flywheel/internal/economy"
	"github.com/loopworks/flywheel/internal/experiment"
	"github.com/loopworks/flywheel/internal/privacy"
	"github.com/loopworks/flywheel/internal/virality"
	"github.com/loopworks/flywheel/pkg/journal"
)

// Growth event types accepted by RecordEvent.
const (
	EventSignup           = "signup"
	EventInvite           = "invite"
	EventConversion       = "conversion"
	EventShare            = "share"
	EventAchievement      = "achievement"
	EventTrustScore       = "trust_score"
	EventPrivacyViolation = "privacy_violation"
)

// Metric names served by ComputeMetric.
const (
	MetricKFactor          = "k_factor"
	MetricShareRate        = "share_rate"
	MetricShareRatePerUser = "share_rate_per_user"
)

const (
	// DefaultMinSafetyInterval gates how often safety cycles may run.
	DefaultMinSafetyInterval = time.Hour
)

// Options wires an Optimizer's collaborators. All fields except Logger and
// intervals are required.
type Options struct {
	Logger     *slog.Logger
	Journal    *journal.Client
	Calculator *virality.Calculator
	Ledger     *privacy.BudgetLedger
	Tracker    *economy.Tracker
	Controller *economy.Controller
	Telemetry  *Telemetry

	// MinSafetyInterval gates RunSafetyCycle; zero means the default hour.
	MinSafetyInterval time.Duration

	// DefaultThresholds seeds the safety thresholds of every experiment
	// that does not set its own. Zero fields fall back to the experiment
	// package defaults.
	DefaultThresholds experiment.SafetyThresholds
}

// Optimizer is the orchestrator. It is the single owner of the experiment
// set and the stability controller; all cross-component communication is by
// value (snapshots), never by shared mutable reference.
type Optimizer struct {
	logger     *slog.Logger
	journal    *journal.Client
	calculator *virality.Calculator
	ledger     *privacy.BudgetLedger
	tracker    *economy.Tracker
	controller *economy.Controller
	telemetry  *Telemetry

	minSafetyInterval time.Duration
	defaultThresholds experiment.SafetyThresholds
	now               func() time.Time

	// aggregate metric buckets, updated lock-free by ingestion
	signups      atomic.Int64
	invites      atomic.Int64
	shares       atomic.Int64
	achievements atomic.Int64
	activeUsers  atomic.Int64

	mu          sync.Mutex
	experiments map[string]*experiment.Experiment
	lastSafety  time.Time

	safetyInFlight atomic.Bool
}

// New creates an optimizer.
func New(opts Options) (*Optimizer, error) {
	if opts.Journal == nil {
		return nil, fmt.Errorf("journal client is required")
	}
	if opts.Calculator == nil {
		return nil, fmt.Errorf("metrics calculator is required")
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("privacy ledger is required")
	}
	if opts.Tracker == nil || opts.Controller == nil {
		return nil, fmt.Errorf("economy tracker and controller are required")
	}
	if opts.Telemetry == nil {
		opts.Telemetry = NewTelemetry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MinSafetyInterval == 0 {
		opts.MinSafetyInterval = DefaultMinSafetyInterval
	}

	return &Optimizer{
		logger:            opts.Logger.With("component", "optimizer"),
		journal:           opts.Journal,
		calculator:        opts.Calculator,
		ledger:            opts.Ledger,
		tracker:           opts.Tracker,
		controller:        opts.Controller,
		telemetry:         opts.Telemetry,
		minSafetyInterval: opts.MinSafetyInterval,
		defaultThresholds: opts.DefaultThresholds,
		now:               time.Now,
		experiments:       make(map[string]*experiment.Experiment),
	}, nil
}

// RecordEvent ingests one growth event. The event type routes it to the
// aggregate metric buckets and, when a pseudonym is present, to the assigned
// variant of every active experiment. Unknown event types are counted and
// logged, never fatal; ingestion callers pass already-validated data.
func (o *Optimizer) RecordEvent(eventType string, metadata map[string]string, pseudonym string) error {
	o.telemetry.EventsIngested.WithLabelValues(eventType).Inc()

	switch eventType {
	case EventSignup:
		o.signups.Add(1)
	case EventInvite:
		o.invites.Add(1)
	case EventShare:
		o.shares.Add(1)
	case EventAchievement:
		o.achievements.Add(1)
	case EventConversion, EventTrustScore, EventPrivacyViolation:
		// variant-scoped only
	default:
		o.logger.Warn("unknown event type ignored", "event_type", eventType)
		return nil
	}

	if pseudonym == "" {
		return nil
	}

	for _, exp := range o.activeExperiments() {
		assignment := exp.AssignVariant(pseudonym)
		if !assignment.InExperiment {
			continue
		}
		variant, err := o.variantOf(exp, assignment.VariantID)
		if err != nil {
			return err
		}

		switch eventType {
		case EventSignup:
			variant.RecordParticipant()
		case EventConversion:
			variant.RecordConversion()
		case EventShare:
			variant.RecordShare(metadata["educational"] == "true")
		case EventTrustScore:
			score, err := strconv.ParseFloat(metadata["score"], 64)
			if err != nil {
				return fmt.Errorf("trust_score event requires a numeric score: %w", err)
			}
			variant.RecordTrustScore(score)
		case EventPrivacyViolation:
			variant.RecordPrivacyViolation()
		}
	}

	return nil
}

// ComputeMetric computes a named metric on demand from the aggregate
// buckets, spending privacy budget at the requested level. requestedBy is an
// optional caller pseudonym; only its hash ever reaches the audit log.
func (o *Optimizer) ComputeMetric(ctx context.Context, name string, window time.Duration, level virality.PrivacyLevel, requestedBy string) (virality.MetricRecord, error) {
	before := o.ledger.Used()

	var record virality.MetricRecord
	var err error
	switch name {
	case MetricKFactor:
		record, err = o.calculator.KFactor(o.signups.Load(), o.invites.Load(), window, level)
	case MetricShareRate:
		record, err = o.calculator.ShareRate(o.shares.Load(), o.achievements.Load(), window, level)
	case MetricShareRatePerUser:
		record, err = o.calculator.ShareRatePerUser(o.shares.Load(), o.activeUsers.Load(), window, level)
	default:
		return virality.MetricRecord{}, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
	if err != nil {
		if errors.Is(err, privacy.ErrBudgetExceeded) {
			o.telemetry.BudgetExhaustions.Inc()
		}
		return virality.MetricRecord{}, err
	}

	spent := o.ledger.Used() - before
	o.telemetry.MetricComputations.WithLabelValues(name).Inc()
	o.telemetry.EpsilonSpent.Add(spent)

	entry := &journal.AuditEntry{
		Metric:       name,
		Mechanism:    "laplacian",
		EpsilonSpent: spent,
		CallerHash:   hashPseudonym(requestedBy),
		CreatedAtMs:  o.now().UnixMilli(),
	}
	if auditErr := o.journal.AppendAudit(ctx, entry); auditErr != nil {
		o.logger.Error("failed to append privacy audit entry", "metric", name, "error", auditErr)
	}

	return record, nil
}

// UpdateEconomicData feeds one observation period into the indicator tracker
// and persists the refreshed indicator snapshots.
func (o *Optimizer) UpdateEconomicData(ctx context.Context, summary economy.Summary) error {
	now := o.now()
	if err := o.tracker.Ingest(summary, now); err != nil {
		return err
	}
	o.activeUsers.Store(summary.ActiveUsers)

	for _, st := range o.tracker.States() {
		snap := &journal.IndicatorSnapshot{
			Name:        st.Name,
			Value:       st.Value,
			Target:      st.Target,
			Tolerance:   st.Tolerance,
			Trend:       string(st.Trend),
			Alert:       string(st.Alert),
			UpdatedAtMs: now.UnixMilli(),
		}
		if err := o.journal.SaveIndicator(ctx, snap); err != nil {
			return fmt.Errorf("failed to persist indicator %q: %w", st.Name, err)
		}
	}

	return nil
}

// RunAdjustmentCycle runs one controller cycle: compute the corrective nudge
// and, when any indicator is out of tolerance, apply it, persist the new
// multipliers, and publish an adjustment event. Returns the recorded entry
// and whether anything changed.
func (o *Optimizer) RunAdjustmentCycle(ctx context.Context) (journal.AdjustmentEntry, bool, error) {
	proposal := o.controller.CalculateOptimalAdjustments()
	entry, changed := o.controller.ApplyAdjustments(proposal, o.now())
	if !changed {
		return journal.AdjustmentEntry{}, false, nil
	}

	o.telemetry.Adjustments.Inc()
	o.logger.Info("stability multipliers adjusted",
		"faucet_before", entry.FaucetBefore, "faucet_after", entry.FaucetAfter,
		"sink_before", entry.SinkBefore, "sink_after", entry.SinkAfter,
		"triggered", entry.Triggered)

	if err := o.journal.AppendAdjustment(ctx, &entry); err != nil {
		return entry, true, fmt.Errorf("failed to persist adjustment: %w", err)
	}
	if err := o.journal.SaveMultipliers(ctx, entry.FaucetAfter, entry.SinkAfter); err != nil {
		return entry, true, fmt.Errorf("failed to persist multipliers: %w", err)
	}

	o.publishEvent(ctx, &journal.ControlEvent{
		Kind:        journal.EventAdjustment,
		Detail:      entry.Reason,
		CreatedAtMs: entry.AppliedAtMs,
	})

	return entry, true, nil
}

// SafetyAction describes one automatic action taken by a safety cycle.
type SafetyAction struct {
	Kind         journal.ControlEventKind
	ExperimentID string
	Detail       string
}

// RunSafetyCycle runs one maintenance pass over all active experiments:
// safety checks, rollback, and traffic graduation. Cycles are single-flight
// and time-gated; an external scheduler (or the Run loop) invokes this on a
// fixed cadence. Every rollback is logged with the triggering violation,
// timestamp and experiment ID, and journaled before the cycle returns.
func (o *Optimizer) RunSafetyCycle(ctx context.Context) ([]SafetyAction, error) {
	if !o.safetyInFlight.CompareAndSwap(false, true) {
		return nil, ErrCycleInFlight
	}
	defer o.safetyInFlight.Store(false)

	now := o.now()
	o.mu.Lock()
	if !o.lastSafety.IsZero() && now.Sub(o.lastSafety) < o.minSafetyInterval {
		o.mu.Unlock()
		return nil, ErrCycleThrottled
	}
	o.lastSafety = now
	o.mu.Unlock()

	var actions []SafetyAction
	for _, exp := range o.activeExperiments() {
		violations := exp.CheckSafetyViolations()
		for _, v := range violations {
			actions = append(actions, SafetyAction{
				Kind:         journal.EventSafetyViolation,
				ExperimentID: exp.ID,
				Detail:       v.String(),
			})
			o.logger.Warn("safety violation detected",
				"experiment_id", exp.ID, "kind", v.Kind, "severity", v.Severity, "detail", v.Detail)
			o.publishEvent(ctx, &journal.ControlEvent{
				Kind:         journal.EventSafetyViolation,
				ExperimentID: exp.ID,
				Detail:       v.String(),
				CreatedAtMs:  now.UnixMilli(),
			})
		}

		if trigger, rollback := experiment.ShouldRollback(violations); rollback {
			if err := exp.Rollback(trigger.String(), now); err != nil {
				return actions, fmt.Errorf("failed to roll back experiment %s: %w", exp.ID, err)
			}
			o.telemetry.Rollbacks.Inc()
			o.logger.Error("experiment rolled back",
				"experiment_id", exp.ID, "trigger", trigger.Kind,
				"variant", trigger.VariantName, "detail", trigger.Detail,
				"rolled_back_at", now)

			if err := o.saveSnapshot(ctx, exp); err != nil {
				// The rollback log is the source of truth for post-mortems;
				// a persistence failure aborts the cycle loudly.
				return actions, err
			}
			o.publishEvent(ctx, &journal.ControlEvent{
				Kind:         journal.EventRollback,
				ExperimentID: exp.ID,
				Detail:       trigger.String(),
				CreatedAtMs:  now.UnixMilli(),
			})
			actions = append(actions, SafetyAction{
				Kind:         journal.EventRollback,
				ExperimentID: exp.ID,
				Detail:       trigger.String(),
			})
			continue
		}

		if exp.CanGraduate(now) {
			newPct := exp.Graduate()
			o.telemetry.Graduations.Inc()
			detail := fmt.Sprintf("rollout grown to %.1f%%", newPct)
			o.logger.Info("experiment graduated", "experiment_id", exp.ID, "rollout_percent", newPct)

			if err := o.saveSnapshot(ctx, exp); err != nil {
				return actions, err
			}
			o.publishEvent(ctx, &journal.ControlEvent{
				Kind:         journal.EventGraduation,
				ExperimentID: exp.ID,
				Detail:       detail,
				CreatedAtMs:  now.UnixMilli(),
			})
			actions = append(actions, SafetyAction{
				Kind:         journal.EventGraduation,
				ExperimentID: exp.ID,
				Detail:       detail,
			})
		}
	}

	o.telemetry.SafetyCycles.Inc()
	o.telemetry.ActiveExperiments.Set(float64(len(o.activeExperiments())))
	return actions, nil
}

// CreateExperiment creates an experiment in draft status, registers it with
// the optimizer and journals its initial snapshot. Thresholds the spec
// leaves unset inherit the optimizer's configured defaults.
func (o *Optimizer) CreateExperiment(ctx context.Context, spec experiment.Spec) (*experiment.Experiment, error) {
	spec.Thresholds = spec.Thresholds.Merge(o.defaultThresholds)
	exp, err := experiment.New(spec)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.experiments[exp.ID] = exp
	o.mu.Unlock()

	if err := o.saveSnapshot(ctx, exp); err != nil {
		return nil, err
	}

	o.logger.Info("experiment created", "experiment_id", exp.ID, "name", exp.Name, "type", exp.Type)
	return exp, nil
}

// StartExperiment transitions an experiment to active.
func (o *Optimizer) StartExperiment(ctx context.Context, id string) error {
	exp, err := o.experiment(id)
	if err != nil {
		return err
	}

	if err := exp.Start(o.now()); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidExperimentState, err)
	}
	o.telemetry.ActiveExperiments.Set(float64(len(o.activeExperiments())))

	o.logger.Info("experiment started", "experiment_id", id, "name", exp.Name)
	return o.saveSnapshot(ctx, exp)
}

// VariantComparison is one treatment-vs-control significance result.
type VariantComparison struct {
	VariantID   string
	VariantName string
	Result      experiment.SignificanceResult
}

// Report is the full result view of one experiment.
type Report struct {
	Snapshot    journal.ExperimentSnapshot
	Comparisons []VariantComparison
	Violations  []experiment.Violation
}

// GetExperimentResults builds a report for an experiment: its current
// snapshot, a significance comparison for every treatment variant, and any
// outstanding safety violations.
func (o *Optimizer) GetExperimentResults(id string) (*Report, error) {
	exp, err := o.experiment(id)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Snapshot:   exp.Snapshot(),
		Violations: exp.CheckSafetyViolations(),
	}
	for _, v := range exp.Variants() {
		if v.IsControl {
			continue
		}
		result, err := exp.CompareConversion(v.ID)
		if err != nil {
			return nil, err
		}
		report.Comparisons = append(report.Comparisons, VariantComparison{
			VariantID:   v.ID,
			VariantName: v.Name,
			Result:      result,
		})
	}

	return report, nil
}

// Recommendations derives operator guidance from experiment results and
// economy alerts.
func (o *Optimizer) Recommendations() []string {
	var recs []string

	o.mu.Lock()
	experiments := make([]*experiment.Experiment, 0, len(o.experiments))
	for _, exp := range o.experiments {
		experiments = append(experiments, exp)
	}
	o.mu.Unlock()

	for _, exp := range experiments {
		switch exp.Status() {
		case journal.StatusRolledBack:
			recs = append(recs, fmt.Sprintf(
				"experiment %q was rolled back (%s); review the mechanic before retrying", exp.Name, exp.RollbackReason()))
		case journal.StatusActive:
			for _, v := range exp.Variants() {
				if v.IsControl {
					continue
				}
				result, err := exp.CompareConversion(v.ID)
				if err != nil || !result.Significant {
					continue
				}
				if result.Lift > 0 {
					recs = append(recs, fmt.Sprintf(
						"experiment %q variant %q shows a significant %.0f%% conversion lift; consider graduating it",
						exp.Name, v.Name, result.Lift*100))
				} else {
					recs = append(recs, fmt.Sprintf(
						"experiment %q variant %q significantly underperforms control; consider stopping it",
						exp.Name, v.Name))
				}
			}
		}
	}

	for _, st := range o.tracker.States() {
		if st.Alert == economy.AlertNormal {
			continue
		}
		recs = append(recs, fmt.Sprintf(
			"indicator %s is %s (%.3g vs target %.3g, trend %s)",
			st.Name, st.Alert, st.Value, st.Target, st.Trend))
	}
	if o.tracker.WorstAlert() == economy.AlertEmergency {
		recs = append(recs,
			"economy is in emergency; pause active growth experiments until indicators recover")
	}

	if remaining := o.ledger.Remaining(); remaining < o.ledger.Total()*0.1 {
		recs = append(recs, fmt.Sprintf(
			"privacy budget nearly exhausted (%.2f of %.2f remaining); coarser privacy levels or a budget reset are needed",
			remaining, o.ledger.Total()))
	}

	return recs
}

// Multipliers returns the controller's current stability multipliers.
func (o *Optimizer) Multipliers() economy.Multipliers {
	return o.controller.Multipliers()
}

// experiment looks up a registered experiment by ID.
func (o *Optimizer) experiment(id string) (*experiment.Experiment, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	exp, ok := o.experiments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExperimentNotFound, id)
	}
	return exp, nil
}

// activeExperiments returns the experiments currently in active status.
func (o *Optimizer) activeExperiments() []*experiment.Experiment {
	o.mu.Lock()
	defer o.mu.Unlock()

	var active []*experiment.Experiment
	for _, exp := range o.experiments {
		if exp.Status() == journal.StatusActive {
			active = append(active, exp)
		}
	}
	return active
}

// variantOf resolves an assignment's variant on its experiment.
func (o *Optimizer) variantOf(exp *experiment.Experiment, variantID string) (*experiment.Variant, error) {
	for _, v := range exp.Variants() {
		if v.ID == variantID {
			return v, nil
		}
	}
	return nil, fmt.Errorf("experiment %s has no variant %s", exp.ID, variantID)
}

// saveSnapshot journals the experiment's current state.
func (o *Optimizer) saveSnapshot(ctx context.Context, exp *experiment.Experiment) error {
	snap := exp.Snapshot()
	if err := o.journal.SaveExperiment(ctx, &snap); err != nil {
		return fmt.Errorf("failed to journal experiment %s: %w", exp.ID, err)
	}
	return nil
}

// publishEvent publishes a control event, logging failures. Pub/sub is
// at-most-once delivery for live watchers; the journal logs written above
// remain the durable record.
func (o *Optimizer) publishEvent(ctx context.Context, event *journal.ControlEvent) {
	if err := o.journal.PublishControlEvent(ctx, event); err != nil {
		o.logger.Error("failed to publish control event", "kind", event.Kind, "error", err)
	}
}

// hashPseudonym returns the xxhash digest of a pseudonym, or empty for an
// anonymous caller. Raw pseudonyms never reach the journal.
func hashPseudonym(pseudonym string) string {
	if pseudonym == "" {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(pseudonym))
}
