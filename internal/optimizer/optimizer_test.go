package optimizer

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopworks/flywheel/internal/economy"
	"github.com/loopworks/flywheel/internal/experiment"
	"github.com/loopworks/flywheel/internal/privacy"
	"github.com/loopworks/flywheel/internal/virality"
	"github.com/loopworks/flywheel/pkg/journal"
)

type fixture struct {
	optimizer *Optimizer
	journal   *journal.Client
	tracker   *economy.Tracker
	clock     *fakeClock
}

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time { return c.current }

func (c *fakeClock) advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func targets() map[string]economy.IndicatorTarget {
	return map[string]economy.IndicatorTarget{
		economy.IndicatorInflationRate:     {Target: 2.5, Tolerance: 0.5},
		economy.IndicatorCurrencyVelocity:  {Target: 1.0, Tolerance: 0.2},
		economy.IndicatorSupplyRatio:       {Target: 3.0, Tolerance: 1.0},
		economy.IndicatorTransactionVolume: {Target: 10000, Tolerance: 2000},
	}
}

func setup(t *testing.T) *fixture {
	return setupWith(t, nil)
}

func setupWith(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := journal.NewClient(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	ledger, err := privacy.NewBudgetLedger(10000)
	require.NoError(t, err)
	engine, err := privacy.NewEngine(ledger, privacy.WithSource(rand.NewSource(11)))
	require.NoError(t, err)
	calc, err := virality.NewCalculator(engine)
	require.NoError(t, err)

	tracker, err := economy.NewTracker(targets())
	require.NoError(t, err)
	controller, err := economy.NewController(tracker)
	require.NoError(t, err)

	opts := Options{
		Journal:    client,
		Calculator: calc,
		Ledger:     ledger,
		Tracker:    tracker,
		Controller: controller,
	}
	if mutate != nil {
		mutate(&opts)
	}
	opt, err := New(opts)
	require.NoError(t, err)

	clock := &fakeClock{current: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	opt.now = clock.now

	return &fixture{optimizer: opt, journal: client, tracker: tracker, clock: clock}
}

func fullRolloutSpec() experiment.Spec {
	return experiment.Spec{
		Name: "streak reminder",
		Type: "retention_nudge",
		Variants: []experiment.VariantSpec{
			{Name: "control", TrafficShare: 0.5, IsControl: true},
			{Name: "treatment", TrafficShare: 0.5},
		},
		RolloutPercent: 100,
	}
}

func startedExperiment(t *testing.T, f *fixture) *experiment.Experiment {
	t.Helper()
	exp, err := f.optimizer.CreateExperiment(context.Background(), fullRolloutSpec())
	require.NoError(t, err)
	require.NoError(t, f.optimizer.StartExperiment(context.Background(), exp.ID))
	return exp
}

func TestRecordEventRouting(t *testing.T) {
	f := setup(t)
	exp := startedExperiment(t, f)

	const users = 200
	for i := 0; i < users; i++ {
		pseudonym := fmt.Sprintf("user-%d", i)
		require.NoError(t, f.optimizer.RecordEvent(EventSignup, nil, pseudonym))
		require.NoError(t, f.optimizer.RecordEvent(EventConversion, nil, pseudonym))
		require.NoError(t, f.optimizer.RecordEvent(EventShare, map[string]string{"educational": "true"}, pseudonym))
	}

	t.Run("every event lands on exactly one variant", func(t *testing.T) {
		var participants, conversions, shares int64
		for _, v := range exp.Variants() {
			participants += v.Participants()
			conversions += v.Conversions()
			shares += v.Snapshot().SharingEvents
		}
		assert.Equal(t, int64(users), participants)
		assert.Equal(t, int64(users), conversions)
		assert.Equal(t, int64(users), shares)
	})

	t.Run("trust scores require a numeric score", func(t *testing.T) {
		err := f.optimizer.RecordEvent(EventTrustScore, map[string]string{"score": "85.5"}, "user-1")
		require.NoError(t, err)

		err = f.optimizer.RecordEvent(EventTrustScore, map[string]string{"score": "high"}, "user-1")
		assert.ErrorContains(t, err, "numeric")
	})

	t.Run("unknown event types are ignored", func(t *testing.T) {
		assert.NoError(t, f.optimizer.RecordEvent("teleport", nil, "user-1"))
	})

	t.Run("events without a pseudonym only feed aggregates", func(t *testing.T) {
		before := f.optimizer.signups.Load()
		require.NoError(t, f.optimizer.RecordEvent(EventSignup, nil, ""))
		assert.Equal(t, before+1, f.optimizer.signups.Load())
	})
}

func TestComputeMetric(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for i := 0; i < 600; i++ {
		require.NoError(t, f.optimizer.RecordEvent(EventSignup, nil, ""))
	}
	for i := 0; i < 1000; i++ {
		require.NoError(t, f.optimizer.RecordEvent(EventInvite, nil, ""))
	}

	t.Run("computes and audits with a hashed caller", func(t *testing.T) {
		record, err := f.optimizer.ComputeMetric(ctx, MetricKFactor, time.Hour, virality.PrivacyLow, "analyst-7")
		require.NoError(t, err)
		assert.Equal(t, "k_factor", record.Name)
		assert.GreaterOrEqual(t, record.Value, 0.0)
		assert.LessOrEqual(t, record.Value, 3.0)

		entries, err := f.journal.ListAudit(ctx, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "k_factor", entries[0].Metric)
		assert.InDelta(t, 2.0, entries[0].EpsilonSpent, 1e-9) // two counters at epsilon 1.0
		assert.NotEmpty(t, entries[0].CallerHash)
		assert.NotContains(t, entries[0].CallerHash, "analyst")
	})

	t.Run("rejects unknown metric names", func(t *testing.T) {
		_, err := f.optimizer.ComputeMetric(ctx, "churn", time.Hour, virality.PrivacyLow, "")
		assert.ErrorIs(t, err, ErrUnknownMetric)
	})

	t.Run("surfaces budget exhaustion without an audit entry", func(t *testing.T) {
		f := setup(t)
		// Drain the budget almost entirely.
		require.NoError(t, f.optimizer.ledger.Spend(9999.5))

		_, err := f.optimizer.ComputeMetric(ctx, MetricKFactor, time.Hour, virality.PrivacyLow, "")
		assert.ErrorIs(t, err, privacy.ErrBudgetExceeded)

		entries, err := f.journal.ListAudit(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestUpdateEconomicData(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.optimizer.UpdateEconomicData(ctx, economy.Summary{
		TransactionVolume: 10000,
		EarnedSupply:      7500,
		PurchasedSupply:   2500,
		ActiveUsers:       4200,
	}))

	snapshots, err := f.journal.ListIndicators(ctx)
	require.NoError(t, err)
	assert.Len(t, snapshots, 4)

	velocity, err := f.journal.GetIndicator(ctx, economy.IndicatorCurrencyVelocity)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, velocity.Value, 1e-9)
	assert.Equal(t, "normal", velocity.Alert)

	assert.Equal(t, int64(4200), f.optimizer.activeUsers.Load())
}

func TestRunAdjustmentCycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("no change when everything is in tolerance", func(t *testing.T) {
		for name, target := range targets() {
			require.NoError(t, f.tracker.Observe(name, target.Target, f.clock.now()))
		}

		_, changed, err := f.optimizer.RunAdjustmentCycle(ctx)
		require.NoError(t, err)
		assert.False(t, changed)

		entries, err := f.journal.ListAdjustments(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("out-of-tolerance indicator journals an adjustment", func(t *testing.T) {
		require.NoError(t, f.tracker.Observe(economy.IndicatorInflationRate, 4.5, f.clock.now()))

		entry, changed, err := f.optimizer.RunAdjustmentCycle(ctx)
		require.NoError(t, err)
		require.True(t, changed)
		assert.Less(t, entry.FaucetAfter, entry.FaucetBefore)

		entries, err := f.journal.ListAdjustments(ctx, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, entry.Reason, entries[0].Reason)

		faucet, sink, err := f.journal.GetMultipliers(ctx)
		require.NoError(t, err)
		assert.Equal(t, entry.FaucetAfter, faucet)
		assert.Equal(t, entry.SinkAfter, sink)
	})
}

func TestRunSafetyCycle(t *testing.T) {
	ctx := context.Background()

	t.Run("rolls back on a trust drop and journals the terminal status", func(t *testing.T) {
		f := setup(t)
		exp := startedExperiment(t, f)

		for i := 0; i < 200; i++ {
			require.NoError(t, f.optimizer.RecordEvent(EventTrustScore,
				map[string]string{"score": "60"}, fmt.Sprintf("user-%d", i)))
		}

		f.clock.advance(2 * time.Hour)
		actions, err := f.optimizer.RunSafetyCycle(ctx)
		require.NoError(t, err)

		var rollback *SafetyAction
		for i := range actions {
			if actions[i].Kind == journal.EventRollback {
				rollback = &actions[i]
			}
		}
		require.NotNil(t, rollback, "expected a rollback action, got %v", actions)
		assert.Equal(t, exp.ID, rollback.ExperimentID)
		assert.Contains(t, rollback.Detail, "TrustScoreDrop")

		saved, err := f.journal.GetExperiment(ctx, exp.ID)
		require.NoError(t, err)
		assert.Equal(t, journal.StatusRolledBack, saved.Status)
		assert.Contains(t, saved.RollbackReason, "TrustScoreDrop")
		assert.NotZero(t, saved.EndedAtMs)
	})

	t.Run("graduates a healthy long-running experiment", func(t *testing.T) {
		f := setup(t)
		spec := fullRolloutSpec()
		spec.RolloutPercent = 10
		exp, err := f.optimizer.CreateExperiment(ctx, spec)
		require.NoError(t, err)
		require.NoError(t, f.optimizer.StartExperiment(ctx, exp.ID))

		for _, v := range exp.Variants() {
			for i := 0; i < 150; i++ {
				v.RecordParticipant()
			}
		}

		f.clock.advance(25 * time.Hour)
		actions, err := f.optimizer.RunSafetyCycle(ctx)
		require.NoError(t, err)
		require.Len(t, actions, 1)
		assert.Equal(t, journal.EventGraduation, actions[0].Kind)
		assert.InDelta(t, 15.0, exp.RolloutPercent(), 1e-9)

		saved, err := f.journal.GetExperiment(ctx, exp.ID)
		require.NoError(t, err)
		assert.InDelta(t, 15.0, saved.RolloutPercent, 1e-9)
	})

	t.Run("time gate throttles back-to-back cycles", func(t *testing.T) {
		f := setup(t)

		f.clock.advance(2 * time.Hour)
		_, err := f.optimizer.RunSafetyCycle(ctx)
		require.NoError(t, err)

		f.clock.advance(10 * time.Minute)
		_, err = f.optimizer.RunSafetyCycle(ctx)
		assert.ErrorIs(t, err, ErrCycleThrottled)

		f.clock.advance(time.Hour)
		_, err = f.optimizer.RunSafetyCycle(ctx)
		assert.NoError(t, err)
	})

	t.Run("cycles are single-flight", func(t *testing.T) {
		f := setup(t)
		f.optimizer.safetyInFlight.Store(true)

		_, err := f.optimizer.RunSafetyCycle(ctx)
		assert.ErrorIs(t, err, ErrCycleInFlight)
	})
}

func TestConfiguredSafetyDefaults(t *testing.T) {
	f := setupWith(t, func(o *Options) {
		o.DefaultThresholds = experiment.SafetyThresholds{
			TrustScoreFloor:   90,
			MaxRolloutPercent: 30,
		}
	})
	ctx := context.Background()

	t.Run("experiments inherit configured thresholds", func(t *testing.T) {
		exp, err := f.optimizer.CreateExperiment(ctx, fullRolloutSpec())
		require.NoError(t, err)

		assert.Equal(t, 90.0, exp.Thresholds.TrustScoreFloor)
		assert.Equal(t, 30.0, exp.Thresholds.MaxRolloutPercent)
		// Thresholds the configuration leaves unset still get the
		// platform defaults.
		assert.Equal(t, experiment.DefaultEducationShareTarget, exp.Thresholds.EducationShareTarget)
		assert.Equal(t, experiment.DefaultMinTrustSamples, exp.Thresholds.MinTrustSamples)
	})

	t.Run("per-experiment thresholds win over configured defaults", func(t *testing.T) {
		spec := fullRolloutSpec()
		spec.Thresholds.TrustScoreFloor = 70
		exp, err := f.optimizer.CreateExperiment(ctx, spec)
		require.NoError(t, err)

		assert.Equal(t, 70.0, exp.Thresholds.TrustScoreFloor)
		assert.Equal(t, 30.0, exp.Thresholds.MaxRolloutPercent)
	})
}

func TestExperimentLifecycleErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("unknown experiment", func(t *testing.T) {
		err := f.optimizer.StartExperiment(ctx, "ffffffff-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, ErrExperimentNotFound)

		_, err = f.optimizer.GetExperimentResults("ffffffff-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, ErrExperimentNotFound)
	})

	t.Run("double start is an invalid state", func(t *testing.T) {
		exp := startedExperiment(t, f)
		err := f.optimizer.StartExperiment(ctx, exp.ID)
		assert.ErrorIs(t, err, ErrInvalidExperimentState)
	})
}

func TestGetExperimentResults(t *testing.T) {
	f := setup(t)
	exp := startedExperiment(t, f)

	for _, v := range exp.Variants() {
		conversions := 50
		if !v.IsControl {
			conversions = 100
		}
		for i := 0; i < 500; i++ {
			v.RecordParticipant()
		}
		for i := 0; i < conversions; i++ {
			v.RecordConversion()
		}
	}

	report, err := f.optimizer.GetExperimentResults(exp.ID)
	require.NoError(t, err)

	assert.Equal(t, exp.ID, report.Snapshot.ID)
	require.Len(t, report.Comparisons, 1)
	assert.Equal(t, "treatment", report.Comparisons[0].VariantName)
	assert.True(t, report.Comparisons[0].Result.Significant)
	assert.Empty(t, report.Violations)
}

func TestRecommendations(t *testing.T) {
	f := setup(t)

	t.Run("quiet system recommends nothing", func(t *testing.T) {
		for name, target := range targets() {
			require.NoError(t, f.tracker.Observe(name, target.Target, f.clock.now()))
		}
		assert.Empty(t, f.optimizer.Recommendations())
	})

	t.Run("economy alerts and rollbacks surface", func(t *testing.T) {
		require.NoError(t, f.tracker.Observe(economy.IndicatorInflationRate, 4.5, f.clock.now()))

		exp := startedExperiment(t, f)
		require.NoError(t, exp.Rollback("TrustScoreDrop on treatment", f.clock.now()))

		recs := f.optimizer.Recommendations()
		require.NotEmpty(t, recs)

		joined := fmt.Sprint(recs)
		assert.Contains(t, joined, economy.IndicatorInflationRate)
		assert.Contains(t, joined, "rolled back")
		assert.NotContains(t, joined, "emergency", "critical alone does not escalate")
	})

	t.Run("economic emergency recommends pausing experiments", func(t *testing.T) {
		require.NoError(t, f.tracker.Observe(economy.IndicatorInflationRate, 6.0, f.clock.now()))

		joined := fmt.Sprint(f.optimizer.Recommendations())
		assert.Contains(t, joined, "pause active growth experiments")
	})
}
