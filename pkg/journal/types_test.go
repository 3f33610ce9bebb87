package journal

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func validSnapshot() *ExperimentSnapshot {
	return &ExperimentSnapshot{
		ID:             uuid.New().String(),
		Name:           "invite-copy-test",
		Type:           "invite_flow",
		Status:         StatusDraft,
		RolloutPercent: 10,
		Variants: []VariantSnapshot{
			{ID: uuid.New().String(), Name: "control", TrafficShare: 0.5, IsControl: true},
			{ID: uuid.New().String(), Name: "treatment", TrafficShare: 0.5},
		},
	}
}

func TestExperimentStatusValidate(t *testing.T) {
	valid := []ExperimentStatus{
		StatusDraft, StatusReview, StatusActive, StatusPaused,
		StatusCompleted, StatusRolledBack, StatusFailed,
	}
	for _, s := range valid {
		assert.NoError(t, s.Validate(), "status %q should be valid", s)
	}

	assert.Error(t, ExperimentStatus("running").Validate())
	assert.Error(t, ExperimentStatus("").Validate())
}

func TestExperimentStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusRolledBack.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusActive.Terminal())
	assert.False(t, StatusPaused.Terminal())
}

func TestExperimentSnapshotValidate(t *testing.T) {
	t.Run("accepts valid snapshot", func(t *testing.T) {
		assert.NoError(t, validSnapshot().Validate())
	})

	t.Run("rejects non-UUID id", func(t *testing.T) {
		e := validSnapshot()
		e.ID = "not-a-uuid"
		assert.ErrorContains(t, e.Validate(), "invalid experiment ID")
	})

	t.Run("rejects empty name", func(t *testing.T) {
		e := validSnapshot()
		e.Name = ""
		assert.ErrorContains(t, e.Validate(), "name cannot be empty")
	})

	t.Run("rejects rollout outside [0,100]", func(t *testing.T) {
		e := validSnapshot()
		e.RolloutPercent = 101
		assert.ErrorContains(t, e.Validate(), "rollout percent")
	})

	t.Run("rejects single variant", func(t *testing.T) {
		e := validSnapshot()
		e.Variants = e.Variants[:1]
		assert.ErrorContains(t, e.Validate(), "at least 2 variants")
	})

	t.Run("rejects missing control", func(t *testing.T) {
		e := validSnapshot()
		e.Variants[0].IsControl = false
		assert.ErrorContains(t, e.Validate(), "exactly one control")
	})

	t.Run("rejects zero traffic share", func(t *testing.T) {
		e := validSnapshot()
		e.Variants[1].TrafficShare = 0
		assert.ErrorContains(t, e.Validate(), "traffic share")
	})
}

func TestAdjustmentEntryValidate(t *testing.T) {
	entry := &AdjustmentEntry{
		FaucetBefore: 1.0, FaucetAfter: 0.9,
		SinkBefore: 1.0, SinkAfter: 1.1,
		Reason:    "inflation_rate above target",
		Triggered: []string{"inflation_rate"},
	}
	assert.NoError(t, entry.Validate())

	t.Run("rejects out-of-bounds multiplier", func(t *testing.T) {
		bad := *entry
		bad.FaucetAfter = 2.5
		assert.ErrorContains(t, bad.Validate(), "out of bounds")
	})

	t.Run("rejects empty reason", func(t *testing.T) {
		bad := *entry
		bad.Reason = ""
		assert.ErrorContains(t, bad.Validate(), "reason cannot be empty")
	})
}

func TestAuditEntryValidate(t *testing.T) {
	entry := &AuditEntry{Metric: "k_factor", Mechanism: "laplacian", EpsilonSpent: 0.5}
	assert.NoError(t, entry.Validate())

	t.Run("rejects zero epsilon", func(t *testing.T) {
		bad := *entry
		bad.EpsilonSpent = 0
		assert.ErrorContains(t, bad.Validate(), "epsilon spent")
	})

	t.Run("rejects unknown mechanism", func(t *testing.T) {
		bad := *entry
		bad.Mechanism = "uniform"
		assert.ErrorContains(t, bad.Validate(), "unknown mechanism")
	})
}

func TestControlEventValidate(t *testing.T) {
	t.Run("accepts experiment-scoped event", func(t *testing.T) {
		e := &ControlEvent{Kind: EventRollback, ExperimentID: uuid.New().String(), Detail: "trust score drop"}
		assert.NoError(t, e.Validate())
	})

	t.Run("accepts economy event without experiment", func(t *testing.T) {
		e := &ControlEvent{Kind: EventAdjustment, Detail: "faucet 1.00 -> 0.95"}
		assert.NoError(t, e.Validate())
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		e := &ControlEvent{Kind: "promotion", Detail: "x"}
		assert.Error(t, e.Validate())
	})

	t.Run("rejects malformed experiment id", func(t *testing.T) {
		e := &ControlEvent{Kind: EventGraduation, ExperimentID: "exp-1", Detail: "x"}
		assert.Error(t, e.Validate())
	})
}
