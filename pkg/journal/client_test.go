package journal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-instance", client.instanceName)
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})
}

func TestPing(t *testing.T) {
	client, _ := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestSaveAndGetExperiment(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("round-trips a valid snapshot", func(t *testing.T) {
		snapshot := validSnapshot()
		snapshot.Status = StatusActive
		snapshot.StartedAtMs = time.Now().UnixMilli()

		require.NoError(t, client.SaveExperiment(ctx, snapshot))

		retrieved, err := client.GetExperiment(ctx, snapshot.ID)
		require.NoError(t, err)
		assert.Equal(t, snapshot.ID, retrieved.ID)
		assert.Equal(t, snapshot.Status, retrieved.Status)
		assert.Equal(t, snapshot.RolloutPercent, retrieved.RolloutPercent)
		require.Len(t, retrieved.Variants, 2)
		assert.Equal(t, snapshot.Variants[0].ID, retrieved.Variants[0].ID)
		assert.True(t, retrieved.Variants[0].IsControl)
	})

	t.Run("rejects invalid snapshot", func(t *testing.T) {
		snapshot := validSnapshot()
		snapshot.ID = "bogus"
		err := client.SaveExperiment(ctx, snapshot)
		assert.ErrorContains(t, err, "invalid experiment snapshot")
	})

	t.Run("returns not-found for unknown id", func(t *testing.T) {
		_, err := client.GetExperiment(ctx, "2f0c9f5e-0000-4000-8000-000000000000")
		assert.True(t, IsNotFound(err))
	})
}

func TestListExperimentIDs(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	ids, err := client.ListExperimentIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	first := validSnapshot()
	second := validSnapshot()
	require.NoError(t, client.SaveExperiment(ctx, first))
	require.NoError(t, client.SaveExperiment(ctx, second))

	ids, err = client.ListExperimentIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
}

func TestAdjustmentLog(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("round-trips before/after values and reason", func(t *testing.T) {
		entry := &AdjustmentEntry{
			FaucetBefore: 1.0,
			FaucetAfter:  0.92,
			SinkBefore:   1.0,
			SinkAfter:    1.08,
			Reason:       "inflation_rate deviated 1.8x tolerance above target",
			Triggered:    []string{"inflation_rate"},
			AppliedAtMs:  time.Now().UnixMilli(),
		}
		require.NoError(t, client.AppendAdjustment(ctx, entry))

		entries, err := client.ListAdjustments(ctx, 1)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, entry.FaucetBefore, entries[0].FaucetBefore)
		assert.Equal(t, entry.FaucetAfter, entries[0].FaucetAfter)
		assert.Equal(t, entry.SinkBefore, entries[0].SinkBefore)
		assert.Equal(t, entry.SinkAfter, entries[0].SinkAfter)
		assert.Equal(t, entry.Reason, entries[0].Reason)
		assert.Equal(t, entry.Triggered, entries[0].Triggered)
	})

	t.Run("evicts oldest beyond cap", func(t *testing.T) {
		for i := 0; i < AdjustmentLogCap+20; i++ {
			entry := &AdjustmentEntry{
				FaucetBefore: 1.0, FaucetAfter: 1.0,
				SinkBefore: 1.0, SinkAfter: 1.0,
				Reason: fmt.Sprintf("cycle %d", i),
			}
			require.NoError(t, client.AppendAdjustment(ctx, entry))
		}

		entries, err := client.ListAdjustments(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, entries, AdjustmentLogCap)
		// Newest first.
		assert.Equal(t, fmt.Sprintf("cycle %d", AdjustmentLogCap+19), entries[0].Reason)
	})

	t.Run("rejects invalid entry", func(t *testing.T) {
		err := client.AppendAdjustment(ctx, &AdjustmentEntry{Reason: ""})
		assert.Error(t, err)
	})
}

func TestAuditLog(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	entry := &AuditEntry{
		Metric:       "share_rate",
		Mechanism:    "laplacian",
		EpsilonSpent: 0.1,
		CallerHash:   "9d2f8c6e01a4b3d7",
		CreatedAtMs:  time.Now().UnixMilli(),
	}
	require.NoError(t, client.AppendAudit(ctx, entry))

	entries, err := client.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.Metric, entries[0].Metric)
	assert.Equal(t, entry.EpsilonSpent, entries[0].EpsilonSpent)
	assert.Equal(t, entry.CallerHash, entries[0].CallerHash)
}

func TestIndicatorSnapshots(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	snapshot := &IndicatorSnapshot{
		Name:        "inflation_rate",
		Value:       2.6,
		Target:      2.5,
		Tolerance:   0.5,
		Trend:       "stable",
		Alert:       "normal",
		UpdatedAtMs: time.Now().UnixMilli(),
	}
	require.NoError(t, client.SaveIndicator(ctx, snapshot))

	retrieved, err := client.GetIndicator(ctx, "inflation_rate")
	require.NoError(t, err)
	assert.Equal(t, snapshot.Value, retrieved.Value)
	assert.Equal(t, snapshot.Target, retrieved.Target)
	assert.Equal(t, snapshot.Alert, retrieved.Alert)

	all, err := client.ListIndicators(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "inflation_rate", all[0].Name)

	_, err = client.GetIndicator(ctx, "currency_velocity")
	assert.True(t, IsNotFound(err))
}

func TestMultipliers(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	_, _, err := client.GetMultipliers(ctx)
	assert.True(t, IsNotFound(err))

	require.NoError(t, client.SaveMultipliers(ctx, 0.85, 1.2))

	faucet, sink, err := client.GetMultipliers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.85, faucet)
	assert.Equal(t, 1.2, sink)
}

func TestControlEvents(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.SubscribeControlEvents(ctx)
	require.NoError(t, err)
	defer sub.Close()

	// Give the subscriber a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)

	event := &ControlEvent{
		Kind:        EventAdjustment,
		Detail:      "faucet 1.00 -> 0.92, sink 1.00 -> 1.08",
		CreatedAtMs: time.Now().UnixMilli(),
	}
	require.NoError(t, client.PublishControlEvent(ctx, event))

	select {
	case received := <-sub.Events():
		require.NotNil(t, received)
		assert.Equal(t, EventAdjustment, received.Kind)
		assert.Equal(t, event.Detail, received.Detail)
	case err := <-sub.Errors():
		t.Fatalf("unexpected subscription error: %v", err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for control event")
	}

	t.Run("rejects invalid event", func(t *testing.T) {
		err := client.PublishControlEvent(ctx, &ControlEvent{Kind: "bogus", Detail: "x"})
		assert.Error(t, err)
	})
}
