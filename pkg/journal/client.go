package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for the journal.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new journal client for the specified instance.
// The client automatically namespaces all keys and channels with the instance name.
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
// After calling Close(), the client should not be used.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
// Returns an error if Redis is not reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SaveExperiment writes an experiment snapshot and registers its ID in the
// experiment index. Validates the snapshot before writing.
//
// The snapshot is stored as a Redis hash at flywheel:{instance}:experiment:{id}.
// This method is idempotent - writing the same snapshot twice is safe.
func (c *Client) SaveExperiment(ctx context.Context, e *ExperimentSnapshot) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid experiment snapshot: %w", err)
	}

	hash, err := ExperimentToHash(e)
	if err != nil {
		return fmt.Errorf("failed to serialize experiment: %w", err)
	}

	key := ExperimentKey(c.instanceName, e.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write experiment to Redis: %w", err)
	}

	if err := c.rdb.SAdd(ctx, ExperimentIndexKey(c.instanceName), e.ID).Err(); err != nil {
		return fmt.Errorf("failed to index experiment: %w", err)
	}

	return nil
}

// GetExperiment retrieves an experiment snapshot by ID.
// Returns (nil, redis.Nil) if the experiment doesn't exist.
// Use IsNotFound() to check for not-found errors.
func (c *Client) GetExperiment(ctx context.Context, experimentID string) (*ExperimentSnapshot, error) {
	key := ExperimentKey(c.instanceName, experimentID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read experiment from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	snapshot, err := HashToExperiment(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize experiment: %w", err)
	}

	return snapshot, nil
}

// ListExperimentIDs returns all experiment IDs known to this instance.
// Returns an empty slice if no experiments exist (not an error).
func (c *Client) ListExperimentIDs(ctx context.Context) ([]string, error) {
	ids, err := c.rdb.SMembers(ctx, ExperimentIndexKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	return ids, nil
}

// AppendAdjustment appends an adjustment entry to the adjustment log and
// trims the log to AdjustmentLogCap entries (oldest evicted).
func (c *Client) AppendAdjustment(ctx context.Context, entry *AdjustmentEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid adjustment entry: %w", err)
	}

	data, err := MarshalAdjustment(entry)
	if err != nil {
		return err
	}

	key := AdjustmentLogKey(c.instanceName)
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, AdjustmentLogCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append adjustment entry: %w", err)
	}

	return nil
}

// ListAdjustments returns up to limit adjustment entries, newest first.
// limit <= 0 returns the whole retained log.
func (c *Client) ListAdjustments(ctx context.Context, limit int) ([]*AdjustmentEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	raw, err := c.rdb.LRange(ctx, AdjustmentLogKey(c.instanceName), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read adjustment log: %w", err)
	}

	entries := make([]*AdjustmentEntry, 0, len(raw))
	for _, data := range raw {
		entry, err := UnmarshalAdjustment(data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// AppendAudit appends a privacy audit entry to the audit log and trims the
// log to AuditLogCap entries (oldest evicted).
func (c *Client) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid audit entry: %w", err)
	}

	data, err := MarshalAudit(entry)
	if err != nil {
		return err
	}

	key := AuditLogKey(c.instanceName)
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, AuditLogCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

// ListAudit returns up to limit audit entries, newest first.
func (c *Client) ListAudit(ctx context.Context, limit int) ([]*AuditEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	raw, err := c.rdb.LRange(ctx, AuditLogKey(c.instanceName), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	entries := make([]*AuditEntry, 0, len(raw))
	for _, data := range raw {
		entry, err := UnmarshalAudit(data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SaveIndicator writes an economic indicator snapshot and registers its name
// in the indicator index.
func (c *Client) SaveIndicator(ctx context.Context, s *IndicatorSnapshot) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid indicator snapshot: %w", err)
	}

	key := IndicatorKey(c.instanceName, s.Name)
	if err := c.rdb.HSet(ctx, key, IndicatorToHash(s)).Err(); err != nil {
		return fmt.Errorf("failed to write indicator to Redis: %w", err)
	}

	if err := c.rdb.SAdd(ctx, IndicatorIndexKey(c.instanceName), s.Name).Err(); err != nil {
		return fmt.Errorf("failed to index indicator: %w", err)
	}

	return nil
}

// GetIndicator retrieves an indicator snapshot by name.
// Returns (nil, redis.Nil) if the indicator doesn't exist.
func (c *Client) GetIndicator(ctx context.Context, name string) (*IndicatorSnapshot, error) {
	hashData, err := c.rdb.HGetAll(ctx, IndicatorKey(c.instanceName, name)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read indicator from Redis: %w", err)
	}

	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	return HashToIndicator(hashData)
}

// ListIndicators returns snapshots for every known indicator.
func (c *Client) ListIndicators(ctx context.Context) ([]*IndicatorSnapshot, error) {
	names, err := c.rdb.SMembers(ctx, IndicatorIndexKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list indicators: %w", err)
	}

	snapshots := make([]*IndicatorSnapshot, 0, len(names))
	for _, name := range names {
		s, err := c.GetIndicator(ctx, name)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, nil
}

// SaveMultipliers persists the current faucet/sink multipliers.
func (c *Client) SaveMultipliers(ctx context.Context, faucet, sink float64) error {
	hash := map[string]interface{}{
		"faucet": strconv.FormatFloat(faucet, 'g', -1, 64),
		"sink":   strconv.FormatFloat(sink, 'g', -1, 64),
	}
	if err := c.rdb.HSet(ctx, MultipliersKey(c.instanceName), hash).Err(); err != nil {
		return fmt.Errorf("failed to write multipliers to Redis: %w", err)
	}
	return nil
}

// GetMultipliers retrieves the persisted faucet/sink multipliers.
// Returns (0, 0, redis.Nil) if none have been saved.
func (c *Client) GetMultipliers(ctx context.Context) (faucet, sink float64, err error) {
	hashData, err := c.rdb.HGetAll(ctx, MultipliersKey(c.instanceName)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read multipliers from Redis: %w", err)
	}

	if len(hashData) == 0 {
		return 0, 0, redis.Nil
	}

	faucet, err = strconv.ParseFloat(hashData["faucet"], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid faucet field: %w", err)
	}
	sink, err = strconv.ParseFloat(hashData["sink"], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid sink field: %w", err)
	}

	return faucet, sink, nil
}

// PublishControlEvent publishes a control event to the control events channel.
// Validates the event before publishing.
func (c *Client) PublishControlEvent(ctx context.Context, event *ControlEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid control event: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal control event: %w", err)
	}

	channel := ControlEventsChannel(c.instanceName)
	if err := c.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish control event: %w", err)
	}

	return nil
}

// Subscription represents an active Pub/Sub subscription to control events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *ControlEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of control events.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *ControlEvent {
	return s.events
}

// Errors returns the channel of subscription errors.
// Errors include JSON unmarshaling failures and other non-fatal issues.
// The subscription continues after errors - messages are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeControlEvents subscribes to control events for this instance.
// Returns a Subscription that delivers full control event objects.
// Caller must call subscription.Close() when done.
// Context cancellation also stops the subscription.
//
// Events are delivered on a buffered channel (size 10) to prevent blocking.
// Redis Pub/Sub is at-most-once; slow subscribers may miss events, but the
// journal's adjustment and audit logs remain the durable record.
func (c *Client) SubscribeControlEvents(ctx context.Context) (*Subscription, error) {
	channel := ControlEventsChannel(c.instanceName)
	pubsub := c.rdb.Subscribe(ctx, channel)

	eventsChan := make(chan *ControlEvent, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event ControlEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal control event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
// Use this to check if GetExperiment, GetIndicator, or GetMultipliers returned "not found".
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
