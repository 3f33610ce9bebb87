package journal

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to
// enable multiple Flywheel instances to safely coexist on a single Redis
// server.
//
// Key pattern: flywheel:{instance_name}:{entity}[:{id}]
// Channel pattern: flywheel:{instance_name}:{event_type}_events

// ExperimentKey returns the Redis key for an experiment snapshot.
// Pattern: flywheel:{instance_name}:experiment:{experiment_id}
func ExperimentKey(instanceName, experimentID string) string {
	return fmt.Sprintf("flywheel:%s:experiment:%s", instanceName, experimentID)
}

// ExperimentIndexKey returns the Redis key for the set of known experiment IDs.
// Pattern: flywheel:{instance_name}:experiments
func ExperimentIndexKey(instanceName string) string {
	return fmt.Sprintf("flywheel:%s:experiments", instanceName)
}

// AdjustmentLogKey returns the Redis key for the adjustment log list.
// Newest entries are at the head; the list is trimmed to AdjustmentLogCap.
// Pattern: flywheel:{instance_name}:adjustments
func AdjustmentLogKey(instanceName string) string {
	return fmt.Sprintf("flywheel:%s:adjustments", instanceName)
}

// AuditLogKey returns the Redis key for the privacy audit log list.
// Pattern: flywheel:{instance_name}:privacy_audit
func AuditLogKey(instanceName string) string {
	return fmt.Sprintf("flywheel:%s:privacy_audit", instanceName)
}

// IndicatorKey returns the Redis key for an economic indicator snapshot.
// Pattern: flywheel:{instance_name}:indicator:{name}
func IndicatorKey(instanceName, indicatorName string) string {
	return fmt.Sprintf("flywheel:%s:indicator:%s", instanceName, indicatorName)
}

// IndicatorIndexKey returns the Redis key for the set of known indicator names.
// Pattern: flywheel:{instance_name}:indicators
func IndicatorIndexKey(instanceName string) string {
	return fmt.Sprintf("flywheel:%s:indicators", instanceName)
}

// MultipliersKey returns the Redis key for the current stability multipliers hash.
// Pattern: flywheel:{instance_name}:multipliers
func MultipliersKey(instanceName string) string {
	return fmt.Sprintf("flywheel:%s:multipliers", instanceName)
}

// ControlEventsChannel returns the Pub/Sub channel name for control events
// (rollbacks, safety violations, adjustments, graduations).
// Pattern: flywheel:{instance_name}:control_events
func ControlEventsChannel(instanceName string) string {
	return fmt.Sprintf("flywheel:%s:control_events", instanceName)
}

const (
	// AdjustmentLogCap bounds the adjustment log to the last N entries.
	AdjustmentLogCap = 100

	// AuditLogCap bounds the privacy audit log. Oldest-entry eviction keeps
	// writes cheap under load without silently dropping new entries.
	AuditLogCap = 10000
)
