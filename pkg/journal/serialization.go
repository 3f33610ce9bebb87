package journal

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis storage
//
// Experiment and indicator snapshots are stored as Redis hashes so individual
// fields stay queryable; complex fields (variants) are JSON-encoded into a
// single hash field. Log entries (adjustments, audit) are stored as JSON
// strings in Redis lists, newest first.

// ExperimentToHash converts an ExperimentSnapshot to a Redis hash format.
// The variants array is JSON-encoded.
func ExperimentToHash(e *ExperimentSnapshot) (map[string]interface{}, error) {
	variantsJSON, err := json.Marshal(e.Variants)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal variants: %w", err)
	}

	hash := map[string]interface{}{
		"id":              e.ID,
		"name":            e.Name,
		"type":            e.Type,
		"status":          string(e.Status),
		"rollout_percent": strconv.FormatFloat(e.RolloutPercent, 'g', -1, 64),
		"variants":        string(variantsJSON),
		"rollback_reason": e.RollbackReason,
		"started_at_ms":   e.StartedAtMs,
		"ended_at_ms":     e.EndedAtMs,
	}

	return hash, nil
}

// HashToExperiment converts a Redis hash to an ExperimentSnapshot.
func HashToExperiment(hash map[string]string) (*ExperimentSnapshot, error) {
	rollout, err := strconv.ParseFloat(hash["rollout_percent"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid rollout_percent field: %w", err)
	}

	var variants []VariantSnapshot
	if variantsJSON := hash["variants"]; variantsJSON != "" {
		if err := json.Unmarshal([]byte(variantsJSON), &variants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variants: %w", err)
		}
	}
	if variants == nil {
		variants = []VariantSnapshot{}
	}

	startedAtMs, _ := strconv.ParseInt(hash["started_at_ms"], 10, 64)
	endedAtMs, _ := strconv.ParseInt(hash["ended_at_ms"], 10, 64)

	return &ExperimentSnapshot{
		ID:             hash["id"],
		Name:           hash["name"],
		Type:           hash["type"],
		Status:         ExperimentStatus(hash["status"]),
		RolloutPercent: rollout,
		Variants:       variants,
		RollbackReason: hash["rollback_reason"],
		StartedAtMs:    startedAtMs,
		EndedAtMs:      endedAtMs,
	}, nil
}

// IndicatorToHash converts an IndicatorSnapshot to a Redis hash format.
func IndicatorToHash(s *IndicatorSnapshot) map[string]interface{} {
	return map[string]interface{}{
		"name":          s.Name,
		"value":         strconv.FormatFloat(s.Value, 'g', -1, 64),
		"target":        strconv.FormatFloat(s.Target, 'g', -1, 64),
		"tolerance":     strconv.FormatFloat(s.Tolerance, 'g', -1, 64),
		"trend":         s.Trend,
		"alert":         s.Alert,
		"updated_at_ms": s.UpdatedAtMs,
	}
}

// HashToIndicator converts a Redis hash to an IndicatorSnapshot.
func HashToIndicator(hash map[string]string) (*IndicatorSnapshot, error) {
	value, err := strconv.ParseFloat(hash["value"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid value field: %w", err)
	}
	target, err := strconv.ParseFloat(hash["target"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid target field: %w", err)
	}
	tolerance, err := strconv.ParseFloat(hash["tolerance"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid tolerance field: %w", err)
	}
	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	return &IndicatorSnapshot{
		Name:        hash["name"],
		Value:       value,
		Target:      target,
		Tolerance:   tolerance,
		Trend:       hash["trend"],
		Alert:       hash["alert"],
		UpdatedAtMs: updatedAtMs,
	}, nil
}

// MarshalAdjustment encodes an AdjustmentEntry as a JSON list element.
func MarshalAdjustment(a *AdjustmentEntry) (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to marshal adjustment entry: %w", err)
	}
	return string(data), nil
}

// UnmarshalAdjustment decodes a JSON list element into an AdjustmentEntry.
func UnmarshalAdjustment(data string) (*AdjustmentEntry, error) {
	var entry AdjustmentEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal adjustment entry: %w", err)
	}
	if entry.Triggered == nil {
		entry.Triggered = []string{}
	}
	return &entry, nil
}

// MarshalAudit encodes an AuditEntry as a JSON list element.
func MarshalAudit(a *AuditEntry) (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	return string(data), nil
}

// UnmarshalAudit decodes a JSON list element into an AuditEntry.
func UnmarshalAudit(data string) (*AuditEntry, error) {
	var entry AuditEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audit entry: %w", err)
	}
	return &entry, nil
}
