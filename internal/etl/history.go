package etl

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/staywise/dwh-pipeline/pkg/models"
)

// HistoryStats summarizes one snapshot build for the run report.
type HistoryStats struct {
	Input     int `json:"input_records"`
	Output    int `json:"output_records"`
	New       int `json:"new_records"`
	Changed   int `json:"changed_records"`
	Unchanged int `json:"unchanged_records"`

	// Carried counts current records whose key was absent from staging.
	// Absence is not deletion: the engine has no delete detection and
	// carries the open record forward untouched.
	Carried int `json:"carried_records"`
}

// BuildSnapshot diffs the deduplicated staging state against yesterday's
// snapshot and emits today's. It is a pure function of its inputs: the
// prior snapshot is read-only and a fresh record set is returned, so a
// cancelled run can never leave a half-mutated artifact behind.
//
// prior may be nil on a dataset's first ever run.
func BuildSnapshot(staging, prior []models.Record, ds *models.DatasetDescriptor, runTS time.Time) ([]models.Record, HistoryStats, error) {
	stats := HistoryStats{}

	state, err := latestStagingState(staging, ds.PrimaryKey)
	if err != nil {
		return nil, stats, err
	}
	stats.Input = len(state.order)

	tracked := ds.TrackedFields()
	snapshot := make([]models.Record, 0, len(prior)+len(state.order))
	currentSeen := make(map[string]bool, len(prior))

	for _, rec := range prior {
		key, err := recordKey(rec, ds.PrimaryKey)
		if err != nil {
			return nil, stats, fmt.Errorf("prior snapshot: %w", err)
		}

		if !isCurrent(rec) {
			// Closed intervals are history; copied forward untouched.
			snapshot = append(snapshot, models.CloneRecord(rec))
			continue
		}
		if currentSeen[key] {
			return nil, stats, fmt.Errorf("prior snapshot: duplicate open interval for key %s", key)
		}
		currentSeen[key] = true

		incoming, ok := state.byKey[key]
		if !ok {
			// Key stopped appearing in staging. Carry the open record
			// forward; deletion semantics are deliberately absent.
			snapshot = append(snapshot, models.CloneRecord(rec))
			stats.Carried++
			continue
		}

		if fingerprint(rec, tracked) == fingerprint(incoming, tracked) {
			snapshot = append(snapshot, models.CloneRecord(rec))
			stats.Unchanged++
			continue
		}

		// Changed: close the prior interval, open a new one.
		closed := models.CloneRecord(rec)
		closed[models.FieldValidTo] = runTS
		closed[models.FieldIsCurrent] = false
		snapshot = append(snapshot, closed, openRecord(incoming, runTS))
		stats.Changed++
	}

	for _, key := range state.order {
		if currentSeen[key] {
			continue
		}
		snapshot = append(snapshot, openRecord(state.byKey[key], runTS))
		stats.New++
	}

	stats.Output = len(snapshot)
	return snapshot, stats, nil
}

// openRecord builds a new open SCD2 interval from a staging value.
func openRecord(staged models.Record, runTS time.Time) models.Record {
	rec := models.CloneRecord(staged)
	delete(rec, models.FieldExtractedAt)
	rec[models.FieldValidFrom] = runTS
	rec[models.FieldValidTo] = nil
	rec[models.FieldIsCurrent] = true
	return rec
}

// CurrentSlice filters a snapshot to its open records, the "as of now"
// analytic state consumed by the materializer.
func CurrentSlice(snapshot []models.Record) []models.Record {
	out := make([]models.Record, 0, len(snapshot))
	for _, rec := range snapshot {
		if isCurrent(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func isCurrent(rec models.Record) bool {
	cur, _ := rec[models.FieldIsCurrent].(bool)
	return cur
}

type stagingState struct {
	byKey map[string]models.Record
	order []string // first-appearance order, for deterministic output
}

// latestStagingState deduplicates staging entries per primary key,
// keeping the most recently extracted value. Overlapping extraction
// windows make duplicates expected, not exceptional.
func latestStagingState(staging []models.Record, primaryKey string) (stagingState, error) {
	state := stagingState{byKey: make(map[string]models.Record, len(staging))}
	for _, rec := range staging {
		key, err := recordKey(rec, primaryKey)
		if err != nil {
			return state, fmt.Errorf("staging: %w", err)
		}
		existing, ok := state.byKey[key]
		if !ok {
			state.byKey[key] = rec
			state.order = append(state.order, key)
			continue
		}
		if extractedAt(rec).After(extractedAt(existing)) {
			state.byKey[key] = rec
		}
	}
	return state, nil
}

func extractedAt(rec models.Record) time.Time {
	if t, ok := rec[models.FieldExtractedAt].(time.Time); ok {
		return t
	}
	return time.Time{}
}

func recordKey(rec models.Record, primaryKey string) (string, error) {
	val, ok := rec[primaryKey]
	if !ok || val == nil {
		return "", fmt.Errorf("record missing primary key %q", primaryKey)
	}
	return canonical(val), nil
}

// fingerprint folds the tracked comparison fields into one comparable
// string. Volatile bookkeeping fields (extraction timestamps, SCD2
// metadata) are never part of the tracked set.
func fingerprint(rec models.Record, tracked []string) string {
	parts := make([]string, 0, len(tracked))
	sorted := append([]string(nil), tracked...)
	sort.Strings(sorted)
	for _, field := range sorted {
		parts = append(parts, field+"="+canonical(rec[field]))
	}
	b, _ := json.Marshal(parts)
	return string(b)
}

// canonical renders a value into a stable comparison form across the
// Go types a field can legally hold after normalization.
func canonical(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return ""
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case float64:
		return fmt.Sprintf("%g", v)
	case float32:
		return fmt.Sprintf("%g", float64(v))
	case int:
		return fmt.Sprintf("%d", v)
	case int32:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case string:
		return v
	case bool:
		return fmt.Sprintf("%t", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
