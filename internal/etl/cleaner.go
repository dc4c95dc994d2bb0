package etl

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/staywise/dwh-pipeline/internal/schema"
	"github.com/staywise/dwh-pipeline/pkg/models"
)

var dateShape = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// GateResult partitions one batch of raw records into the clean set and
// the quarantine set. Every input record lands in exactly one of the two.
type GateResult struct {
	Clean      []models.Record
	Quarantine []models.QuarantinedRecord
}

// ProcessRecords is the two-stage quality gate: deterministic schema-aware
// normalization followed by strict validation. Records are independent;
// a failure is data routed to quarantine, never an error. Quarantined
// records keep the original raw form so the audit trail shows what the
// source actually sent.
func ProcessRecords(raws []models.Record, ds *models.DatasetDescriptor) GateResult {
	result := GateResult{}
	for _, raw := range raws {
		cleaned := normalizeRecord(raw, ds.Schema)
		if msg := schema.Validate(cleaned, ds.Schema); msg != "" {
			result.Quarantine = append(result.Quarantine, models.QuarantinedRecord{
				Raw:   raw,
				Error: msg,
			})
			continue
		}
		result.Clean = append(result.Clean, cleaned)
	}
	return result
}

// normalizeRecord builds a fresh record holding one normalized value per
// schema field. The raw record is never mutated.
func normalizeRecord(raw models.Record, fields []models.FieldSpec) models.Record {
	out := make(models.Record, len(fields))
	for _, spec := range fields {
		out[spec.Name] = normalizeValue(raw, spec)
	}
	return out
}

func normalizeValue(raw models.Record, spec models.FieldSpec) interface{} {
	val := resolveSource(raw, spec)

	// The source API encodes "absent" as boolean false for optional
	// non-bool fields.
	if val == false && spec.Type != models.TypeBool {
		val = nil
	}

	// [id, label] pairs stand in for bare foreign keys.
	if spec.ReducePair {
		if pair, ok := val.([]interface{}); ok {
			if len(pair) == 0 {
				val = nil
			} else {
				val = pair[0]
			}
		}
	}

	// Structured values destined for a scalar string column are kept as
	// their JSON encoding.
	if spec.EncodeJSON && spec.Type == models.TypeString {
		switch val.(type) {
		case []interface{}, map[string]interface{}:
			if b, err := json.Marshal(val); err == nil {
				val = string(b)
			}
		}
	}

	// A date field holding something that is not date-shaped is treated
	// as absent rather than failing the whole record.
	if spec.Type == models.TypeDate {
		if s, ok := val.(string); ok && !dateShape.MatchString(s) {
			val = nil
		}
	}

	if spec.Required && (val == nil || val == "") && spec.Default != nil {
		val = spec.Default
	}

	coerced, err := schema.Coerce(val, spec)
	if err != nil {
		// Leave the original value in place; strict validation reports it.
		return val
	}
	return coerced
}

// resolveSource picks the raw value for a field, following an explicit
// dotted source path first, then the field name itself, then the
// parent_child convention for flattened nested objects.
func resolveSource(raw models.Record, spec models.FieldSpec) interface{} {
	if spec.Source != "" {
		return lookupPath(raw, spec.Source)
	}
	if val, ok := raw[spec.Name]; ok {
		return val
	}
	if idx := strings.Index(spec.Name, "_"); idx > 0 {
		parent, child := spec.Name[:idx], spec.Name[idx+1:]
		if nested, ok := raw[parent].(map[string]interface{}); ok {
			return nested[child]
		}
	}
	return nil
}

func lookupPath(raw models.Record, path string) interface{} {
	var cur interface{} = map[string]interface{}(raw)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}
