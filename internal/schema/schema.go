// Package schema implements the data-driven type table behind the
// quality gate and the warehouse enforcement pass. A dataset schema is a
// list of FieldSpec entries; validation yields a result, never a panic.
package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/staywise/dwh-pipeline/pkg/models"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// Coerce converts a raw value toward the spec's type where the intent is
// unambiguous. It is best-effort: on failure the original value is
// returned with an error and strict validation decides the record's fate.
func Coerce(val interface{}, spec models.FieldSpec) (interface{}, error) {
	if val == nil {
		return nil, nil
	}
	switch spec.Type {
	case models.TypeInt:
		return toInt64(val)
	case models.TypeFloat:
		return toFloat64(val)
	case models.TypeString:
		switch v := val.(type) {
		case string:
			return v, nil
		case float64, int, int64, bool:
			return fmt.Sprintf("%v", v), nil
		default:
			return val, fmt.Errorf("cannot coerce %T to string", val)
		}
	case models.TypeBool:
		if b, ok := val.(bool); ok {
			return b, nil
		}
		return val, fmt.Errorf("cannot coerce %T to bool", val)
	case models.TypeDate:
		return toDate(val)
	case models.TypeDateTime:
		return toDateTime(val)
	default:
		return val, fmt.Errorf("unknown field type %q", spec.Type)
	}
}

// Check strictly verifies a normalized value against the spec. Unlike
// Coerce it never converts; a mismatch is a validation failure.
func Check(val interface{}, spec models.FieldSpec) error {
	if val == nil {
		if spec.Required {
			return fmt.Errorf("field %q: required but missing", spec.Name)
		}
		return nil
	}
	switch spec.Type {
	case models.TypeInt:
		if _, ok := val.(int64); !ok {
			return fmt.Errorf("field %q: expected int, got %T", spec.Name, val)
		}
	case models.TypeFloat:
		if _, ok := val.(float64); !ok {
			return fmt.Errorf("field %q: expected float, got %T", spec.Name, val)
		}
	case models.TypeString:
		if _, ok := val.(string); !ok {
			return fmt.Errorf("field %q: expected string, got %T", spec.Name, val)
		}
	case models.TypeBool:
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("field %q: expected bool, got %T", spec.Name, val)
		}
	case models.TypeDate, models.TypeDateTime:
		if _, ok := val.(time.Time); !ok {
			return fmt.Errorf("field %q: expected %s, got %T", spec.Name, spec.Type, val)
		}
	default:
		return fmt.Errorf("field %q: unknown type %q", spec.Name, spec.Type)
	}
	return nil
}

// Validate runs Check over every schema field of a normalized record and
// collects all failures into one human-readable message. An empty string
// means the record is clean.
func Validate(rec models.Record, fields []models.FieldSpec) string {
	var problems []string
	for _, spec := range fields {
		if err := Check(rec[spec.Name], spec); err != nil {
			problems = append(problems, err.Error())
		}
	}
	return strings.Join(problems, "; ")
}

func toInt64(val interface{}) (interface{}, error) {
	switch v := val.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return val, fmt.Errorf("non-integral value %v", v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return val, fmt.Errorf("cannot parse %q as int", v)
		}
		return n, nil
	default:
		return val, fmt.Errorf("cannot coerce %T to int", val)
	}
}

func toFloat64(val interface{}) (interface{}, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return val, fmt.Errorf("cannot parse %q as float", v)
		}
		return f, nil
	default:
		return val, fmt.Errorf("cannot coerce %T to float", val)
	}
}

func toDate(val interface{}) (interface{}, error) {
	switch v := val.(type) {
	case time.Time:
		return time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC), nil
	case string:
		t, err := time.Parse(dateLayout, strings.TrimSpace(v))
		if err != nil {
			return val, fmt.Errorf("cannot parse %q as date", v)
		}
		return t, nil
	default:
		return val, fmt.Errorf("cannot coerce %T to date", val)
	}
}

func toDateTime(val interface{}) (interface{}, error) {
	switch v := val.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range []string{time.RFC3339, time.RFC3339Nano, dateTimeLayout, dateLayout} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return val, fmt.Errorf("cannot parse %q as datetime", v)
	default:
		return val, fmt.Errorf("cannot coerce %T to datetime", val)
	}
}
