// Package models holds the declarative dataset configuration and the
// record-level types shared by every pipeline stage.
package models

// FieldType enumerates the scalar types the schema validator understands.
type FieldType string

const (
	TypeInt      FieldType = "int"
	TypeFloat    FieldType = "float"
	TypeString   FieldType = "string"
	TypeBool     FieldType = "bool"
	TypeDate     FieldType = "date"     // calendar date, YYYY-MM-DD
	TypeDateTime FieldType = "datetime" // timestamp, RFC3339 or "2006-01-02 15:04:05"
)

// FieldSpec describes one column of a dataset schema. The cleaner uses it
// to normalize raw values, the validator to enforce types strictly.
type FieldSpec struct {
	Name     string      `yaml:"name"`
	Type     FieldType   `yaml:"type"`
	Required bool        `yaml:"required"`
	Default  interface{} `yaml:"default,omitempty"`

	// Source is an optional dotted path into the raw record, e.g.
	// "pricelist.id" when the value sits inside a nested object.
	Source string `yaml:"source,omitempty"`

	// ReducePair takes a source API "[id, label]" pair and keeps the id.
	ReducePair bool `yaml:"reduce_pair,omitempty"`

	// EncodeJSON serializes structured values (lists, objects) into a
	// JSON string when the target type is string.
	EncodeJSON bool `yaml:"encode_json,omitempty"`
}

// DimensionRule declares how the materializer derives one dimension table
// from a dataset's current slice.
type DimensionRule struct {
	Table string `yaml:"table"`

	// Kind is "distinct" (distinct values of NaturalKey) or "calendar"
	// (generated date dimension spanning FromField..ToField).
	Kind string `yaml:"kind"`

	NaturalKey string   `yaml:"natural_key,omitempty"`
	Attributes []string `yaml:"attributes,omitempty"`

	// FactKey is the fact-table column that receives this dimension's
	// surrogate key, replacing the business foreign key.
	FactKey string `yaml:"fact_key,omitempty"`

	FromField string `yaml:"from_field,omitempty"`
	ToField   string `yaml:"to_field,omitempty"`
}

// DatasetDescriptor is the single unit of pipeline configuration: one
// entry here means one dataset flowing through extraction, the quality
// gate, the snapshot engine and the materializer. Immutable after load.
type DatasetDescriptor struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`

	Paginated            bool `yaml:"paginated"`
	SharedAcrossBranches bool `yaml:"shared_across_branches"`

	// Incremental datasets fetch a trailing window anchored on
	// WindowField; non-incremental datasets fetch full current state.
	Incremental bool   `yaml:"incremental"`
	WindowField string `yaml:"window_field,omitempty"`
	WindowDays  int    `yaml:"window_days,omitempty"`

	BaseParams map[string]interface{} `yaml:"base_params,omitempty"`

	Schema     []FieldSpec `yaml:"schema"`
	PrimaryKey string      `yaml:"primary_key"`

	// CompareFields drive the SCD2 changed/unchanged classification.
	// Empty means every schema field is business-significant.
	CompareFields []string `yaml:"compare_fields,omitempty"`

	// Fact marks the dataset whose current slice becomes the fact table.
	Fact       bool            `yaml:"fact,omitempty"`
	FactTable  string          `yaml:"fact_table,omitempty"`
	Measures   []string        `yaml:"measures,omitempty"`
	Dimensions []DimensionRule `yaml:"dimensions,omitempty"`
}

// Field returns the spec for a named schema field, or nil.
func (d *DatasetDescriptor) Field(name string) *FieldSpec {
	for i := range d.Schema {
		if d.Schema[i].Name == name {
			return &d.Schema[i]
		}
	}
	return nil
}

// TrackedFields returns the comparison field set for the snapshot diff.
func (d *DatasetDescriptor) TrackedFields() []string {
	if len(d.CompareFields) > 0 {
		return d.CompareFields
	}
	fields := make([]string, 0, len(d.Schema))
	for _, f := range d.Schema {
		fields = append(fields, f.Name)
	}
	return fields
}
