package models

// Record is the universal row shape flowing through the pipeline. Raw
// records arrive as parsed JSON objects; clean records carry values
// matching the dataset schema exactly.
type Record = map[string]interface{}

// Metadata fields attached by the pipeline. They live alongside business
// fields in staging entries and historical records, and are excluded from
// change comparison.
const (
	FieldExtractedAt = "extracted_at"
	FieldBranchID    = "branch_id"
	FieldValidFrom   = "valid_from"
	FieldValidTo     = "valid_to"
	FieldIsCurrent   = "is_current"
)

// QuarantinedRecord pairs the original, unmodified raw record with the
// validation error that sent it to quarantine. The raw record is kept
// exactly as the source returned it so the audit trail reflects reality,
// not the partially-cleaned form.
type QuarantinedRecord struct {
	Raw   Record `json:"raw" bson:"raw"`
	Error string `json:"validation_error" bson:"validation_error"`
}

// CloneRecord returns a shallow copy. Stages that tag records with
// metadata copy first so upstream slices are never mutated.
func CloneRecord(r Record) Record {
	out := make(Record, len(r)+3)
	for k, v := range r {
		out[k] = v
	}
	return out
}
