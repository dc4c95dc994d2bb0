package schema

import (
	"fmt"

	"github.com/staywise/dwh-pipeline/pkg/models"
)

// ColumnSpec declares the expected type of one warehouse column.
type ColumnSpec struct {
	Name string
	Type models.FieldType
}

// TableError records a single type-drift finding from the aggregate pass.
type TableError struct {
	Table  string
	Column string
	Row    int
	Detail string
}

func (e TableError) Error() string {
	return fmt.Sprintf("table %s column %s row %d: %s", e.Table, e.Column, e.Row, e.Detail)
}

// EnforceTable runs the second, independent schema pass over an assembled
// warehouse table before its overwrite commits. It reuses the strict
// per-value Check, so a stray non-numeric value in a numeric column is
// surfaced here even if per-record validation missed it upstream. Nothing
// is coerced; every finding is reported.
func EnforceTable(table string, rows []models.Record, cols []ColumnSpec) []TableError {
	var errs []TableError
	for i, row := range rows {
		for _, col := range cols {
			spec := models.FieldSpec{Name: col.Name, Type: col.Type}
			if err := Check(row[col.Name], spec); err != nil {
				errs = append(errs, TableError{
					Table:  table,
					Column: col.Name,
					Row:    i,
					Detail: err.Error(),
				})
			}
		}
	}
	return errs
}
