package etl

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/staywise/dwh-pipeline/internal/schema"
	"github.com/staywise/dwh-pipeline/pkg/models"
)

// SurrogateKeyColumn is the generated dense integer key carried by every
// dimension table.
const SurrogateKeyColumn = "surrogate_key"

// TableWriter is the warehouse boundary: each table is committed by full
// replacement of its previous materialization.
type TableWriter interface {
	Replace(ctx context.Context, table string, columns []string, rows []models.Record) error
}

// Dimension is one materialized dimension table plus its natural-key to
// surrogate-key index used for fact rewriting.
type Dimension struct {
	Rule    models.DimensionRule
	Columns []string
	Rows    []models.Record
	Index   map[string]int64
}

// IntegrityError records a fact row whose business key resolved to no
// dimension row. The fact build continues; the defect is reported.
type IntegrityError struct {
	Table  string
	Column string
	Row    int
	Key    string
}

func (e IntegrityError) Error() string {
	return fmt.Sprintf("fact %s row %d: no %s dimension row for key %q", e.Table, e.Row, e.Column, e.Key)
}

// TableResult reports one table's materialization for the run report.
type TableResult struct {
	Table     string              `json:"table"`
	Rows      int                 `json:"rows"`
	Written   bool                `json:"written"`
	Integrity []IntegrityError    `json:"integrity_errors,omitempty"`
	TypeDrift []schema.TableError `json:"type_drift,omitempty"`
	Err       string              `json:"error,omitempty"`
}

// Materializer turns a dataset's current slice into dimension tables with
// dense surrogate keys and a fact table rewritten against them.
type Materializer struct {
	Writer TableWriter
	Log    *zap.Logger
}

// Materialize builds every declared dimension, then the fact table, runs
// the independent aggregate schema pass, and commits each passing table
// by overwrite. A failed table is reported and skipped without stopping
// the others.
func (m *Materializer) Materialize(ctx context.Context, ds *models.DatasetDescriptor, slice []models.Record) []TableResult {
	var results []TableResult
	dims := make([]*Dimension, 0, len(ds.Dimensions))

	for _, rule := range ds.Dimensions {
		dim, err := BuildDimension(slice, rule)
		if err != nil {
			results = append(results, TableResult{Table: rule.Table, Err: err.Error()})
			continue
		}
		dims = append(dims, dim)
		results = append(results, m.commitDimension(ctx, ds, dim))
	}

	if ds.Fact {
		results = append(results, m.commitFact(ctx, ds, slice, dims))
	}
	return results
}

func (m *Materializer) commitDimension(ctx context.Context, ds *models.DatasetDescriptor, dim *Dimension) TableResult {
	res := TableResult{Table: dim.Rule.Table, Rows: len(dim.Rows)}

	res.TypeDrift = schema.EnforceTable(dim.Rule.Table, dim.Rows, dimensionColumns(ds, dim.Rule))
	if len(res.TypeDrift) > 0 {
		res.Err = fmt.Sprintf("%d type drift findings, table not committed", len(res.TypeDrift))
		return res
	}

	if err := m.Writer.Replace(ctx, dim.Rule.Table, dim.Columns, dim.Rows); err != nil {
		res.Err = err.Error()
		return res
	}
	res.Written = true
	m.Log.Info("dimension table replaced",
		zap.String("table", dim.Rule.Table), zap.Int("rows", len(dim.Rows)))
	return res
}

func (m *Materializer) commitFact(ctx context.Context, ds *models.DatasetDescriptor, slice []models.Record, dims []*Dimension) TableResult {
	rows, columns, integrity := BuildFact(ds, slice, dims)
	res := TableResult{Table: ds.FactTable, Rows: len(rows), Integrity: integrity}

	res.TypeDrift = schema.EnforceTable(ds.FactTable, rows, factColumns(ds))
	if len(res.TypeDrift) > 0 {
		res.Err = fmt.Sprintf("%d type drift findings, table not committed", len(res.TypeDrift))
		return res
	}

	if err := m.Writer.Replace(ctx, ds.FactTable, columns, rows); err != nil {
		res.Err = err.Error()
		return res
	}
	res.Written = true
	m.Log.Info("fact table replaced",
		zap.String("table", ds.FactTable),
		zap.Int("rows", len(rows)),
		zap.Int("integrity_errors", len(integrity)))
	return res
}

// BuildDimension assembles one dimension's row set. Surrogate keys are
// assigned densely from 1 in first-seen order of the natural key.
func BuildDimension(slice []models.Record, rule models.DimensionRule) (*Dimension, error) {
	switch rule.Kind {
	case "distinct":
		return buildDistinctDimension(slice, rule)
	case "calendar":
		return buildCalendarDimension(slice, rule)
	default:
		return nil, fmt.Errorf("dimension %s: unknown kind %q", rule.Table, rule.Kind)
	}
}

func buildDistinctDimension(slice []models.Record, rule models.DimensionRule) (*Dimension, error) {
	if rule.NaturalKey == "" {
		return nil, fmt.Errorf("dimension %s: natural_key is required", rule.Table)
	}
	dim := &Dimension{
		Rule:    rule,
		Columns: append([]string{SurrogateKeyColumn, rule.NaturalKey}, rule.Attributes...),
		Index:   make(map[string]int64),
	}
	for _, rec := range slice {
		nk := rec[rule.NaturalKey]
		if nk == nil {
			continue
		}
		key := canonical(nk)
		if _, seen := dim.Index[key]; seen {
			continue
		}
		sk := int64(len(dim.Rows) + 1)
		dim.Index[key] = sk

		row := models.Record{SurrogateKeyColumn: sk, rule.NaturalKey: nk}
		for _, attr := range rule.Attributes {
			row[attr] = rec[attr]
		}
		dim.Rows = append(dim.Rows, row)
	}
	return dim, nil
}

// buildCalendarDimension generates one row per day spanning the min of
// FromField to the max of ToField across the slice.
func buildCalendarDimension(slice []models.Record, rule models.DimensionRule) (*Dimension, error) {
	if rule.FromField == "" || rule.ToField == "" {
		return nil, fmt.Errorf("dimension %s: from_field and to_field are required", rule.Table)
	}

	var minDay, maxDay time.Time
	for _, rec := range slice {
		if t, ok := rec[rule.FromField].(time.Time); ok {
			if minDay.IsZero() || t.Before(minDay) {
				minDay = t
			}
		}
		if t, ok := rec[rule.ToField].(time.Time); ok {
			if maxDay.IsZero() || t.After(maxDay) {
				maxDay = t
			}
		}
	}

	dim := &Dimension{
		Rule:    rule,
		Columns: calendarColumnNames(),
		Index:   make(map[string]int64),
	}
	if minDay.IsZero() || maxDay.IsZero() {
		return dim, nil
	}

	minDay = truncateDay(minDay)
	maxDay = truncateDay(maxDay)
	for day := minDay; !day.After(maxDay); day = day.AddDate(0, 0, 1) {
		sk := int64(len(dim.Rows) + 1)
		row := calendarRow(day)
		row[SurrogateKeyColumn] = sk
		dim.Index[canonical(row["date_key"])] = sk
		dim.Rows = append(dim.Rows, row)
	}
	return dim, nil
}

// BuildFact projects the primary key, measures and foreign keys out of
// the current slice, substituting each business key with its dimension
// surrogate key. An unresolved key leaves the surrogate null and records
// an integrity error; the rest of the table still builds.
func BuildFact(ds *models.DatasetDescriptor, slice []models.Record, dims []*Dimension) ([]models.Record, []string, []IntegrityError) {
	columns := factColumnNames(ds)
	var integrity []IntegrityError

	rows := make([]models.Record, 0, len(slice))
	for i, rec := range slice {
		row := models.Record{ds.PrimaryKey: rec[ds.PrimaryKey]}
		for _, measure := range ds.Measures {
			row[measure] = rec[measure]
		}
		for _, dim := range dims {
			if dim.Rule.FactKey == "" {
				continue
			}
			nk := rec[dim.Rule.NaturalKey]
			if nk == nil {
				row[dim.Rule.FactKey] = nil
				continue
			}
			sk, ok := dim.Index[canonical(nk)]
			if !ok {
				row[dim.Rule.FactKey] = nil
				integrity = append(integrity, IntegrityError{
					Table:  ds.FactTable,
					Column: dim.Rule.FactKey,
					Row:    i,
					Key:    canonical(nk),
				})
				continue
			}
			row[dim.Rule.FactKey] = sk
		}
		rows = append(rows, row)
	}
	return rows, columns, integrity
}

func factColumnNames(ds *models.DatasetDescriptor) []string {
	columns := []string{ds.PrimaryKey}
	columns = append(columns, ds.Measures...)
	for _, rule := range ds.Dimensions {
		if rule.FactKey != "" {
			columns = append(columns, rule.FactKey)
		}
	}
	return columns
}

func factColumns(ds *models.DatasetDescriptor) []schema.ColumnSpec {
	cols := []schema.ColumnSpec{typedColumn(ds, ds.PrimaryKey)}
	for _, measure := range ds.Measures {
		cols = append(cols, typedColumn(ds, measure))
	}
	// Surrogate keys are nullable ints: an unresolved business key is an
	// integrity error, not type drift.
	for _, rule := range ds.Dimensions {
		if rule.FactKey != "" {
			cols = append(cols, schema.ColumnSpec{Name: rule.FactKey, Type: models.TypeInt})
		}
	}
	return cols
}

func dimensionColumns(ds *models.DatasetDescriptor, rule models.DimensionRule) []schema.ColumnSpec {
	if rule.Kind == "calendar" {
		return calendarColumns()
	}
	cols := []schema.ColumnSpec{
		{Name: SurrogateKeyColumn, Type: models.TypeInt},
		typedColumn(ds, rule.NaturalKey),
	}
	for _, attr := range rule.Attributes {
		cols = append(cols, typedColumn(ds, attr))
	}
	return cols
}

func typedColumn(ds *models.DatasetDescriptor, field string) schema.ColumnSpec {
	if spec := ds.Field(field); spec != nil {
		return schema.ColumnSpec{Name: field, Type: spec.Type}
	}
	return schema.ColumnSpec{Name: field, Type: models.TypeString}
}
