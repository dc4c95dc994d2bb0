// Package warehouse writes materialized star-schema tables into SQL
// Server. Every table commit is a transactional full replacement: the
// warehouse holds only the current analytic state, history lives in
// snapshots.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Writer satisfies the materializer's TableWriter contract.
type Writer struct {
	DB *sql.DB
}

func NewWriter(db *sql.DB) *Writer {
	return &Writer{DB: db}
}

// Replace deletes the table's previous rows and inserts the new set in
// one transaction, so readers never observe a half-replaced table.
func (w *Writer) Replace(ctx context.Context, table string, columns []string, rows []map[string]interface{}) error {
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace %s: begin: %w", table, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
		return fmt.Errorf("replace %s: clear: %w", table, err)
	}

	if len(rows) > 0 {
		placeholders := make([]string, len(columns))
		for i := range columns {
			placeholders[i] = fmt.Sprintf("@p%d", i+1)
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("replace %s: prepare: %w", table, err)
		}
		defer stmt.Close()

		for _, row := range rows {
			args := make([]interface{}, len(columns))
			for i, col := range columns {
				args[i] = sqlValue(row[col])
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("replace %s: insert: %w", table, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace %s: commit: %w", table, err)
	}
	return nil
}

// sqlValue maps pipeline values onto driver-friendly ones.
func sqlValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.UTC()
	default:
		return val
	}
}
