// Package notify renders the run report into a plain-text summary for an
// external notifier. The pipeline core hands the report over and stops;
// delivery (email, chat, whatever) is the notifier's problem.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/staywise/dwh-pipeline/internal/etl"
)

// Notifier delivers a rendered run summary somewhere.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}

// LogNotifier writes the summary to the process log. It is the default
// when no delivery channel is configured.
type LogNotifier struct {
	Log *zap.Logger
}

func (n *LogNotifier) Send(_ context.Context, subject, body string) error {
	n.Log.Info("run summary", zap.String("subject", subject), zap.String("body", body))
	return nil
}

// RenderSummary formats the per-stage structured results into the text
// body handed to the notifier.
func RenderSummary(report *etl.RunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pipeline run %s (%s)\n", report.RunID, report.ExecutionDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "Duration: %s\n\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Second))

	fmt.Fprintf(&b, "Extraction: %d fetches, %d failed, %d records quarantined\n",
		len(report.Extractions), report.FailedBranches(), report.QuarantinedTotal())
	for _, e := range report.Extractions {
		if e.Status == etl.StatusError {
			fmt.Fprintf(&b, "  FAILED %s branch %d: %s\n", e.Dataset, e.BranchID, e.Error)
		}
	}

	fmt.Fprintf(&b, "\nSnapshots:\n")
	for _, s := range report.Snapshots {
		switch s.Status {
		case etl.StatusSuccess:
			fmt.Fprintf(&b, "  %s branch %d: %d new, %d changed, %d unchanged, %d carried\n",
				s.Dataset, s.BranchID, s.Stats.New, s.Stats.Changed, s.Stats.Unchanged, s.Stats.Carried)
		case etl.StatusSkipped:
			fmt.Fprintf(&b, "  %s branch %d: skipped (no staging data)\n", s.Dataset, s.BranchID)
		default:
			fmt.Fprintf(&b, "  %s branch %d: FAILED: %s\n", s.Dataset, s.BranchID, s.Error)
		}
	}

	fmt.Fprintf(&b, "\nWarehouse tables:\n")
	for _, t := range report.Tables {
		if t.Written {
			fmt.Fprintf(&b, "  %s: %d rows", t.Table, t.Rows)
			if n := len(t.Integrity); n > 0 {
				fmt.Fprintf(&b, " (%d integrity errors)", n)
			}
			b.WriteString("\n")
			continue
		}
		fmt.Fprintf(&b, "  %s: NOT WRITTEN: %s\n", t.Table, t.Err)
	}

	if len(report.DatasetErrors) > 0 {
		fmt.Fprintf(&b, "\nDataset failures:\n")
		for name, msg := range report.DatasetErrors {
			fmt.Fprintf(&b, "  %s: %s\n", name, msg)
		}
	}
	return b.String()
}
