package etl

import (
	"time"
)

// StageStatus values used across the run report.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// ExtractionReport covers one (dataset, branch) fetch.
type ExtractionReport struct {
	Dataset     string        `json:"dataset"`
	BranchID    int           `json:"branch_id"`
	Status      string        `json:"status"`
	Records     int           `json:"records"`
	Quarantined int           `json:"quarantined"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// SnapshotReport covers one (dataset, branch) snapshot build.
type SnapshotReport struct {
	Dataset  string       `json:"dataset"`
	BranchID int          `json:"branch_id"`
	Status   string       `json:"status"`
	Stats    HistoryStats `json:"stats"`
	Error    string       `json:"error,omitempty"`
}

// RunReport is the accumulator threaded through every stage and handed to
// the reporting collaborator at the end of the run. The core never
// performs user-facing messaging itself.
type RunReport struct {
	RunID         string             `json:"run_id"`
	ExecutionDate time.Time          `json:"execution_date"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at"`
	Extractions   []ExtractionReport `json:"extractions"`
	Snapshots     []SnapshotReport   `json:"snapshots"`
	Tables        []TableResult      `json:"tables"`
	DatasetErrors map[string]string  `json:"dataset_errors,omitempty"`
}

// NewRunReport starts an empty accumulator for one run.
func NewRunReport(runID string, executionDate, startedAt time.Time) *RunReport {
	return &RunReport{
		RunID:         runID,
		ExecutionDate: executionDate,
		StartedAt:     startedAt,
		DatasetErrors: make(map[string]string),
	}
}

func (r *RunReport) AddExtraction(e ExtractionReport) { r.Extractions = append(r.Extractions, e) }
func (r *RunReport) AddSnapshot(s SnapshotReport)     { r.Snapshots = append(r.Snapshots, s) }
func (r *RunReport) AddTables(t []TableResult)        { r.Tables = append(r.Tables, t...) }

// FailDataset records a sequencing or other dataset-fatal fault. The
// dataset's run stops; siblings continue.
func (r *RunReport) FailDataset(dataset string, err error) {
	r.DatasetErrors[dataset] = err.Error()
}

// FailedBranches counts extraction failures across the run.
func (r *RunReport) FailedBranches() int {
	n := 0
	for _, e := range r.Extractions {
		if e.Status == StatusError {
			n++
		}
	}
	return n
}

// QuarantinedTotal sums quarantine counts across the run.
func (r *RunReport) QuarantinedTotal() int {
	n := 0
	for _, e := range r.Extractions {
		n += e.Quarantined
	}
	return n
}

// IntegrityTotal sums cross-reference defects found by the materializer.
func (r *RunReport) IntegrityTotal() int {
	n := 0
	for _, t := range r.Tables {
		n += len(t.Integrity)
	}
	return n
}
