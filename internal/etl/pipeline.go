package etl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/staywise/dwh-pipeline/pkg/models"
	"github.com/staywise/dwh-pipeline/pkg/storage"
)

// Pipeline runs the four stages for every declared dataset: extraction,
// quality gate, staging append, snapshot build, then the materializer
// barrier once all snapshots for the run are finalized.
type Pipeline struct {
	Datasets     []models.DatasetDescriptor
	Branches     []int
	Extractor    *Extractor
	Store        storage.Store
	Materializer *Materializer
	Log          *zap.Logger
	Now          func() time.Time

	locks partitionLocks
}

// Run executes the full pipeline. A dataset-fatal fault stops only that
// dataset; the others proceed, and the materializer runs over whatever
// snapshots were finalized.
func (p *Pipeline) Run(ctx context.Context, report *RunReport) error {
	for i := range p.Datasets {
		ds := &p.Datasets[i]
		if err := p.RunDataset(ctx, ds, report); err != nil {
			p.Log.Error("dataset run failed", zap.String("dataset", ds.Name), zap.Error(err))
			report.FailDataset(ds.Name, err)
		}
	}
	return p.MaterializeAll(ctx, report)
}

// RunDataset takes one dataset from extraction through today's snapshot.
func (p *Pipeline) RunDataset(ctx context.Context, ds *models.DatasetDescriptor, report *RunReport) error {
	day := report.ExecutionDate
	runTS := p.Now().UTC()

	started := time.Now()
	results := p.Extractor.Extract(ctx, ds, p.Branches)
	extractDuration := time.Since(started)

	cleanBranches := make([]int, 0, len(results))
	for _, bid := range sortedBranches(results) {
		res := results[bid]
		entry := ExtractionReport{
			Dataset:  ds.Name,
			BranchID: bid,
			Duration: extractDuration,
		}
		if res.Err != nil {
			entry.Status = StatusError
			entry.Error = res.Err.Error()
			report.AddExtraction(entry)
			continue
		}

		gate := ProcessRecords(res.Records, ds)
		entry.Status = StatusSuccess
		entry.Records = len(gate.Clean)
		entry.Quarantined = len(gate.Quarantine)

		if err := p.stageBranch(ctx, ds, bid, day, runTS, gate); err != nil {
			entry.Status = StatusError
			entry.Error = err.Error()
			report.AddExtraction(entry)
			continue
		}
		report.AddExtraction(entry)
		if len(gate.Clean) > 0 {
			cleanBranches = append(cleanBranches, bid)
		}
	}

	for _, bid := range cleanBranches {
		report.AddSnapshot(p.buildBranchSnapshot(ctx, ds, bid, day, runTS))
	}
	return nil
}

// stageBranch appends the gate output to the append-only staging log and
// the quarantine partition. History is never rewritten here.
func (p *Pipeline) stageBranch(ctx context.Context, ds *models.DatasetDescriptor, branchID int, day, runTS time.Time, gate GateResult) error {
	if len(gate.Clean) > 0 {
		entries := make([]models.Record, 0, len(gate.Clean))
		for _, rec := range gate.Clean {
			entry := models.CloneRecord(rec)
			entry[models.FieldExtractedAt] = runTS
			entry[models.FieldBranchID] = int64(branchID)
			entries = append(entries, entry)
		}
		if err := p.Store.Append(ctx, storage.StagingKey(ds.Name, branchID, day), entries); err != nil {
			return fmt.Errorf("stage %s branch %d: %w", ds.Name, branchID, err)
		}
	}

	if len(gate.Quarantine) > 0 {
		rows := make([]models.Record, 0, len(gate.Quarantine))
		for _, q := range gate.Quarantine {
			rows = append(rows, models.Record{
				"raw":                q.Raw,
				"validation_error":   q.Error,
				models.FieldBranchID: int64(branchID),
			})
		}
		if err := p.Store.Append(ctx, storage.QuarantineKey(ds.Name, day), rows); err != nil {
			return fmt.Errorf("quarantine %s branch %d: %w", ds.Name, branchID, err)
		}
	}
	return nil
}

// buildBranchSnapshot owns the (dataset, branch, day) partition for the
// duration of the build. A second builder for the same partition is a
// sequencing fault, fatal to that dataset-branch.
func (p *Pipeline) buildBranchSnapshot(ctx context.Context, ds *models.DatasetDescriptor, branchID int, day, runTS time.Time) SnapshotReport {
	rep := SnapshotReport{Dataset: ds.Name, BranchID: branchID}

	partition := storage.SnapshotKey(ds.Name, branchID, day)
	if !p.locks.acquire(partition) {
		rep.Status = StatusError
		rep.Error = fmt.Sprintf("concurrent snapshot build detected for %s", partition)
		return rep
	}
	defer p.locks.release(partition)

	staging, err := p.Store.Read(ctx, storage.StagingKey(ds.Name, branchID, day))
	if err != nil {
		rep.Status = StatusError
		rep.Error = err.Error()
		return rep
	}
	if len(staging) == 0 {
		rep.Status = StatusSkipped
		return rep
	}

	var prior []models.Record
	priorKey, err := storage.LatestSnapshotKey(ctx, p.Store, ds.Name, branchID, day)
	if err == nil && priorKey != "" {
		prior, err = p.Store.Read(ctx, priorKey)
	}
	if err != nil {
		rep.Status = StatusError
		rep.Error = err.Error()
		return rep
	}

	snapshot, stats, err := BuildSnapshot(staging, prior, ds, runTS)
	if err != nil {
		rep.Status = StatusError
		rep.Error = err.Error()
		return rep
	}

	// The snapshot becomes visible only once fully built; a cancelled
	// run leaves the prior day's artifact untouched.
	if err := p.Store.WriteReplace(ctx, partition, snapshot); err != nil {
		rep.Status = StatusError
		rep.Error = err.Error()
		return rep
	}

	rep.Status = StatusSuccess
	rep.Stats = stats
	p.Log.Info("snapshot built",
		zap.String("dataset", ds.Name),
		zap.Int("branch", branchID),
		zap.Int("new", stats.New),
		zap.Int("changed", stats.Changed),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("carried", stats.Carried))
	return rep
}

// MaterializeAll is the barrier stage: it starts only after every
// dataset's snapshot work for the run is done, then rebuilds the star
// schema from snapshot current slices.
func (p *Pipeline) MaterializeAll(ctx context.Context, report *RunReport) error {
	for i := range p.Datasets {
		ds := &p.Datasets[i]
		if !ds.Fact && len(ds.Dimensions) == 0 {
			continue
		}
		slice, err := p.currentSlice(ctx, ds, report.ExecutionDate)
		if err != nil {
			report.FailDataset(ds.Name, err)
			continue
		}
		if len(slice) == 0 {
			p.Log.Warn("no current slice, skipping materialization", zap.String("dataset", ds.Name))
			continue
		}
		report.AddTables(p.Materializer.Materialize(ctx, ds, slice))
	}
	return nil
}

// currentSlice merges the is_current records from every branch's most
// recent snapshot. The slice is always taken from snapshots, never from
// staging, so historical corrections are already resolved.
func (p *Pipeline) currentSlice(ctx context.Context, ds *models.DatasetDescriptor, day time.Time) ([]models.Record, error) {
	branches := p.Branches
	if ds.SharedAcrossBranches && len(branches) > 0 {
		// Branch-independent data is identical across branches; one
		// branch's snapshot is the whole truth.
		branches = branches[:1]
	}

	var slice []models.Record
	for _, bid := range branches {
		key := storage.SnapshotKey(ds.Name, bid, day)
		snapshot, err := p.Store.Read(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read snapshot %s: %w", key, err)
		}
		if len(snapshot) == 0 {
			// The branch produced no snapshot today (failed or empty
			// fetch); fall back to its latest finalized one.
			prevKey, err := storage.LatestSnapshotKey(ctx, p.Store, ds.Name, bid, day)
			if err != nil {
				return nil, err
			}
			if prevKey == "" {
				continue
			}
			snapshot, err = p.Store.Read(ctx, prevKey)
			if err != nil {
				return nil, fmt.Errorf("read snapshot %s: %w", prevKey, err)
			}
		}
		slice = append(slice, CurrentSlice(snapshot)...)
	}
	return slice, nil
}

func sortedBranches(results map[int]BranchResult) []int {
	ids := make([]int, 0, len(results))
	for bid := range results {
		ids = append(ids, bid)
	}
	sort.Ints(ids)
	return ids
}

// partitionLocks serializes snapshot builds per partition. The diff
// reads and writes a whole-partition artifact non-atomically, so only
// one builder may own a (dataset, branch, day) at a time.
type partitionLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *partitionLocks) acquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return false
	}
	l.held[key] = true
	return true
}

func (l *partitionLocks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
