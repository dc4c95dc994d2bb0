package etl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/staywise/dwh-pipeline/pkg/models"
)

// SourceClient is the boundary to the source API. Transport, auth and
// retry live behind it; the engine treats any returned error as a
// branch-level extraction failure.
type SourceClient interface {
	Fetch(ctx context.Context, branchID int, endpoint string, params map[string]interface{}) ([]models.Record, error)

	// FetchPage returns one page and the cursor for the next. A nil
	// cursor signals the final page. Pass a nil cursor for the first.
	FetchPage(ctx context.Context, branchID int, endpoint string, params map[string]interface{}, cursor interface{}) ([]models.Record, interface{}, error)
}

// BranchResult is the outcome of extraction for a single branch: either a
// record sequence or an error, never a silent drop.
type BranchResult struct {
	BranchID int
	Records  []models.Record
	Err      error
}

// Extractor turns one dataset descriptor and a branch set into raw
// records, honoring the shared-vs-per-branch fan-out policy, incremental
// windows and pagination.
type Extractor struct {
	Client SourceClient
	Log    *zap.Logger

	// Now anchors the trailing window; injected for testability.
	Now func() time.Time

	// LastRun, when set, returns the previous successful run timestamp
	// for a (dataset, branch) so the window can overlap it slightly.
	// Nil (or a nil result) falls back to the configured lookback span.
	LastRun func(dataset string, branchID int) *time.Time

	// FetchTimeout bounds a single branch fetch, pagination included.
	FetchTimeout time.Duration

	// Parallelism caps concurrent per-branch fetches. Zero means one
	// goroutine per branch.
	Parallelism int

	// windowOverlap guards against records written between window
	// boundary computation and the previous run's completion.
	windowOverlap time.Duration
}

const defaultWindowOverlap = 15 * time.Minute

// Extract runs the fan-out for every branch and returns a per-branch
// result map. A branch failure never cancels or aborts its siblings.
func (e *Extractor) Extract(ctx context.Context, ds *models.DatasetDescriptor, branchIDs []int) map[int]BranchResult {
	results := make(map[int]BranchResult, len(branchIDs))
	if len(branchIDs) == 0 {
		return results
	}

	if ds.SharedAcrossBranches {
		// Branch-independent data: fetch once through the first branch's
		// context and replicate the identical result set.
		first := branchIDs[0]
		records, err := e.fetchBranch(ctx, ds, first)
		for _, bid := range branchIDs {
			results[bid] = BranchResult{BranchID: bid, Records: records, Err: err}
		}
		return results
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if e.Parallelism > 0 {
		g.SetLimit(e.Parallelism)
	}
	for _, bid := range branchIDs {
		bid := bid
		g.Go(func() error {
			records, err := e.fetchBranch(gctx, ds, bid)
			mu.Lock()
			results[bid] = BranchResult{BranchID: bid, Records: records, Err: err}
			mu.Unlock()
			// Errors stay in the result map; returning them here would
			// cancel sibling branches.
			return nil
		})
	}
	g.Wait()
	return results
}

func (e *Extractor) fetchBranch(ctx context.Context, ds *models.DatasetDescriptor, branchID int) ([]models.Record, error) {
	if e.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.FetchTimeout)
		defer cancel()
	}

	params := e.queryParams(ds, branchID)

	if !ds.Paginated {
		records, err := e.Client.Fetch(ctx, branchID, ds.Endpoint, params)
		if err != nil {
			return nil, fmt.Errorf("fetch %s branch %d: %w", ds.Name, branchID, err)
		}
		return records, nil
	}

	// Pagination within one branch is sequential: each cursor depends on
	// the prior response. No upper bound on page count is assumed.
	var all []models.Record
	var cursor interface{}
	for {
		page, next, err := e.Client.FetchPage(ctx, branchID, ds.Endpoint, params, cursor)
		if err != nil {
			return nil, fmt.Errorf("fetch %s branch %d page %v: %w", ds.Name, branchID, cursor, err)
		}
		all = append(all, page...)
		if next == nil {
			return all, nil
		}
		cursor = next
	}
}

// queryParams merges the descriptor's base params with the incremental
// window boundaries. The boundary is a function of now, the configured
// span and the injected last-run timestamp only.
func (e *Extractor) queryParams(ds *models.DatasetDescriptor, branchID int) map[string]interface{} {
	params := make(map[string]interface{}, len(ds.BaseParams)+2)
	for k, v := range ds.BaseParams {
		params[k] = v
	}
	if !ds.Incremental {
		return params
	}

	now := e.Now().UTC()
	overlap := e.windowOverlap
	if overlap == 0 {
		overlap = defaultWindowOverlap
	}

	start := now.AddDate(0, 0, -ds.WindowDays)
	if e.LastRun != nil {
		if last := e.LastRun(ds.Name, branchID); last != nil {
			start = last.Add(-overlap)
		}
	}

	params[ds.WindowField+"_from"] = start.Format("2006-01-02 15:04:05")
	params[ds.WindowField+"_to"] = now.Format("2006-01-02 15:04:05")
	return params
}
