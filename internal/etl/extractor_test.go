package etl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/staywise/dwh-pipeline/pkg/models"
)

// fakeSource scripts per-branch responses and records every call.
type fakeSource struct {
	mu       sync.Mutex
	calls    []sourceCall
	fetch    func(branchID int) ([]models.Record, error)
	pages    map[int][][]models.Record
	pageErrs map[int]error
}

type sourceCall struct {
	branchID int
	endpoint string
	params   map[string]interface{}
}

func (f *fakeSource) record(branchID int, endpoint string, params map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sourceCall{branchID: branchID, endpoint: endpoint, params: params})
}

func (f *fakeSource) Fetch(_ context.Context, branchID int, endpoint string, params map[string]interface{}) ([]models.Record, error) {
	f.record(branchID, endpoint, params)
	if f.fetch != nil {
		return f.fetch(branchID)
	}
	return nil, nil
}

func (f *fakeSource) FetchPage(_ context.Context, branchID int, endpoint string, params map[string]interface{}, cursor interface{}) ([]models.Record, interface{}, error) {
	f.record(branchID, endpoint, params)
	if err := f.pageErrs[branchID]; err != nil {
		return nil, nil, err
	}
	page := 0
	if cursor != nil {
		page = cursor.(int)
	}
	pages := f.pages[branchID]
	if page >= len(pages) {
		return nil, nil, nil
	}
	if page == len(pages)-1 {
		return pages[page], nil, nil
	}
	return pages[page], page + 1, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestExtractor(src SourceClient) *Extractor {
	return &Extractor{
		Client: src,
		Log:    zap.NewNop(),
		Now:    func() time.Time { return time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC) },
	}
}

func TestSharedDatasetFetchedOnceAndReplicated(t *testing.T) {
	src := &fakeSource{
		fetch: func(branchID int) ([]models.Record, error) {
			return []models.Record{{"id": int64(1), "branch_seen": int64(branchID)}}, nil
		},
	}
	ex := newTestExtractor(src)
	ds := &models.DatasetDescriptor{Name: "countries", Endpoint: "countries", SharedAcrossBranches: true}

	results := ex.Extract(context.Background(), ds, []int{7, 8, 9})

	assert.Equal(t, 1, src.callCount(), "shared data hits the source once")
	require.Len(t, results, 3)
	for _, bid := range []int{7, 8, 9} {
		res := results[bid]
		require.NoError(t, res.Err)
		require.Len(t, res.Records, 1)
		assert.Equal(t, int64(7), res.Records[0]["branch_seen"], "all branches share the first branch's fetch")
	}
}

func TestSharedDatasetReplicatesFailure(t *testing.T) {
	src := &fakeSource{
		fetch: func(int) ([]models.Record, error) { return nil, errors.New("upstream 500") },
	}
	ex := newTestExtractor(src)
	ds := &models.DatasetDescriptor{Name: "countries", Endpoint: "countries", SharedAcrossBranches: true}

	results := ex.Extract(context.Background(), ds, []int{7, 8})
	for _, bid := range []int{7, 8} {
		require.Error(t, results[bid].Err)
	}
}

func TestBranchFailureDoesNotAffectSiblings(t *testing.T) {
	src := &fakeSource{
		fetch: func(branchID int) ([]models.Record, error) {
			if branchID == 8 {
				return nil, errors.New("connection reset")
			}
			return []models.Record{{"id": int64(branchID)}}, nil
		},
	}
	ex := newTestExtractor(src)
	ex.Parallelism = 2
	ds := &models.DatasetDescriptor{Name: "bookings", Endpoint: "bookings"}

	results := ex.Extract(context.Background(), ds, []int{7, 8, 9})

	require.Len(t, results, 3)
	assert.NoError(t, results[7].Err)
	assert.Error(t, results[8].Err)
	assert.NoError(t, results[9].Err)
	assert.Len(t, results[7].Records, 1)
	assert.Len(t, results[9].Records, 1)
}

func TestPaginationAccumulatesAllPages(t *testing.T) {
	src := &fakeSource{
		pages: map[int][][]models.Record{
			7: {
				{{"id": int64(1)}, {"id": int64(2)}},
				{{"id": int64(3)}},
				{{"id": int64(4)}},
			},
		},
	}
	ex := newTestExtractor(src)
	ds := &models.DatasetDescriptor{Name: "customers", Endpoint: "customers", Paginated: true}

	results := ex.Extract(context.Background(), ds, []int{7})
	res := results[7]
	require.NoError(t, res.Err)
	require.Len(t, res.Records, 4)
	for i, rec := range res.Records {
		assert.Equal(t, int64(i+1), rec["id"], "page order is preserved")
	}
}

func TestPaginationFailureDropsWholeBranch(t *testing.T) {
	src := &fakeSource{
		pages:    map[int][][]models.Record{7: {{{"id": int64(1)}}}},
		pageErrs: map[int]error{7: errors.New("timeout")},
	}
	ex := newTestExtractor(src)
	ds := &models.DatasetDescriptor{Name: "customers", Endpoint: "customers", Paginated: true}

	res := ex.Extract(context.Background(), ds, []int{7})[7]
	require.Error(t, res.Err)
	assert.Nil(t, res.Records, "no partial page set survives a mid-pagination failure")
}

func TestIncrementalWindowIsPureFunctionOfNow(t *testing.T) {
	src := &fakeSource{}
	ex := newTestExtractor(src)
	ds := &models.DatasetDescriptor{
		Name:        "bookings",
		Endpoint:    "bookings",
		Incremental: true,
		WindowField: "create_date",
		WindowDays:  30,
		BaseParams:  map[string]interface{}{"state": "confirmed"},
	}

	ex.Extract(context.Background(), ds, []int{7})

	require.Len(t, src.calls, 1)
	params := src.calls[0].params
	assert.Equal(t, "confirmed", params["state"])
	assert.Equal(t, "2026-01-31 06:00:00", params["create_date_from"])
	assert.Equal(t, "2026-03-02 06:00:00", params["create_date_to"])
}

func TestLastRunShiftsWindowStartWithOverlap(t *testing.T) {
	src := &fakeSource{}
	ex := newTestExtractor(src)
	last := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	ex.LastRun = func(dataset string, branchID int) *time.Time {
		assert.Equal(t, "bookings", dataset)
		return &last
	}
	ds := &models.DatasetDescriptor{
		Name:        "bookings",
		Endpoint:    "bookings",
		Incremental: true,
		WindowField: "create_date",
		WindowDays:  30,
	}

	ex.Extract(context.Background(), ds, []int{7})

	require.Len(t, src.calls, 1)
	assert.Equal(t, "2026-03-01 05:45:00", src.calls[0].params["create_date_from"])
}

func TestNonIncrementalDatasetGetsNoWindowParams(t *testing.T) {
	src := &fakeSource{}
	ex := newTestExtractor(src)
	ds := &models.DatasetDescriptor{Name: "countries", Endpoint: "countries", SharedAcrossBranches: true}

	ex.Extract(context.Background(), ds, []int{7})

	require.Len(t, src.calls, 1)
	for key := range src.calls[0].params {
		assert.NotContains(t, key, "_from")
		assert.NotContains(t, key, "_to")
	}
}

func TestEmptyBranchListYieldsEmptyResults(t *testing.T) {
	ex := newTestExtractor(&fakeSource{})
	ds := &models.DatasetDescriptor{Name: "bookings", Endpoint: "bookings"}
	results := ex.Extract(context.Background(), ds, nil)
	assert.Empty(t, results)
}

func TestErrorsNamePaginationCursor(t *testing.T) {
	src := &fakeSource{pageErrs: map[int]error{7: errors.New("boom")}}
	ex := newTestExtractor(src)
	ds := &models.DatasetDescriptor{Name: "customers", Endpoint: "customers", Paginated: true}

	res := ex.Extract(context.Background(), ds, []int{7})[7]
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), fmt.Sprintf("fetch %s branch %d", "customers", 7))
}
