// Package storage is the durable storage collaborator: append-only
// staging logs, immutable daily snapshots and quarantine partitions, all
// addressed by deterministic partition keys.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/staywise/dwh-pipeline/pkg/models"
)

// Store is the contract every backend satisfies. Append never rewrites
// existing entries; WriteReplace swaps a partition wholesale.
type Store interface {
	Append(ctx context.Context, partition string, records []models.Record) error
	Read(ctx context.Context, partition string) ([]models.Record, error)
	WriteReplace(ctx context.Context, partition string, records []models.Record) error

	// List returns every partition key under the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Partition key layouts. Staging is partitioned monthly, snapshots and
// quarantine daily.
const (
	stagingPrefix    = "staging"
	snapshotPrefix   = "history"
	quarantinePrefix = "quarantine"
)

// StagingKey addresses one dataset's per-branch monthly append log.
func StagingKey(dataset string, branchID int, day time.Time) string {
	return fmt.Sprintf("%s/%s/branch=%d/%s", stagingPrefix, day.Format("200601"), branchID, dataset)
}

// SnapshotKey addresses one dataset's per-branch daily snapshot.
func SnapshotKey(dataset string, branchID int, day time.Time) string {
	return fmt.Sprintf("%s/%s/branch=%d/%s", snapshotPrefix, day.Format("2006-01-02"), branchID, dataset)
}

// QuarantineKey addresses one dataset's daily quarantine partition.
func QuarantineKey(dataset string, day time.Time) string {
	return fmt.Sprintf("%s/%s/%s", quarantinePrefix, day.Format("2006-01-02"), dataset)
}

// SnapshotDayPrefix addresses every snapshot partition of one day, used
// by the backup step.
func SnapshotDayPrefix(day time.Time) string {
	return fmt.Sprintf("%s/%s/", snapshotPrefix, day.Format("2006-01-02"))
}

// LatestSnapshotKey finds the most recent snapshot partition for a
// (dataset, branch) strictly before the given day, or "" when the
// dataset has never been snapshotted. This is the injected "yesterday's
// snapshot handle" the diff engine depends on.
func LatestSnapshotKey(ctx context.Context, store Store, dataset string, branchID int, before time.Time) (string, error) {
	keys, err := store.List(ctx, snapshotPrefix+"/")
	if err != nil {
		return "", fmt.Errorf("list snapshots: %w", err)
	}
	suffix := fmt.Sprintf("/branch=%d/%s", branchID, dataset)
	cutoff := before.Format("2006-01-02")

	var candidates []string
	for _, key := range keys {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		day := strings.TrimSuffix(strings.TrimPrefix(key, snapshotPrefix+"/"), suffix)
		if day < cutoff {
			candidates = append(candidates, key)
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}
	sort.Strings(candidates)
	return candidates[len(candidates)-1], nil
}
