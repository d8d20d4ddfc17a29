// Package cleanup implements WeiBack's two housekeeping jobs: pruning
// redundant picture resolution variants and orphaned avatar snapshots.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/weibackapp/weiback/internal/media"
	"github.com/weibackapp/weiback/internal/storage"
	"github.com/weibackapp/weiback/internal/task"
)

// Policy selects which resolution variant CleanupPictures keeps for each
// logical picture id.
type Policy int

const (
	// Highest keeps the variant with the greatest Definition.
	Highest Policy = iota
	// Lowest keeps the variant with the smallest Definition, freeing the
	// most disk space at the cost of image quality.
	Lowest
)

// Summary reports what a cleanup pass removed.
type Summary struct {
	GroupsProcessed int
	VariantsRemoved int
}

// CleanupPictures keeps, for every logical picture id with more than one
// stored resolution, the variant selected by policy and removes the rest
// from Storage and MediaRepository. Each id's group is removed in one
// transaction; a failure to delete a backing file is reported as a
// subtask error and does not stop the job.
func CleanupPictures(ctx context.Context, store *storage.Store, repo *media.Repository, tasks *task.Manager, taskID string, policy Policy) (*Summary, error) {
	ids, err := store.ListDuplicatePictureIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list duplicate picture ids: %w", err)
	}

	summary := &Summary{}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		variants, err := store.QueryResolutionVariants(ctx, id)
		if err != nil {
			return summary, fmt.Errorf("query variants for %s: %w", id, err)
		}
		if len(variants) < 2 {
			continue
		}

		keep := extremal(variants, policy)
		var toRemove []string
		for _, v := range variants {
			if v.URL != keep.URL {
				toRemove = append(toRemove, v.URL)
			}
		}

		paths, err := store.DeletePictures(ctx, toRemove)
		if err != nil {
			return summary, fmt.Errorf("delete variants for %s: %w", id, err)
		}
		for _, path := range paths {
			if err := repo.Delete(path); err != nil {
				tasks.ReportSubTaskError(fmt.Sprintf("remove picture file %s", path), err, time.Now())
			}
		}

		summary.GroupsProcessed++
		summary.VariantsRemoved += len(toRemove)
		if tasks != nil {
			tasks.SetProgress(taskID, i+1, len(ids))
		}
	}
	return summary, nil
}

func extremal(variants []storage.Picture, policy Policy) storage.Picture {
	best := variants[0]
	for _, v := range variants[1:] {
		switch policy {
		case Lowest:
			if v.Definition < best.Definition {
				best = v
			}
		default:
			if v.Definition > best.Definition {
				best = v
			}
		}
	}
	return best
}
