// Package unfavorite drives the job that walks a user's locally-recorded
// favorites and asks the remote service to drop each one, mirroring the
// unfavorite state back into Storage.
package unfavorite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/weibackapp/weiback/internal/config"
	"github.com/weibackapp/weiback/internal/ingest"
	"github.com/weibackapp/weiback/internal/storage"
	"github.com/weibackapp/weiback/internal/task"
)

// Job unfavorites every pending FavoritedPost row against a RemoteClient,
// pacing requests the same way Ingestion paces pages.
type Job struct {
	client ingest.RemoteClient
	store  *storage.Store
	tasks  *task.Manager
	log    *zap.Logger
}

// NewJob wires the collaborators one unfavorite run needs.
func NewJob(client ingest.RemoteClient, store *storage.Store, tasks *task.Manager, log *zap.Logger) *Job {
	if log == nil {
		log = zap.NewNop()
	}
	return &Job{client: client, store: store, tasks: tasks, log: log}
}

// Run iterates FavoritedPost rows with unfavorited = false, calling
// Unfavorite per id. Both a nil error and ErrAlreadyUnfavorited count as
// success and flip the row; any other failure is a subtask error and the
// job continues to the next id.
func (j *Job) Run(ctx context.Context, cfg config.Config, taskID string) error {
	ids, err := j.store.ListPendingUnfavorited(ctx)
	if err != nil {
		return fmt.Errorf("list pending unfavorites: %w", err)
	}

	limiter := rate.NewLimiter(rate.Every(cfg.OtherTaskInterval.AsDuration()), 1)
	limiter.Allow() // spend the initial token so the first Wait between requests also sleeps
	done := 0

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := j.client.Unfavorite(ctx, id)
		if err == nil || errors.Is(err, ingest.ErrAlreadyUnfavorited) {
			if markErr := j.store.MarkUnfavorited(ctx, id); markErr != nil {
				return fmt.Errorf("mark unfavorited %d: %w", id, markErr)
			}
			done++
		} else {
			j.tasks.ReportSubTaskError(fmt.Sprintf("unfavorite post %d", id), err, time.Now())
		}

		if j.tasks != nil {
			j.tasks.SetProgress(taskID, done, len(ids))
		}

		if i < len(ids)-1 {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}
