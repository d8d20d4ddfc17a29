package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/weibackapp/weiback/internal/media"
	"github.com/weibackapp/weiback/internal/storage"
	"github.com/weibackapp/weiback/internal/task"
)

// CleanupAvatars keeps, for every user, only the Picture row whose url
// matches the user's current avatar_large and removes every other
// avatar snapshot on file for that user. Each user's group is removed in
// one transaction.
func CleanupAvatars(ctx context.Context, store *storage.Store, repo *media.Repository, tasks *task.Manager, taskID string) (*Summary, error) {
	users, err := store.ListAllUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	summary := &Summary{}
	for i, u := range users {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		pics, err := store.ListAvatarPicturesForUser(ctx, u.ID)
		if err != nil {
			return summary, fmt.Errorf("list avatars for user %d: %w", u.ID, err)
		}
		if len(pics) == 0 {
			continue
		}

		var stale []string
		for _, p := range pics {
			if p.URL != u.AvatarLarge {
				stale = append(stale, p.URL)
			}
		}
		if len(stale) == 0 {
			continue
		}

		paths, err := store.DeletePictures(ctx, stale)
		if err != nil {
			return summary, fmt.Errorf("delete stale avatars for user %d: %w", u.ID, err)
		}
		for _, path := range paths {
			if err := repo.Delete(path); err != nil {
				tasks.ReportSubTaskError(fmt.Sprintf("remove avatar file %s", path), err, time.Now())
			}
		}

		summary.GroupsProcessed++
		summary.VariantsRemoved += len(stale)
		if tasks != nil {
			tasks.SetProgress(taskID, i+1, len(users))
		}
	}
	return summary, nil
}
