package unfavorite

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/weibackapp/weiback/internal/config"
	"github.com/weibackapp/weiback/internal/ingest"
	"github.com/weibackapp/weiback/internal/storage"
	"github.com/weibackapp/weiback/internal/task"
)

type fakeRemote struct {
	alreadyUnfavorited map[int64]bool
	failing            map[int64]error
	calls              []int64
}

func (f *fakeRemote) FetchFavoritesPage(ctx context.Context, page int) (ingest.RawPostsPage, error) {
	return ingest.RawPostsPage{}, nil
}
func (f *fakeRemote) FetchUserTimelinePage(ctx context.Context, uid int64, page int, filter ingest.TimelineFilter) (ingest.RawPostsPage, error) {
	return ingest.RawPostsPage{}, nil
}
func (f *fakeRemote) FetchPost(ctx context.Context, id int64) (json.RawMessage, error) {
	return nil, fmt.Errorf("not implemented")
}
func (f *fakeRemote) Unfavorite(ctx context.Context, id int64) error {
	f.calls = append(f.calls, id)
	if f.alreadyUnfavorited[id] {
		return ingest.ErrAlreadyUnfavorited
	}
	if err, ok := f.failing[id]; ok {
		return err
	}
	return nil
}
func (f *fakeRemote) FetchBytes(ctx context.Context, url string) ([]byte, error) { return nil, nil }
func (f *fakeRemote) SearchUsers(ctx context.Context, prefix string) (json.RawMessage, error) {
	return nil, nil
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "weiback.db")
	store, err := storage.NewStore(dbPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedFavorite(t *testing.T, store *storage.Store, id int64) {
	t.Helper()
	ctx := context.Background()
	owner := storage.User{ID: 1, ScreenName: "a"}
	post := storage.Post{ID: id, UID: 1, Text: "t", CreatedAt: id}
	if err := store.UpsertPostWithRefs(ctx, post, owner, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkFavorited(ctx, id); err != nil {
		t.Fatal(err)
	}
}

func TestRunMarksSuccessAndAlreadyUnfavoritedAsDone(t *testing.T) {
	store := newTestStore(t)
	seedFavorite(t, store, 100)
	seedFavorite(t, store, 200)

	client := &fakeRemote{alreadyUnfavorited: map[int64]bool{200: true}}
	tasks := task.NewManager()
	job := NewJob(client, store, tasks, nil)
	cfg := *config.Default()
	cfg.OtherTaskInterval = config.Duration(0)

	if err := job.Run(context.Background(), cfg, ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	pending, err := store.ListPendingUnfavorited(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending unfavorites left, got %v", pending)
	}
}

func TestRunReportsOtherFailuresAsSubTaskErrorsAndContinues(t *testing.T) {
	store := newTestStore(t)
	seedFavorite(t, store, 1)
	seedFavorite(t, store, 2)

	client := &fakeRemote{failing: map[int64]error{1: fmt.Errorf("network blip")}}
	tasks := task.NewManager()
	job := NewJob(client, store, tasks, nil)
	cfg := *config.Default()
	cfg.OtherTaskInterval = config.Duration(0)

	if err := job.Run(context.Background(), cfg, ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	pending, err := store.ListPendingUnfavorited(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0] != 1 {
		t.Fatalf("expected post 1 still pending after its failure, got %v", pending)
	}

	errs := tasks.TakeSubTaskErrors()
	if len(errs) != 1 {
		t.Fatalf("expected exactly one subtask error, got %v", errs)
	}
}
