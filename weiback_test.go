package weiback

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/weibackapp/weiback/internal/config"
	"github.com/weibackapp/weiback/internal/ingest"
	"github.com/weibackapp/weiback/internal/task"
)

// fakeRemote is a scripted ingest.RemoteClient standing in for the real
// weibo API adapter, so the Engine's wiring can be exercised without
// network access.
type fakeRemote struct {
	favoritesPages map[int]ingest.RawPostsPage
	unfavorited    []int64
}

func newFakePost(id, uid int64, text string) json.RawMessage {
	post := map[string]any{
		"id":         id,
		"mblogid":    "abc123",
		"text":       text,
		"created_at": "Thu Aug 06 12:00:00 +0800 2026",
		"favorited":  true,
		"user": map[string]any{
			"id":          uid,
			"screen_name": "tester",
		},
	}
	data, _ := json.Marshal(post)
	return data
}

func (f *fakeRemote) FetchFavoritesPage(ctx context.Context, page int) (ingest.RawPostsPage, error) {
	p, ok := f.favoritesPages[page]
	if !ok {
		return ingest.RawPostsPage{}, nil
	}
	return p, nil
}

func (f *fakeRemote) FetchUserTimelinePage(ctx context.Context, uid int64, page int, filter ingest.TimelineFilter) (ingest.RawPostsPage, error) {
	if page != 1 {
		return ingest.RawPostsPage{}, nil
	}
	return ingest.RawPostsPage{Posts: []json.RawMessage{newFakePost(900, uid, "hello from timeline")}}, nil
}

func (f *fakeRemote) FetchPost(ctx context.Context, id int64) (json.RawMessage, error) {
	return newFakePost(id, 42, "refetched"), nil
}

func (f *fakeRemote) Unfavorite(ctx context.Context, id int64) error {
	f.unfavorited = append(f.unfavorited, id)
	return nil
}

func (f *fakeRemote) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	return []byte("fake-bytes"), nil
}

func (f *fakeRemote) SearchUsers(ctx context.Context, prefix string) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

// fakeAuth reports an always-logged-in session, so command tests don't
// need to exercise the real SMS/login exchange.
type fakeAuth struct{}

func (fakeAuth) LoginState(ctx context.Context) (bool, error)          { return true, nil }
func (fakeAuth) RequestSMSCode(ctx context.Context, phone string) error { return nil }
func (fakeAuth) Login(ctx context.Context, phone, code string) (string, error) {
	return "session-token", nil
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "weiback.db")
	cfg.PicturePath = filepath.Join(t.TempDir(), "pictures")
	cfg.VideoPath = filepath.Join(t.TempDir(), "videos")

	remote := &fakeRemote{
		favoritesPages: map[int]ingest.RawPostsPage{
			1: {Posts: []json.RawMessage{newFakePost(1, 42, "hello world")}},
		},
	}
	engine, err := NewEngine(cfg, remote, fakeAuth{}, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func waitForCompletion(t *testing.T, engine *Engine, taskID string) *TaskStatus {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		status, err := engine.GetCurrentTaskStatus()
		if err != nil {
			t.Fatalf("GetCurrentTaskStatus: %v", err)
		}
		if status.ID == taskID && status.Status != string(task.StatusInProgress) {
			return status
		}
		select {
		case <-deadline:
			t.Fatalf("job %s did not finish in time", taskID)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestLoginStateReflectsAuthClient(t *testing.T) {
	engine := newTestEngine(t)
	ok, err := engine.LoginState(context.Background())
	if err != nil {
		t.Fatalf("LoginState: %v", err)
	}
	if !ok {
		t.Fatal("expected logged in state")
	}
}

func TestBackupFavoritesStoresPosts(t *testing.T) {
	engine := newTestEngine(t)
	taskID, err := engine.BackupFavorites(context.Background(), 1)
	if err != nil {
		t.Fatalf("BackupFavorites: %v", err)
	}
	status := waitForCompletion(t, engine, taskID)
	if status.Status != string(task.StatusCompleted) {
		t.Fatalf("job ended with status %q, error %q", status.Status, status.Error)
	}

	result, err := engine.QueryLocalPosts(context.Background(), Query{PostsPerPage: 10, Page: 1})
	if err != nil {
		t.Fatalf("QueryLocalPosts: %v", err)
	}
	if result.TotalItems != 1 {
		t.Fatalf("expected 1 stored post, got %d", result.TotalItems)
	}
}

func TestBackupUserStoresPosts(t *testing.T) {
	engine := newTestEngine(t)
	taskID, err := engine.BackupUser(context.Background(), 42, 1, TimelineNormal)
	if err != nil {
		t.Fatalf("BackupUser: %v", err)
	}
	status := waitForCompletion(t, engine, taskID)
	if status.Status != string(task.StatusCompleted) {
		t.Fatalf("job ended with status %q, error %q", status.Status, status.Error)
	}

	name, err := engine.GetUsernameByID(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetUsernameByID: %v", err)
	}
	if name != "tester" {
		t.Fatalf("expected screen name tester, got %q", name)
	}
}

func TestDeletePostRemovesRow(t *testing.T) {
	engine := newTestEngine(t)
	taskID, err := engine.BackupFavorites(context.Background(), 1)
	if err != nil {
		t.Fatalf("BackupFavorites: %v", err)
	}
	waitForCompletion(t, engine, taskID)

	if err := engine.DeletePost(context.Background(), 1); err != nil {
		t.Fatalf("DeletePost: %v", err)
	}

	result, err := engine.QueryLocalPosts(context.Background(), Query{PostsPerPage: 10, Page: 1})
	if err != nil {
		t.Fatalf("QueryLocalPosts: %v", err)
	}
	if result.TotalItems != 0 {
		t.Fatalf("expected post to be gone, got %d remaining", result.TotalItems)
	}
}

func TestGetConfigRoundTrips(t *testing.T) {
	engine := newTestEngine(t)
	cfg := engine.GetConfig()
	cfg.PostsPerHTML = 7
	engine.SetConfig(cfg)
	if got := engine.GetConfig(); got.PostsPerHTML != 7 {
		t.Fatalf("expected PostsPerHTML=7, got %d", got.PostsPerHTML)
	}
}
