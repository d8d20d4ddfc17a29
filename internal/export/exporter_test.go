package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/weibackapp/weiback/internal/ingest"
	"github.com/weibackapp/weiback/internal/media"
	"github.com/weibackapp/weiback/internal/query"
	"github.com/weibackapp/weiback/internal/storage"
	"github.com/weibackapp/weiback/internal/task"
)

type stubClient struct {
	bytesByURL map[string][]byte
}

func (s *stubClient) FetchFavoritesPage(ctx context.Context, page int) (ingest.RawPostsPage, error) {
	return ingest.RawPostsPage{}, nil
}
func (s *stubClient) FetchUserTimelinePage(ctx context.Context, uid int64, page int, filter ingest.TimelineFilter) (ingest.RawPostsPage, error) {
	return ingest.RawPostsPage{}, nil
}
func (s *stubClient) FetchPost(ctx context.Context, id int64) (json.RawMessage, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *stubClient) Unfavorite(ctx context.Context, id int64) error { return nil }
func (s *stubClient) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	data, ok := s.bytesByURL[url]
	if !ok {
		return nil, &ingest.PermanentError{Status: 404}
	}
	return data, nil
}
func (s *stubClient) SearchUsers(ctx context.Context, prefix string) (json.RawMessage, error) {
	return nil, nil
}

func newTestExporter(t *testing.T, postsPerHTML int) (*Exporter, *storage.Store, *media.Repository) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "weiback.db")
	store, err := storage.NewStore(dbPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	repo, err := media.NewRepository(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	client := &stubClient{bytesByURL: map[string][]byte{}}
	downloader := ingest.NewDownloader(client, repo, store, 4, nil)
	tasks := task.NewManager()
	return NewExporter(store, repo, downloader, tasks, postsPerHTML, nil), store, repo
}

func seedPosts(t *testing.T, store *storage.Store, n int) {
	t.Helper()
	ctx := context.Background()
	owner := storage.User{ID: 1, ScreenName: "alice"}
	for i := 0; i < n; i++ {
		id := int64(i + 1)
		post := storage.Post{ID: id, UID: 1, Text: fmt.Sprintf("post %d", id), CreatedAt: int64(1000 + i)}
		if err := store.UpsertPostWithRefs(ctx, post, owner, nil, nil); err != nil {
			t.Fatal(err)
		}
	}
}

func TestExportBatchesByPostsPerHTML(t *testing.T) {
	exp, store, _ := newTestExporter(t, 50)
	seedPosts(t, store, 120)

	filter := query.Filter{Sort: query.SortOldestFirst}
	cfg := ExportOutputConfig{TaskName: "mytask", ExportDir: t.TempDir()}

	summary, err := exp.Export(context.Background(), filter, cfg, "")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if summary.TotalPosts != 120 || summary.Batches != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	for i, want := range []int{50, 50, 20} {
		path := filepath.Join(summary.OutputDir, fmt.Sprintf("posts_%d.html", i))
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("expected %s to exist: %v", path, err)
		}
		got := strings.Count(string(data), `class="post"`)
		if got != want {
			t.Fatalf("batch %d: expected %d posts, got %d", i, want, got)
		}
	}
}

func TestExportRejectsEmptyResultSet(t *testing.T) {
	exp, _, _ := newTestExporter(t, 50)
	filter := query.Filter{}
	cfg := ExportOutputConfig{TaskName: "empty", ExportDir: t.TempDir()}

	if _, err := exp.Export(context.Background(), filter, cfg, ""); err == nil {
		t.Fatal("expected an error for a query matching zero posts")
	}
}

func TestExportPlacesPictureMediaAlongsideHTML(t *testing.T) {
	exp, store, repo := newTestExporter(t, 50)
	ctx := context.Background()
	owner := storage.User{ID: 1, ScreenName: "alice"}
	post := storage.Post{ID: 1, UID: 1, Text: "hi", CreatedAt: 1}
	if err := store.UpsertPostWithRefs(ctx, post, owner, nil, nil); err != nil {
		t.Fatal(err)
	}
	pid := int64(1)
	if err := store.InsertPictureIfAbsent(ctx, "https://img.example/pic1.jpg", "pic1", storage.Large, &pid, nil); err != nil {
		t.Fatal(err)
	}
	relPath, err := repo.Store("pic1.jpg", strings.NewReader("jpegbytes"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetPicturePath(ctx, "https://img.example/pic1.jpg", relPath); err != nil {
		t.Fatal(err)
	}

	cfg := ExportOutputConfig{TaskName: "withmedia", ExportDir: t.TempDir()}
	summary, err := exp.Export(ctx, query.Filter{}, cfg, "")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	mediaFile := filepath.Join(summary.OutputDir, "media", "pic1.jpg")
	if _, err := os.Stat(mediaFile); err != nil {
		t.Fatalf("expected media file to be placed at %s: %v", mediaFile, err)
	}
}

func TestExportIsIdempotentOverwritingSameTaskName(t *testing.T) {
	exp, store, _ := newTestExporter(t, 50)
	seedPosts(t, store, 5)
	cfg := ExportOutputConfig{TaskName: "repeat", ExportDir: t.TempDir()}

	if _, err := exp.Export(context.Background(), query.Filter{}, cfg, ""); err != nil {
		t.Fatalf("first export failed: %v", err)
	}
	summary, err := exp.Export(context.Background(), query.Filter{}, cfg, "")
	if err != nil {
		t.Fatalf("second export failed: %v", err)
	}
	if summary.TotalPosts != 5 || summary.Batches != 1 {
		t.Fatalf("unexpected summary on re-export: %+v", summary)
	}
}
