package ingest

import (
	"context"
	encjson "encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/weibackapp/weiback/internal/media"
	"github.com/weibackapp/weiback/internal/storage"
)

type flakyClient struct {
	fakeClient
	failuresBeforeSuccess int32
	attempts              int32
	rateLimitedOnce       bool
	rateLimitAttempted    atomic.Bool
}

func (f *flakyClient) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	n := atomic.AddInt32(&f.attempts, 1)
	if f.rateLimitedOnce && !f.rateLimitAttempted.Load() {
		f.rateLimitAttempted.Store(true)
		d := 10 * time.Millisecond
		return nil, &RateLimitedError{RetryAfter: &d}
	}
	if n <= f.failuresBeforeSuccess {
		return nil, &TransientError{Err: context.DeadlineExceeded}
	}
	return []byte("bytes"), nil
}

type permanentCountingClient struct {
	fakeClient
	attempts int32
}

func (c *permanentCountingClient) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	atomic.AddInt32(&c.attempts, 1)
	return c.fakeClient.FetchBytes(ctx, url)
}

func newTestDownloader(t *testing.T, client RemoteClient) (*Downloader, *storage.Store) {
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
	return NewDownloader(client, repo, store, 2, nil), store
}

func TestDownloaderRetriesTransientErrors(t *testing.T) {
	client := &flakyClient{failuresBeforeSuccess: 1}
	downloader, store := newTestDownloader(t, client)
	ctx := context.Background()

	owner := storage.User{ID: 1, ScreenName: "a"}
	post := storage.Post{ID: 1, UID: 1, Text: "t", CreatedAt: 1}
	if err := store.UpsertPostWithRefs(ctx, post, owner, nil, nil); err != nil {
		t.Fatal(err)
	}
	pid := int64(1)
	if err := store.InsertPictureIfAbsent(ctx, "https://img.example/x.jpg", "x", storage.Large, &pid, nil); err != nil {
		t.Fatal(err)
	}

	var gotErr error
	downloader.Run(ctx, []DownloadTask{{URL: "https://img.example/x.jpg", Kind: KindPicture, PostID: &pid}}, func(_ string, err error) {
		gotErr = err
	})
	if gotErr != nil {
		t.Fatalf("expected eventual success after one transient failure, got %v", gotErr)
	}
	if client.attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", client.attempts)
	}
}

func TestDownloaderDoesNotRetryPermanentNon429Errors(t *testing.T) {
	client := &permanentCountingClient{fakeClient: fakeClient{bytesByURL: map[string][]byte{}}}
	downloader, _ := newTestDownloader(t, client)
	ctx := context.Background()

	var gotErr error
	downloader.Run(ctx, []DownloadTask{{URL: "https://img.example/missing.jpg", Kind: KindPicture}}, func(_ string, err error) {
		gotErr = err
	})
	if gotErr == nil {
		t.Fatal("expected an error for a 404 permanent failure")
	}
	if client.attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a permanent error, got %d", client.attempts)
	}
	if _, ok := client.bytesByURL["https://img.example/missing.jpg"]; ok {
		t.Fatal("test setup error: URL should be absent")
	}
}

func TestDownloaderRetriesAfterRateLimit(t *testing.T) {
	client := &flakyClient{rateLimitedOnce: true}
	downloader, store := newTestDownloader(t, client)
	ctx := context.Background()

	owner := storage.User{ID: 1, ScreenName: "a"}
	post := storage.Post{ID: 1, UID: 1, Text: "t", CreatedAt: 1}
	if err := store.UpsertPostWithRefs(ctx, post, owner, nil, nil); err != nil {
		t.Fatal(err)
	}
	pid := int64(1)
	if err := store.InsertPictureIfAbsent(ctx, "https://img.example/y.jpg", "y", storage.Large, &pid, nil); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	var gotErr error
	downloader.Run(ctx, []DownloadTask{{URL: "https://img.example/y.jpg", Kind: KindPicture, PostID: &pid}}, func(_ string, err error) {
		gotErr = err
	})
	elapsed := time.Since(start)

	if gotErr != nil {
		t.Fatalf("expected eventual success after rate limit retry, got %v", gotErr)
	}
	if elapsed < 10*time.Millisecond {
		t.Fatalf("expected at least the RetryAfter delay to elapse, got %v", elapsed)
	}
}

var _ = encjson.RawMessage{}
