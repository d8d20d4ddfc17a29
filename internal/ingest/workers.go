package ingest

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/weibackapp/weiback/internal/media"
	"github.com/weibackapp/weiback/internal/storage"
)

// DownloadKind distinguishes what a download's bytes get attached to once
// fetched.
type DownloadKind int

const (
	KindPicture DownloadKind = iota
	KindAvatar
	KindVideo
)

// DownloadTask is one URL to fetch and where its bytes end up.
type DownloadTask struct {
	URL    string
	Kind   DownloadKind
	PostID *int64
	UserID *int64
}

var transientBackoff = []time.Duration{250 * time.Millisecond, 1 * time.Second}

// Downloader runs the bounded-concurrency media fetch pool described in
// the ingestion pipeline: a fixed-size semaphore, per-URL retry with
// backoff on transient errors, and no retry on non-429 permanent errors.
type Downloader struct {
	client RemoteClient
	repo   *media.Repository
	store  *storage.Store
	sem    *semaphore.Weighted
	log    *zap.Logger
}

// NewDownloader builds a Downloader with n concurrent workers.
func NewDownloader(client RemoteClient, repo *media.Repository, store *storage.Store, n int, log *zap.Logger) *Downloader {
	if n <= 0 {
		n = 8
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Downloader{client: client, repo: repo, store: store, sem: semaphore.NewWeighted(int64(n)), log: log}
}

// SubTaskErrorFunc reports a non-fatal failure without aborting the batch.
type SubTaskErrorFunc func(context string, err error)

// Run downloads every task concurrently (bounded by the pool size),
// blocking until all have finished or ctx is cancelled.
func (d *Downloader) Run(ctx context.Context, tasks []DownloadTask, onErr SubTaskErrorFunc) {
	done := make(chan struct{}, len(tasks))
	for _, t := range tasks {
		t := t
		if err := d.sem.Acquire(ctx, 1); err != nil {
			done <- struct{}{}
			continue
		}
		go func() {
			defer d.sem.Release(1)
			defer func() { done <- struct{}{} }()
			if err := d.downloadOne(ctx, t); err != nil {
				onErr(fmt.Sprintf("download media %s", t.URL), err)
			}
		}()
	}
	for range tasks {
		<-done
	}
}

func (d *Downloader) downloadOne(ctx context.Context, t DownloadTask) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		data, err := d.client.FetchBytes(ctx, t.URL)
		if err == nil {
			return d.persist(ctx, t, data)
		}
		lastErr = err

		transient, rateLimited, permanent := classifyError(err)
		switch {
		case rateLimited != nil:
			sleep := jitteredRateLimitDelay(rateLimited)
			if err := sleepOrDone(ctx, sleep); err != nil {
				return err
			}
		case transient:
			if attempt >= len(transientBackoff) {
				return fmt.Errorf("fetch %s: %w", t.URL, err)
			}
			if err := sleepOrDone(ctx, transientBackoff[attempt]); err != nil {
				return err
			}
		case permanent:
			return fmt.Errorf("fetch %s: %w", t.URL, err)
		default:
			return fmt.Errorf("fetch %s: %w", t.URL, err)
		}
	}
	return fmt.Errorf("fetch %s: retries exhausted: %w", t.URL, lastErr)
}

func jitteredRateLimitDelay(rle *RateLimitedError) time.Duration {
	if rle.RetryAfter != nil {
		return *rle.RetryAfter
	}
	return 2*time.Second + time.Duration(rand.Int63n(int64(3*time.Second)))
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func basenameOf(url string) string {
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '/' {
			return url[i+1:]
		}
	}
	return url
}

func (d *Downloader) persist(ctx context.Context, t DownloadTask, data []byte) error {
	relPath, err := d.repo.Store(basenameOf(t.URL), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("store media %s: %w", t.URL, err)
	}
	switch t.Kind {
	case KindVideo:
		return d.store.SetVideoPath(ctx, t.URL, relPath)
	default:
		return d.store.SetPicturePath(ctx, t.URL, relPath)
	}
}
