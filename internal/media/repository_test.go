package media

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStoreThenReadRoundTrip(t *testing.T) {
	repo, err := NewRepository(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	relPath, err := repo.Store("abcd1234.jpg", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if !strings.HasPrefix(relPath, "ab"+string(filepath.Separator)) {
		t.Fatalf("expected shard prefix 'ab', got %s", relPath)
	}

	data, err := repo.Read(relPath)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected 'hello', got %q", data)
	}
}

func TestStoreLeavesNoTempFileBehind(t *testing.T) {
	root := t.TempDir()
	repo, err := NewRepository(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Store("file.jpg", strings.NewReader("data")); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("temp file %s left behind after successful store", e.Name())
		}
	}
}

func TestDeleteMissingFileIsNotAnError(t *testing.T) {
	repo, err := NewRepository(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete("fi/nonexistent.jpg"); err != nil {
		t.Fatalf("expected deleting a missing file to succeed, got %v", err)
	}
}

func TestLinkFallsBackToCopyAcrossDevices(t *testing.T) {
	repo, err := NewRepository(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	relPath, err := repo.Store("pic.jpg", strings.NewReader("bytes"))
	if err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "export", "pic.jpg")
	if err := repo.Link(relPath, dest); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "bytes" {
		t.Fatalf("expected linked/copied content 'bytes', got %q", data)
	}
}

func TestCacheEvictionReleasesButDoesNotMutateInFlightReaders(t *testing.T) {
	cache, err := NewCache(1)
	if err != nil {
		t.Fatal(err)
	}

	cache.Put("a", []byte("aaa"))
	held, ok := cache.Get("a")
	if !ok {
		t.Fatal("expected cache hit for 'a'")
	}

	// Evicts "a" by exceeding capacity with a second entry.
	cache.Put("b", []byte("bbb"))

	if string(held) != "aaa" {
		t.Fatalf("expected retained slice to remain 'aaa' after eviction, got %q", held)
	}
}

func TestOpenPopulatesCacheOnMiss(t *testing.T) {
	repo, err := NewRepository(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	relPath, err := repo.Store("pic.jpg", strings.NewReader("content"))
	if err != nil {
		t.Fatal(err)
	}
	cache, err := NewCache(8)
	if err != nil {
		t.Fatal(err)
	}

	data, err := repo.Open(cache, relPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "content" {
		t.Fatalf("expected 'content', got %q", data)
	}

	if _, ok := cache.Get(relPath); !ok {
		t.Fatal("expected Open to populate the cache")
	}
}
