package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/weibackapp/weiback/internal/media"
	"github.com/weibackapp/weiback/internal/storage"
	"github.com/weibackapp/weiback/internal/task"
)

func newTestEnv(t *testing.T) (*storage.Store, *media.Repository, *task.Manager) {
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
	return store, repo, task.NewManager()
}

func storeAndPath(t *testing.T, repo *media.Repository, basename string) string {
	t.Helper()
	relPath, err := repo.Store(basename, strings.NewReader("bytes"))
	if err != nil {
		t.Fatal(err)
	}
	return relPath
}

func TestCleanupPicturesKeepsHighestByDefault(t *testing.T) {
	store, repo, tasks := newTestEnv(t)
	ctx := context.Background()
	owner := storage.User{ID: 1, ScreenName: "a"}
	post := storage.Post{ID: 1, UID: 1, Text: "t", CreatedAt: 1}
	if err := store.UpsertPostWithRefs(ctx, post, owner, nil, nil); err != nil {
		t.Fatal(err)
	}
	pid := int64(1)

	lowURL := "https://img.example/thumb.jpg"
	highURL := "https://img.example/large.jpg"
	if err := store.InsertPictureIfAbsent(ctx, lowURL, "pic1", storage.Thumbnail, &pid, nil); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertPictureIfAbsent(ctx, highURL, "pic1", storage.Large, &pid, nil); err != nil {
		t.Fatal(err)
	}
	lowPath := storeAndPath(t, repo, "thumb.jpg")
	highPath := storeAndPath(t, repo, "large.jpg")
	if err := store.SetPicturePath(ctx, lowURL, lowPath); err != nil {
		t.Fatal(err)
	}
	if err := store.SetPicturePath(ctx, highURL, highPath); err != nil {
		t.Fatal(err)
	}

	summary, err := CleanupPictures(ctx, store, repo, tasks, "", Highest)
	if err != nil {
		t.Fatalf("CleanupPictures failed: %v", err)
	}
	if summary.GroupsProcessed != 1 || summary.VariantsRemoved != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	remaining, err := store.QueryResolutionVariants(ctx, "pic1")
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].URL != highURL {
		t.Fatalf("expected only the Large variant to remain, got %+v", remaining)
	}
	if _, err := os.Stat(repo.PathFor(lowPath)); !os.IsNotExist(err) {
		t.Fatal("expected the thumbnail file to be removed from disk")
	}
	if _, err := os.Stat(repo.PathFor(highPath)); err != nil {
		t.Fatal("expected the kept variant's file to remain")
	}
}

func TestCleanupPicturesLowestPolicyKeepsSmallest(t *testing.T) {
	store, repo, tasks := newTestEnv(t)
	ctx := context.Background()
	owner := storage.User{ID: 1, ScreenName: "a"}
	post := storage.Post{ID: 1, UID: 1, Text: "t", CreatedAt: 1}
	if err := store.UpsertPostWithRefs(ctx, post, owner, nil, nil); err != nil {
		t.Fatal(err)
	}
	pid := int64(1)
	lowURL := "https://img.example/thumb2.jpg"
	highURL := "https://img.example/large2.jpg"
	if err := store.InsertPictureIfAbsent(ctx, lowURL, "pic2", storage.Thumbnail, &pid, nil); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertPictureIfAbsent(ctx, highURL, "pic2", storage.Large, &pid, nil); err != nil {
		t.Fatal(err)
	}

	summary, err := CleanupPictures(ctx, store, repo, tasks, "", Lowest)
	if err != nil {
		t.Fatalf("CleanupPictures failed: %v", err)
	}
	if summary.GroupsProcessed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	remaining, err := store.QueryResolutionVariants(ctx, "pic2")
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].URL != lowURL {
		t.Fatalf("expected only the Thumbnail variant to remain, got %+v", remaining)
	}
}

func TestCleanupAvatarsKeepsOnlyCurrentAvatar(t *testing.T) {
	store, repo, tasks := newTestEnv(t)
	ctx := context.Background()
	currentURL := "https://img.example/av-new.jpg"
	staleURL := "https://img.example/av-old.jpg"
	owner := storage.User{ID: 5, ScreenName: "bob", AvatarLarge: currentURL}
	if err := store.UpsertUser(ctx, owner); err != nil {
		t.Fatal(err)
	}
	uid := int64(5)
	if err := store.InsertPictureIfAbsent(ctx, currentURL, "avatar-5", storage.RealOriginal, nil, &uid); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertPictureIfAbsent(ctx, staleURL, "avatar-5", storage.RealOriginal, nil, &uid); err != nil {
		t.Fatal(err)
	}
	stalePath := storeAndPath(t, repo, "av-old.jpg")
	if err := store.SetPicturePath(ctx, staleURL, stalePath); err != nil {
		t.Fatal(err)
	}

	summary, err := CleanupAvatars(ctx, store, repo, tasks, "")
	if err != nil {
		t.Fatalf("CleanupAvatars failed: %v", err)
	}
	if summary.GroupsProcessed != 1 || summary.VariantsRemoved != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	remaining, err := store.ListAvatarPicturesForUser(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].URL != currentURL {
		t.Fatalf("expected only the current avatar to remain, got %+v", remaining)
	}
	if _, err := os.Stat(repo.PathFor(stalePath)); !os.IsNotExist(err) {
		t.Fatal("expected the stale avatar file to be removed")
	}
}

func TestCleanupAvatarsSkipsUsersWithoutDuplicates(t *testing.T) {
	store, repo, tasks := newTestEnv(t)
	ctx := context.Background()
	owner := storage.User{ID: 9, ScreenName: "solo", AvatarLarge: "https://img.example/only.jpg"}
	if err := store.UpsertUser(ctx, owner); err != nil {
		t.Fatal(err)
	}
	uid := int64(9)
	if err := store.InsertPictureIfAbsent(ctx, owner.AvatarLarge, "avatar-9", storage.RealOriginal, nil, &uid); err != nil {
		t.Fatal(err)
	}

	summary, err := CleanupAvatars(ctx, store, repo, tasks, "")
	if err != nil {
		t.Fatalf("CleanupAvatars failed: %v", err)
	}
	if summary.GroupsProcessed != 0 {
		t.Fatalf("expected no groups processed when there's nothing stale, got %+v", summary)
	}
}
