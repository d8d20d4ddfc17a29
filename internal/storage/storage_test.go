package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "weiback.db")
	store, err := NewStore(dbPath, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewStoreAppliesSchemaAndMigrations(t *testing.T) {
	store := newTestStore(t)

	var name string
	err := store.write.QueryRow(`SELECT name FROM schema_migrations WHERE name = ?`, "20240101000000_posts_fts").Scan(&name)
	if err != nil {
		t.Fatalf("expected posts_fts migration recorded: %v", err)
	}
}

func TestUpsertPostWithRefsIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	owner := User{ID: 1, ScreenName: "alice"}
	post := Post{ID: 100, UID: 1, Text: "hello world", CreatedAt: 1000}

	if err := store.UpsertPostWithRefs(ctx, post, owner, nil, nil); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if err := store.UpsertPostWithRefs(ctx, post, owner, nil, nil); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	var count int
	if err := store.read.QueryRow(`SELECT COUNT(*) FROM posts`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one post row after repeated upsert, got %d", count)
	}
}

func TestUpsertPostWithRefsInsertsRetweetBeforeParent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	retweetOwner := User{ID: 2, ScreenName: "bob"}
	retweet := Post{ID: 200, UID: 2, Text: "original", CreatedAt: 500}
	owner := User{ID: 1, ScreenName: "alice"}
	rid := int64(200)
	post := Post{ID: 201, UID: 1, Text: "RT", CreatedAt: 600, RetweetedID: &rid}

	if err := store.UpsertPostWithRefs(ctx, post, owner, &retweet, &retweetOwner); err != nil {
		t.Fatalf("upsert with retweet failed: %v", err)
	}

	got, err := store.GetPost(ctx, 201)
	if err != nil {
		t.Fatalf("GetPost failed: %v", err)
	}
	if got.RetweetedID == nil || *got.RetweetedID != 200 {
		t.Fatalf("expected retweeted_id 200, got %v", got.RetweetedID)
	}

	if _, err := store.GetPost(ctx, 200); err != nil {
		t.Fatalf("expected retweet parent row to exist: %v", err)
	}
}

func TestUpsertPostRejectsDanglingUID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// UpsertPostWithRefs always upserts the owner first, so a bare
	// upsertPostTx call against a nonexistent uid is what actually
	// exercises the posts.uid foreign key.
	err := store.upsertPostTx(ctx, store.write, Post{ID: 1, UID: 999, Text: "orphan"})
	if err == nil {
		t.Fatal("expected foreign key violation for post referencing unknown uid")
	}
}

func TestMarkFavoritedThenUnfavorited(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	owner := User{ID: 1, ScreenName: "alice"}
	post := Post{ID: 100, UID: 1, Text: "hi", CreatedAt: 1}
	if err := store.UpsertPostWithRefs(ctx, post, owner, nil, nil); err != nil {
		t.Fatal(err)
	}

	if err := store.MarkFavorited(ctx, 100); err != nil {
		t.Fatal(err)
	}
	pending, err := store.ListPendingUnfavorited(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0] != 100 {
		t.Fatalf("expected [100] pending, got %v", pending)
	}

	if err := store.MarkUnfavorited(ctx, 100); err != nil {
		t.Fatal(err)
	}
	pending, err = store.ListPendingUnfavorited(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending unfavorites, got %v", pending)
	}
}

func TestDeletePostCascadeClearsChildRetweetRefsAndPictures(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	owner := User{ID: 1, ScreenName: "alice"}
	parent := Post{ID: 100, UID: 1, Text: "parent", CreatedAt: 1}
	if err := store.UpsertPostWithRefs(ctx, parent, owner, nil, nil); err != nil {
		t.Fatal(err)
	}
	pid := int64(100)
	child := Post{ID: 101, UID: 1, Text: "child retweets parent", CreatedAt: 2, RetweetedID: &pid}
	if err := store.UpsertPostWithRefs(ctx, child, owner, nil, nil); err != nil {
		t.Fatal(err)
	}

	if err := store.InsertPictureIfAbsent(ctx, "https://pic/1", "picA", Original, &pid, nil); err != nil {
		t.Fatal(err)
	}
	if err := store.SetPicturePath(ctx, "https://pic/1", "aa/picA.jpg"); err != nil {
		t.Fatal(err)
	}

	paths, err := store.DeletePostCascade(ctx, 100)
	if err != nil {
		t.Fatalf("DeletePostCascade failed: %v", err)
	}
	if len(paths) != 1 || paths[0] != "aa/picA.jpg" {
		t.Fatalf("expected removed picture path, got %v", paths)
	}

	if _, err := store.GetPost(ctx, 100); err != ErrNotFound {
		t.Fatalf("expected parent post deleted, got err=%v", err)
	}

	survivingChild, err := store.GetPost(ctx, 101)
	if err != nil {
		t.Fatalf("expected child post to survive: %v", err)
	}
	if survivingChild.RetweetedID != nil {
		t.Fatalf("expected child's retweeted_id cleared, got %v", survivingChild.RetweetedID)
	}
}

func TestQueryResolutionVariantsOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	owner := User{ID: 1, ScreenName: "alice"}
	post := Post{ID: 100, UID: 1, Text: "pic post", CreatedAt: 1}
	if err := store.UpsertPostWithRefs(ctx, post, owner, nil, nil); err != nil {
		t.Fatal(err)
	}
	pid := int64(100)
	if err := store.InsertPictureIfAbsent(ctx, "https://pic/thumb", "picA", Thumbnail, &pid, nil); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertPictureIfAbsent(ctx, "https://pic/orig", "picA", RealOriginal, &pid, nil); err != nil {
		t.Fatal(err)
	}

	variants, err := store.QueryResolutionVariants(ctx, "picA")
	if err != nil {
		t.Fatal(err)
	}
	if len(variants) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(variants))
	}

	best := variants[0]
	for _, v := range variants[1:] {
		if v.Definition > best.Definition {
			best = v
		}
	}
	if best.Definition != RealOriginal {
		t.Fatalf("expected RealOriginal to be the highest definition, got %v", best.Definition)
	}
}

func TestQueryUsersWithPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, u := range []User{{ID: 1, ScreenName: "alice"}, {ID: 2, ScreenName: "alicia"}, {ID: 3, ScreenName: "bob"}} {
		if err := store.UpsertUser(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := store.QueryUsersWithPrefix(ctx, "ali")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches for prefix 'ali', got %d", len(matches))
	}
}

func TestFTSRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	owner := User{ID: 1, ScreenName: "alice"}
	post := Post{ID: 100, UID: 1, Text: "a rare word xylophone appears here", CreatedAt: 1}
	if err := store.UpsertPostWithRefs(ctx, post, owner, nil, nil); err != nil {
		t.Fatal(err)
	}

	var id int64
	err := store.read.QueryRowContext(ctx, `
		SELECT posts.id FROM posts_fts
		JOIN posts ON posts.id = posts_fts.rowid
		WHERE posts_fts MATCH ?`, "xylophone").Scan(&id)
	if err != nil {
		t.Fatalf("expected FTS match: %v", err)
	}
	if id != 100 {
		t.Fatalf("expected match for post 100, got %d", id)
	}

	if _, err := store.DeletePostCascade(ctx, 100); err != nil {
		t.Fatal(err)
	}

	err = store.read.QueryRowContext(ctx, `SELECT rowid FROM posts_fts WHERE posts_fts MATCH ?`, "xylophone").Scan(&id)
	if err == nil {
		t.Fatal("expected FTS index entry to be removed after post deletion")
	}
}
