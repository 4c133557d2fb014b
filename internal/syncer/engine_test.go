package syncer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/indexline/ingestd/internal/chunker"
	"github.com/indexline/ingestd/internal/contentstore"
	"github.com/indexline/ingestd/internal/storage"
)

type embedFunc func(ctx context.Context, text string) ([]float32, error)

func (f embedFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

func constEmbedder() Embedder {
	return embedFunc(func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 2, 3}, nil
	})
}

func openTestContentStore(t *testing.T) contentstore.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return contentstore.NewSQLiteStore(s.DB())
}

func TestSyncRequiresSourceURL(t *testing.T) {
	e := New(openTestContentStore(t), constEmbedder(), 100)
	_, err := e.Sync(context.Background(), Request{Text: "hello"})
	if !errors.Is(err, ErrMissingSourceURL) {
		t.Fatalf("got %v, want ErrMissingSourceURL", err)
	}
}

func TestSyncEmptyContent(t *testing.T) {
	e := New(openTestContentStore(t), constEmbedder(), 100)
	_, err := e.Sync(context.Background(), Request{Text: "   ", SourceURL: "https://example.com/a"})
	if !errors.Is(err, chunker.ErrEmptyContent) {
		t.Fatalf("got %v, want ErrEmptyContent", err)
	}
}

func TestSyncInsertThenUpdate(t *testing.T) {
	store := openTestContentStore(t)
	e := New(store, constEmbedder(), 100)
	ctx := context.Background()
	url := "https://example.com/post"

	res, err := e.Sync(ctx, Request{Text: "short post body", SourceURL: url})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Action != ActionInserted {
		t.Errorf("first sync action = %s, want inserted", res.Action)
	}
	if res.ChunkCount != 1 {
		t.Errorf("chunk count = %d, want 1", res.ChunkCount)
	}

	res, err = e.Sync(ctx, Request{Text: "short post body edited", SourceURL: url})
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if res.Action != ActionUpdated {
		t.Errorf("second sync action = %s, want updated", res.Action)
	}

	// Still one logical document.
	count, err := store.Count(ctx, "default", contentstore.Filter{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("documents = %d, want 1", count)
	}
}

// TestSyncShrinkLeavesNoOrphans re-syncs a long document with a short
// version and verifies the old chunk tail is gone.
func TestSyncShrinkLeavesNoOrphans(t *testing.T) {
	store := openTestContentStore(t)
	e := New(store, constEmbedder(), 50)
	ctx := context.Background()
	url := "https://example.com/shrinking"

	long := strings.Repeat("A sentence that fills a chunk nicely. ", 20)
	res, err := e.Sync(ctx, Request{Text: long, SourceURL: url})
	if err != nil {
		t.Fatalf("Sync long: %v", err)
	}
	if res.ChunkCount < 3 {
		t.Fatalf("long doc produced %d chunks, want >= 3", res.ChunkCount)
	}

	res, err = e.Sync(ctx, Request{Text: "tiny now", SourceURL: url})
	if err != nil {
		t.Fatalf("Sync short: %v", err)
	}
	if res.ChunkCount != 1 {
		t.Fatalf("short doc chunk count = %d, want 1", res.ChunkCount)
	}

	page, err := store.ListGroupedByURL(ctx, "default", 1, 10, contentstore.Filter{})
	if err != nil {
		t.Fatalf("ListGroupedByURL: %v", err)
	}
	if len(page.Groups) != 1 || page.Groups[0].ChunkCount != 1 {
		t.Errorf("stored groups = %+v, want one single-chunk doc", page.Groups)
	}
}

// TestSyncEmbedFailureCommitsNothing fails embedding for one chunk of a
// multi-chunk document and verifies the store is untouched.
func TestSyncEmbedFailureCommitsNothing(t *testing.T) {
	store := openTestContentStore(t)
	calls := 0
	failing := embedFunc(func(ctx context.Context, text string) ([]float32, error) {
		calls++
		if strings.Contains(text, "poison") {
			return nil, errors.New("embed blew up")
		}
		return []float32{1, 2, 3}, nil
	})
	e := New(store, failing, 50)
	ctx := context.Background()
	url := "https://example.com/doomed"

	text := strings.Repeat("Fine sentence here. ", 10) + "poison pill. " + strings.Repeat("More fine text. ", 10)
	if _, err := e.Sync(ctx, Request{Text: text, SourceURL: url}); err == nil {
		t.Fatal("expected sync to fail")
	}

	ok, err := store.Exists(ctx, url, "default")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Error("partial document committed after embed failure")
	}
	if calls == 0 {
		t.Error("embedder never called")
	}
}

func TestSyncIdempotent(t *testing.T) {
	store := openTestContentStore(t)
	e := New(store, constEmbedder(), 50)
	ctx := context.Background()
	url := "https://example.com/stable"
	text := strings.Repeat("Same text every time. ", 15)

	first, err := e.Sync(ctx, Request{Text: text, SourceURL: url})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	second, err := e.Sync(ctx, Request{Text: text, SourceURL: url})
	if err != nil {
		t.Fatalf("repeat Sync: %v", err)
	}
	if first.ChunkCount != second.ChunkCount {
		t.Errorf("chunk counts differ: %d vs %d", first.ChunkCount, second.ChunkCount)
	}

	page, err := store.ListGroupedByURL(ctx, "default", 1, 10, contentstore.Filter{})
	if err != nil {
		t.Fatalf("ListGroupedByURL: %v", err)
	}
	if len(page.Groups) != 1 || page.Groups[0].ChunkCount != first.ChunkCount {
		t.Errorf("groups = %+v", page.Groups)
	}
}

func TestSyncDefaults(t *testing.T) {
	store := openTestContentStore(t)
	e := New(store, constEmbedder(), 100)
	ctx := context.Background()

	if _, err := e.Sync(ctx, Request{Text: "body", SourceURL: "https://example.com/d"}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	page, err := store.ListGroupedByURL(ctx, "default", 1, 10, contentstore.Filter{})
	if err != nil {
		t.Fatalf("ListGroupedByURL: %v", err)
	}
	if len(page.Groups) != 1 {
		t.Fatal("document not stored under default bot")
	}
	rec := page.Groups[0].Records[0]
	if rec.ContentType != "post" {
		t.Errorf("content_type = %q, want post default", rec.ContentType)
	}
	if rec.RoleRestriction != "public" {
		t.Errorf("role_restriction = %q, want public default", rec.RoleRestriction)
	}
	if rec.CreatedAt.IsZero() || time.Since(rec.CreatedAt) > time.Minute {
		t.Errorf("created_at = %v", rec.CreatedAt)
	}
}

func TestSyncBotEmbedderDispatch(t *testing.T) {
	store := openTestContentStore(t)
	defaultCalls, botCalls := 0, 0
	e := New(store, embedFunc(func(ctx context.Context, text string) ([]float32, error) {
		defaultCalls++
		return []float32{1, 2, 3}, nil
	}), 100)
	e.RegisterBotEmbedder("support", embedFunc(func(ctx context.Context, text string) ([]float32, error) {
		botCalls++
		return []float32{4, 5, 6}, nil
	}))
	ctx := context.Background()

	if _, err := e.Sync(ctx, Request{Text: "body", SourceURL: "https://example.com/a", BotID: "support"}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if botCalls != 1 || defaultCalls != 0 {
		t.Errorf("support bot: default=%d bot=%d", defaultCalls, botCalls)
	}

	if _, err := e.Sync(ctx, Request{Text: "body", SourceURL: "https://example.com/b"}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if defaultCalls != 1 {
		t.Errorf("default bot did not use the default embedder: %d", defaultCalls)
	}
}

func TestDelete(t *testing.T) {
	store := openTestContentStore(t)
	e := New(store, constEmbedder(), 100)
	ctx := context.Background()
	url := "https://example.com/gone"

	if _, err := e.Sync(ctx, Request{Text: "body", SourceURL: url}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := e.Delete(ctx, url, ""); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	ok, _ := store.Exists(ctx, url, "default")
	if ok {
		t.Error("document survived delete")
	}

	if err := e.Delete(ctx, "", ""); !errors.Is(err, ErrMissingSourceURL) {
		t.Errorf("Delete without URL: got %v, want ErrMissingSourceURL", err)
	}
}
