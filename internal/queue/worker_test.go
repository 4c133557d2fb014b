package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/indexline/ingestd/internal/contentstore"
	"github.com/indexline/ingestd/internal/embedding"
	"github.com/indexline/ingestd/internal/storage"
	"github.com/indexline/ingestd/internal/syncer"
)

// fakeItemStore hands out a fixed list of items and records outcomes.
type fakeItemStore struct {
	items     []*storage.QueueItem
	completed []string
	failures  []fakeFailure
}

type fakeFailure struct {
	id        string
	message   string
	retryable bool
}

func (f *fakeItemStore) ClaimNextItem(itemTypes []string) (*storage.QueueItem, error) {
	if len(f.items) == 0 {
		return nil, nil
	}
	item := f.items[0]
	f.items = f.items[1:]
	return item, nil
}

func (f *fakeItemStore) CompleteItem(id string) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeItemStore) FailItem(id, errMsg string, retryable bool) error {
	f.failures = append(f.failures, fakeFailure{id: id, message: errMsg, retryable: retryable})
	return nil
}

// fakeSyncer records sync requests and returns a configurable error.
type fakeSyncer struct {
	requests []syncer.Request
	err      error
}

func (f *fakeSyncer) Sync(ctx context.Context, req syncer.Request) (syncer.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return syncer.Result{}, f.err
	}
	return syncer.Result{Action: syncer.ActionInserted, ChunkCount: 1}, nil
}

func urlItem(t *testing.T, id string, payload URLPayload) *storage.QueueItem {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &storage.QueueItem{ID: id, QueueID: "q1", ItemType: storage.ItemTypeURL, PayloadJSON: string(b)}
}

func TestRunOnceEmptyQueue(t *testing.T) {
	w := NewWorker(&fakeItemStore{}, &fakeSyncer{}, 0)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("RunOnce reported work on an empty queue")
	}
}

func TestRunOnceURLItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Docs</title></head><body><p>Welcome to the docs.</p></body></html>`))
	}))
	defer srv.Close()

	store := &fakeItemStore{items: []*storage.QueueItem{
		urlItem(t, "item-1", URLPayload{URL: srv.URL, BotID: "support"}),
	}}
	sync := &fakeSyncer{}
	w := NewWorker(store, sync, 0)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("RunOnce found no work")
	}

	if len(store.completed) != 1 || store.completed[0] != "item-1" {
		t.Errorf("completed = %v", store.completed)
	}
	if len(sync.requests) != 1 {
		t.Fatalf("sync called %d times", len(sync.requests))
	}
	req := sync.requests[0]
	if req.SourceURL != srv.URL || req.BotID != "support" {
		t.Errorf("sync request = %+v", req)
	}
	if req.ContentType != "page" {
		t.Errorf("content_type = %q, want page default", req.ContentType)
	}
	if !strings.Contains(req.Text, "Welcome to the docs.") || !strings.Contains(req.Text, "Docs") {
		t.Errorf("extracted text = %q", req.Text)
	}
}

func TestRunOnceFetchFailureRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store := &fakeItemStore{items: []*storage.QueueItem{
		urlItem(t, "item-1", URLPayload{URL: srv.URL}),
	}}
	w := NewWorker(store, &fakeSyncer{}, 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(store.failures) != 1 {
		t.Fatalf("failures = %v", store.failures)
	}
	if !store.failures[0].retryable {
		t.Error("fetch failure should be retryable")
	}
}

func TestRunOnceInvalidPayloadFailsFast(t *testing.T) {
	store := &fakeItemStore{items: []*storage.QueueItem{
		{ID: "bad-json", QueueID: "q1", ItemType: storage.ItemTypeURL, PayloadJSON: "{not json"},
		urlItem(t, "no-url", URLPayload{}),
	}}
	sync := &fakeSyncer{}
	w := NewWorker(store, sync, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := w.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce %d: %v", i, err)
		}
	}

	if len(store.failures) != 2 {
		t.Fatalf("failures = %v", store.failures)
	}
	for _, f := range store.failures {
		if f.retryable {
			t.Errorf("item %s: payload errors must not retry", f.id)
		}
	}
	if len(sync.requests) != 0 {
		t.Error("sync called for invalid payloads")
	}
}

func TestRunOnceSyncErrorRetryability(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"rate limited provider", &embedding.ProviderError{Provider: "openai", Kind: embedding.KindRateLimited, Message: "slow down"}, true},
		{"bad credentials", &embedding.ProviderError{Provider: "openai", Kind: embedding.KindAuth, Message: "denied"}, false},
		{"store unavailable", &contentstore.StoreError{Kind: contentstore.KindUnavailable, Err: errors.New("down")}, true},
		{"store conflict", &contentstore.StoreError{Kind: contentstore.KindConflict, Err: errors.New("clash")}, false},
		{"unknown error", errors.New("something odd"), true},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>text</p></body></html>`))
	}))
	defer srv.Close()

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeItemStore{items: []*storage.QueueItem{
				urlItem(t, "item-1", URLPayload{URL: srv.URL}),
			}}
			w := NewWorker(store, &fakeSyncer{err: tc.err}, 0)

			if _, err := w.RunOnce(context.Background()); err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			if len(store.failures) != 1 {
				t.Fatalf("failures = %v", store.failures)
			}
			if store.failures[0].retryable != tc.retryable {
				t.Errorf("retryable = %v, want %v", store.failures[0].retryable, tc.retryable)
			}
		})
	}
}

func TestRunOnceUnknownItemType(t *testing.T) {
	store := &fakeItemStore{items: []*storage.QueueItem{
		{ID: "weird", QueueID: "q1", ItemType: "carrier_pigeon", PayloadJSON: "{}"},
	}}
	w := NewWorker(store, &fakeSyncer{}, 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(store.failures) != 1 {
		t.Fatalf("failures = %v", store.failures)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	w := NewWorker(&fakeItemStore{}, &fakeSyncer{}, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
