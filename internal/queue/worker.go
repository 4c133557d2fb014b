// Package queue runs the background worker that drains the durable
// item queue: claim, fetch, sync, complete or fail with backoff.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/indexline/ingestd/internal/chunker"
	"github.com/indexline/ingestd/internal/contentstore"
	"github.com/indexline/ingestd/internal/embedding"
	"github.com/indexline/ingestd/internal/sources"
	"github.com/indexline/ingestd/internal/storage"
	"github.com/indexline/ingestd/internal/syncer"
)

// fetchTimeout bounds one page or PDF-page fetch.
const fetchTimeout = 15 * time.Second

// errInvalidPayload marks an item whose payload can never process.
var errInvalidPayload = errors.New("invalid item payload")

// ItemStore abstracts the durable queue operations.
type ItemStore interface {
	ClaimNextItem(itemTypes []string) (*storage.QueueItem, error)
	CompleteItem(id string) error
	FailItem(id string, errMsg string, retryable bool) error
}

// Syncer reconciles one document's text with the content store.
type Syncer interface {
	Sync(ctx context.Context, req syncer.Request) (syncer.Result, error)
}

// Worker processes url and pdf_page items from the queue.
type Worker struct {
	store  ItemStore
	syncer Syncer
	client *http.Client
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store ItemStore, sync Syncer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		syncer: sync,
		client: &http.Client{Timeout: fetchTimeout},
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for items until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single queue item.
// Returns true if an item was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	item, err := w.store.ClaimNextItem([]string{storage.ItemTypeURL, storage.ItemTypePDFPage})
	if err != nil {
		return false, fmt.Errorf("claiming item: %w", err)
	}
	if item == nil {
		return false, nil
	}

	if err := w.processItem(ctx, item); err != nil {
		retryable := isRetryable(err)
		w.logger.Warn("item failed",
			"item_id", item.ID, "queue_id", item.QueueID, "retryable", retryable, "error", err)
		if failErr := w.store.FailItem(item.ID, err.Error(), retryable); failErr != nil {
			w.logger.Error("failed to record item failure", "item_id", item.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteItem(item.ID); err != nil {
		return true, fmt.Errorf("completing item %s: %w", item.ID, err)
	}
	return true, nil
}

// URLPayload is the payload of a url item.
type URLPayload struct {
	URL         string `json:"url"`
	BotID       string `json:"bot_id,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// PDFPagePayload is the payload of a pdf_page item. SourceURL is the
// original PDF URL with a page fragment, so each page syncs as its own
// document.
type PDFPagePayload struct {
	FilePath  string `json:"file_path"`
	Page      int    `json:"page"`
	SourceURL string `json:"source_url"`
	BotID     string `json:"bot_id,omitempty"`
}

func (w *Worker) processItem(ctx context.Context, item *storage.QueueItem) error {
	switch item.ItemType {
	case storage.ItemTypeURL:
		return w.processURL(ctx, item)
	case storage.ItemTypePDFPage:
		return w.processPDFPage(ctx, item)
	default:
		return fmt.Errorf("unknown item type %q", item.ItemType)
	}
}

func (w *Worker) processURL(ctx context.Context, item *storage.QueueItem) error {
	var payload URLPayload
	if err := json.Unmarshal([]byte(item.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", errInvalidPayload)
	}
	if payload.URL == "" {
		return fmt.Errorf("%w: no url", errInvalidPayload)
	}

	text, err := sources.FetchPageText(ctx, w.client, payload.URL)
	if err != nil {
		return fmt.Errorf("fetching page: %w", err)
	}

	contentType := payload.ContentType
	if contentType == "" {
		contentType = "page"
	}

	_, err = w.syncer.Sync(ctx, syncer.Request{
		Text:        text,
		SourceURL:   payload.URL,
		BotID:       payload.BotID,
		ContentType: contentType,
	})
	return err
}

func (w *Worker) processPDFPage(ctx context.Context, item *storage.QueueItem) error {
	var payload PDFPagePayload
	if err := json.Unmarshal([]byte(item.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", errInvalidPayload)
	}
	if payload.FilePath == "" || payload.SourceURL == "" {
		return fmt.Errorf("%w: missing file_path or source_url", errInvalidPayload)
	}

	text, err := sources.PDFPageText(payload.FilePath, payload.Page)
	if err != nil {
		return fmt.Errorf("extracting page %d: %w", payload.Page, err)
	}

	_, err = w.syncer.Sync(ctx, syncer.Request{
		Text:        text,
		SourceURL:   payload.SourceURL,
		BotID:       payload.BotID,
		ContentType: "pdf",
	})
	return err
}

// isRetryable decides whether a processing error deserves another
// attempt. Transient provider and store failures retry with backoff;
// bad credentials, dimension mismatches, and malformed input fail the
// item immediately since repeating them cannot succeed. Errors of
// unknown provenance default to retryable so a flaky network does not
// burn items.
func isRetryable(err error) bool {
	var pe *embedding.ProviderError
	if errors.As(err, &pe) {
		return embedding.IsRetryable(err)
	}
	var se *contentstore.StoreError
	if errors.As(err, &se) {
		return contentstore.IsRetryable(err)
	}
	switch {
	case errors.Is(err, chunker.ErrEmptyContent),
		errors.Is(err, syncer.ErrMissingSourceURL),
		errors.Is(err, errInvalidPayload):
		return false
	}
	return true
}
