package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/indexline/ingestd/internal/queue"
	"github.com/indexline/ingestd/internal/sources"
	"github.com/indexline/ingestd/internal/storage"
)

// CreateQueueRequest submits a batch ingestion source.
type CreateQueueRequest struct {
	Type        string `json:"type"` // "sitemap" or "pdf"
	URL         string `json:"url"`
	BotID       string `json:"bot_id"`
	MaxAttempts int    `json:"max_attempts"`
}

// CreateQueueResponse reports the created queue.
type CreateQueueResponse struct {
	QueueID    string `json:"queue_id"`
	TotalItems int    `json:"total_items"`
}

func handleCreateQueue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req CreateQueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}

		switch req.Type {
		case "sitemap":
			createSitemapQueue(w, r, deps, req)
		case "pdf":
			createPDFQueue(w, r, deps, req)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "type must be sitemap or pdf")
		}
	}
}

func createSitemapQueue(w http.ResponseWriter, r *http.Request, deps Deps, req CreateQueueRequest) {
	urls, err := sources.FetchSitemapURLs(r.Context(), deps.HTTPClient, req.URL)
	if err != nil {
		httpError(w, http.StatusBadGateway, "api_error", "failed to fetch sitemap: %v", err)
		return
	}
	if len(urls) == 0 {
		httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "sitemap contains no urls")
		return
	}

	payloads := make([]string, 0, len(urls))
	for _, u := range urls {
		b, err := json.Marshal(queue.URLPayload{URL: u, BotID: req.BotID})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build payload: %v", err)
			return
		}
		payloads = append(payloads, string(b))
	}

	queueID := uuid.New().String()
	n, err := deps.Store.EnqueueBatch(queueID, storage.ItemTypeURL, payloads, req.BotID, req.MaxAttempts)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue items: %v", err)
		return
	}

	saveQueueMeta(deps.Store, queueID, "sitemap", req.URL, req.BotID, n, "")

	writeJSON(w, CreateQueueResponse{QueueID: queueID, TotalItems: n})
}

func createPDFQueue(w http.ResponseWriter, r *http.Request, deps Deps, req CreateQueueRequest) {
	path, err := sources.DownloadPDF(r.Context(), deps.HTTPClient, req.URL, deps.DataDir)
	if err != nil {
		httpError(w, http.StatusBadGateway, "api_error", "failed to download pdf: %v", err)
		return
	}

	pages, err := sources.PDFPageCount(path)
	if err != nil {
		os.Remove(path)
		httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "failed to read pdf: %v", err)
		return
	}
	if pages == 0 {
		os.Remove(path)
		httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "pdf has no pages")
		return
	}

	payloads := make([]string, 0, pages)
	for page := 1; page <= pages; page++ {
		b, err := json.Marshal(queue.PDFPagePayload{
			FilePath:  path,
			Page:      page,
			SourceURL: fmt.Sprintf("%s#page=%d", req.URL, page),
			BotID:     req.BotID,
		})
		if err != nil {
			os.Remove(path)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build payload: %v", err)
			return
		}
		payloads = append(payloads, string(b))
	}

	queueID := uuid.New().String()
	n, err := deps.Store.EnqueueBatch(queueID, storage.ItemTypePDFPage, payloads, req.BotID, req.MaxAttempts)
	if err != nil {
		os.Remove(path)
		httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue items: %v", err)
		return
	}

	saveQueueMeta(deps.Store, queueID, "pdf", req.URL, req.BotID, n, path)

	writeJSON(w, CreateQueueResponse{QueueID: queueID, TotalItems: n})
}

// saveQueueMeta records queue bookkeeping. Best effort: the items are
// already enqueued and metadata only feeds status display and cleanup.
func saveQueueMeta(store *storage.Store, queueID, queueType, sourceURL, botID string, total int, filePath string) {
	_ = store.SetQueueMeta(queueID, "queue_type", queueType)
	_ = store.SetQueueMeta(queueID, "source_url", sourceURL)
	_ = store.SetQueueMeta(queueID, "bot_id", botID)
	_ = store.SetQueueMeta(queueID, "total_items", fmt.Sprintf("%d", total))
	_ = store.SetQueueMeta(queueID, "created_at", time.Now().UTC().Format(time.RFC3339))
	if filePath != "" {
		_ = store.SetQueueMeta(queueID, "file_path", filePath)
	}
}

func handleQueueStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queueID := chi.URLParam(r, "queueID")

		status, err := deps.Store.Status(queueID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "queue not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get queue status: %v", err)
			return
		}

		// Terminal queues release the temp PDF if one is still around.
		if status.Complete {
			cleanupQueueFile(deps.Store, queueID)
		}

		writeJSON(w, status)
	}
}

func handleProcessQueue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		max := parseIntParam(r, "max", 1, 100)

		processed := 0
		for i := 0; i < max; i++ {
			done, err := deps.Runner.RunOnce(r.Context())
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "processing failed: %v", err)
				return
			}
			if !done {
				break
			}
			processed++
		}

		writeJSON(w, map[string]int{"processed": processed})
	}
}

func handleCancelQueue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queueID := chi.URLParam(r, "queueID")

		cleared, err := deps.Store.ClearQueue(queueID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to cancel queue: %v", err)
			return
		}

		cleanupQueueFile(deps.Store, queueID)
		if err := deps.Store.DeleteQueueMeta(queueID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear queue metadata: %v", err)
			return
		}

		writeJSON(w, map[string]any{"status": "cancelled", "cleared": cleared})
	}
}

func cleanupQueueFile(store *storage.Store, queueID string) {
	path, err := store.GetQueueMeta(queueID, "file_path")
	if err != nil || path == "" {
		return
	}
	_ = os.Remove(path)
	_ = store.SetQueueMeta(queueID, "file_path", "")
}
