// Package api exposes the HTTP surface: direct sync and delete,
// document listing, queue submission and polling, and content
// lifecycle event webhooks.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/indexline/ingestd/internal/contentstore"
	"github.com/indexline/ingestd/internal/embedding"
	"github.com/indexline/ingestd/internal/listener"
	"github.com/indexline/ingestd/internal/storage"
	"github.com/indexline/ingestd/internal/syncer"
)

const maxSyncBodySize = 10 << 20 // 10MB
const maxRequestBodySize = 1 << 20

// QueueRunner processes queue items on demand, for the manual
// process endpoint. Returns whether an item was handled.
type QueueRunner interface {
	RunOnce(ctx context.Context) (bool, error)
}

// Deps carries the wired components the handlers operate on.
type Deps struct {
	Store      *storage.Store
	Content    contentstore.Store
	Engine     *syncer.Engine
	Listener   *listener.Listener
	Runner     QueueRunner
	Token      string
	HTTPClient *http.Client
	DataDir    string
}

// NewHandler builds the authenticated API router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/sync", handleSync(deps))

		r.Get("/documents", handleListDocuments(deps))
		r.Delete("/documents", handleDeleteByURL(deps))
		r.Delete("/documents/{vectorID}", handleDeleteByID(deps))

		r.Post("/queues", handleCreateQueue(deps))
		r.Get("/queues/{queueID}/status", handleQueueStatus(deps))
		r.Post("/queues/{queueID}/process", handleProcessQueue(deps))
		r.Delete("/queues/{queueID}", handleCancelQueue(deps))

		r.Post("/events/publish", handlePublishEvent(deps))
		r.Post("/events/unpublish", handleUnpublishEvent(deps))
		r.Post("/events/transition", handleTransitionEvent(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// SyncRequest is the direct sync payload.
type SyncRequest struct {
	Text            string `json:"text"`
	SourceURL       string `json:"source_url"`
	BotID           string `json:"bot_id"`
	ContentType     string `json:"content_type"`
	RoleRestriction string `json:"role_restriction"`
}

func handleSync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSyncBodySize)
		defer r.Body.Close()

		var req SyncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.SourceURL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "source_url is required")
			return
		}

		result, err := deps.Engine.Sync(r.Context(), syncer.Request{
			Text:            req.Text,
			SourceURL:       req.SourceURL,
			BotID:           req.BotID,
			ContentType:     req.ContentType,
			RoleRestriction: req.RoleRestriction,
		})
		if err != nil {
			writeSyncError(w, err)
			return
		}

		writeJSON(w, result)
	}
}

// writeSyncError maps engine failures onto HTTP statuses: caller
// mistakes are 4xx, provider and store trouble is 502/429.
func writeSyncError(w http.ResponseWriter, err error) {
	var pe *embedding.ProviderError
	switch {
	case errors.Is(err, syncer.ErrMissingSourceURL):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.As(err, &pe) && pe.Kind == embedding.KindRateLimited:
		httpError(w, http.StatusTooManyRequests, "rate_limit_error", "%v", err)
	case errors.As(err, &pe):
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	case contentstore.IsRetryable(err):
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	default:
		httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "%v", err)
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := parseIntParam(r, "page", 1, 0)
		pageSize := parseIntParam(r, "page_size", 10, 100)
		botID := r.URL.Query().Get("bot_id")
		if botID == "" {
			botID = "default"
		}
		f := contentstore.Filter{
			ContentType: r.URL.Query().Get("content_type"),
			Search:      r.URL.Query().Get("search"),
		}

		result, err := deps.Content.ListGroupedByURL(r.Context(), botID, page, pageSize, f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}

		writeJSON(w, result)
	}
}

func handleDeleteByURL(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sourceURL := r.URL.Query().Get("source_url")
		if sourceURL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "source_url is required")
			return
		}
		botID := r.URL.Query().Get("bot_id")

		if err := deps.Engine.Delete(r.Context(), sourceURL, botID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}

		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleDeleteByID(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vectorID := chi.URLParam(r, "vectorID")
		botID := r.URL.Query().Get("bot_id")
		if botID == "" {
			botID = "default"
		}

		if err := deps.Content.DeleteByID(r.Context(), vectorID, botID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete vector: %v", err)
			return
		}

		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handlePublishEvent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSyncBodySize)
		defer r.Body.Close()

		var ev listener.PublishEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		result, err := deps.Listener.OnPublish(r.Context(), ev)
		if err != nil {
			writeSyncError(w, err)
			return
		}

		writeJSON(w, result)
	}
}

func handleUnpublishEvent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var ev struct {
			SourceURL string `json:"source_url"`
			BotID     string `json:"bot_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if ev.SourceURL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "source_url is required")
			return
		}

		if err := deps.Listener.OnRemove(r.Context(), ev.SourceURL, ev.BotID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remove document: %v", err)
			return
		}

		writeJSON(w, map[string]string{"status": "removed"})
	}
}

func handleTransitionEvent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var ev listener.TransitionEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if err := deps.Listener.OnTransition(r.Context(), ev); err != nil {
			if errors.Is(err, syncer.ErrMissingSourceURL) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "previous_url is required when leaving published state")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to handle transition: %v", err)
			return
		}

		writeJSON(w, map[string]string{"status": "ok"})
	}
}
