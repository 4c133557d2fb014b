// Package syncer reconciles document text with the content store:
// chunk, embed, then replace-by-URL with deterministic vector IDs.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/indexline/ingestd/internal/chunker"
	"github.com/indexline/ingestd/internal/contentstore"
)

// ErrMissingSourceURL is returned for a sync request without a source URL.
var ErrMissingSourceURL = errors.New("missing source url")

// embedConcurrency bounds parallel embedding calls per document.
const embedConcurrency = 4

// Embedder generates an embedding vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Engine drives the chunk/embed/replace pipeline. It does not retry:
// when invoked from the queue, retries are the queue's job.
type Engine struct {
	store        contentstore.Store
	embedder     Embedder
	botEmbedders map[string]Embedder
	maxChunkSize int
	logger       *slog.Logger
}

// New creates an Engine. maxChunkSize <= 0 selects the chunker default.
func New(store contentstore.Store, embedder Embedder, maxChunkSize int) *Engine {
	if maxChunkSize <= 0 {
		maxChunkSize = chunker.DefaultMaxChunkSize
	}
	return &Engine{
		store:        store,
		embedder:     embedder,
		botEmbedders: make(map[string]Embedder),
		maxChunkSize: maxChunkSize,
		logger:       slog.Default(),
	}
}

// RegisterBotEmbedder routes a bot's documents through its own
// embedding provider. Bots without a registration use the default
// embedder. Not safe to call after the engine starts serving.
func (e *Engine) RegisterBotEmbedder(botID string, em Embedder) {
	e.botEmbedders[botID] = em
}

func (e *Engine) embedderFor(botID string) Embedder {
	if em, ok := e.botEmbedders[botID]; ok {
		return em
	}
	return e.embedder
}

// Action classifies a sync outcome. Informational only; both paths
// behave identically.
type Action string

const (
	ActionInserted Action = "inserted"
	ActionUpdated  Action = "updated"
)

// Request is one document to reconcile.
type Request struct {
	Text            string
	SourceURL       string
	BotID           string
	ContentType     string
	RoleRestriction string
}

// Result reports what a sync did.
type Result struct {
	Action     Action `json:"action"`
	ChunkCount int    `json:"chunk_count"`
	Truncated  bool   `json:"truncated"`
}

// Sync replaces whatever the store holds for the request's source URL
// with the chunked, embedded form of req.Text. Embedding failures abort
// the whole operation before anything is written: a partially embedded
// document is never committed. Stale chunk-index tails from a
// previously longer document are removed by the store's replace.
func (e *Engine) Sync(ctx context.Context, req Request) (Result, error) {
	if req.SourceURL == "" {
		return Result{}, ErrMissingSourceURL
	}
	botID := req.BotID
	if botID == "" {
		botID = "default"
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "post"
	}

	split, err := chunker.Split(req.Text, e.maxChunkSize)
	if err != nil {
		return Result{}, err
	}
	if split.Truncated {
		e.logger.Warn("content truncated at safety ceiling", "source_url", req.SourceURL)
	}

	embedder := e.embedderFor(botID)
	segments := split.Segments
	embeddings := make([][]float32, len(segments))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			vec, err := embedder.Embed(gCtx, seg.Text)
			if err != nil {
				return fmt.Errorf("embedding chunk %d: %w", i, err)
			}
			embeddings[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	exists, err := e.store.Exists(ctx, req.SourceURL, botID)
	if err != nil {
		return Result{}, fmt.Errorf("checking prior state for %s: %w", req.SourceURL, err)
	}

	now := time.Now().UTC()
	chunks := make([]contentstore.Chunk, len(segments))
	for i, seg := range segments {
		chunks[i] = contentstore.Chunk{
			VectorID:        contentstore.VectorID(req.SourceURL, seg.Index, seg.Total),
			SourceURL:       req.SourceURL,
			ChunkIndex:      seg.Index,
			TotalChunks:     seg.Total,
			Text:            seg.Text,
			Embedding:       embeddings[i],
			RoleRestriction: req.RoleRestriction,
			ContentType:     contentType,
			CreatedAt:       now,
		}
	}

	if err := e.store.UpsertChunks(ctx, req.SourceURL, botID, chunks); err != nil {
		return Result{}, err
	}

	action := ActionInserted
	if exists {
		action = ActionUpdated
	}
	e.logger.Info("synced document",
		"source_url", req.SourceURL, "bot_id", botID, "action", string(action), "chunks", len(chunks))

	return Result{Action: action, ChunkCount: len(chunks), Truncated: split.Truncated}, nil
}

// Delete removes every stored chunk for the source URL.
func (e *Engine) Delete(ctx context.Context, sourceURL, botID string) error {
	if sourceURL == "" {
		return ErrMissingSourceURL
	}
	if botID == "" {
		botID = "default"
	}
	if err := e.store.DeleteByURL(ctx, sourceURL, botID); err != nil {
		return err
	}
	e.logger.Info("deleted document", "source_url", sourceURL, "bot_id", botID)
	return nil
}
