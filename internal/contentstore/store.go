// Package contentstore persists chunked document embeddings and keeps
// replace/delete semantics consistent across two interchangeable
// backends: a local SQLite table and a remote Pinecone-style index.
// Callers never branch on the backend type.
package contentstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies store failures for retry decisions.
type ErrorKind string

const (
	KindUnavailable ErrorKind = "unavailable"
	KindRateLimited ErrorKind = "rate_limited"
	KindConflict    ErrorKind = "conflict"
	KindUnknown     ErrorKind = "unknown"
)

// StoreError is a typed backend failure.
type StoreError struct {
	Kind ErrorKind
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("content store: %s: %v", e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient store failure worth
// another queue attempt.
func IsRetryable(err error) bool {
	var se *StoreError
	if !errors.As(err, &se) {
		return false
	}
	return se.Kind == KindUnavailable || se.Kind == KindRateLimited
}

// Chunk is one stored segment of a document. All chunks sharing a
// source URL (within a bot) form one logical document with contiguous
// indices 0..TotalChunks-1.
type Chunk struct {
	VectorID        string    `json:"vector_id"`
	SourceURL       string    `json:"source_url"`
	ChunkIndex      int       `json:"chunk_index"`
	TotalChunks     int       `json:"total_chunks"`
	Text            string    `json:"text"`
	Embedding       []float32 `json:"-"`
	RoleRestriction string    `json:"role_restriction"`
	ContentType     string    `json:"content_type"`
	CreatedAt       time.Time `json:"created_at"`
}

// Filter narrows listing and counting.
type Filter struct {
	ContentType string
	Search      string // substring match on source URL
}

// Group is one logical document: all chunks for a source URL.
type Group struct {
	SourceURL  string  `json:"source_url"`
	ChunkCount int     `json:"chunk_count"`
	Records    []Chunk `json:"records"`
}

// GroupedPage is one page of logical documents. Pagination is over
// documents, not raw chunk rows: a multi-chunk document is one entry.
type GroupedPage struct {
	Groups      []Group `json:"groups"`
	TotalGroups int     `json:"total_groups"`
}

// Store is the backend-agnostic chunk persistence contract.
type Store interface {
	// UpsertChunks replaces any existing chunk set for (sourceURL,
	// botID) with chunks. The SQLite backend does this in a single
	// transaction; the remote backend is delete-then-insert and
	// documents its non-atomicity.
	UpsertChunks(ctx context.Context, sourceURL, botID string, chunks []Chunk) error

	// DeleteByURL removes every chunk of the document, including
	// chunk-index variants the caller does not know about.
	DeleteByURL(ctx context.Context, sourceURL, botID string) error

	// DeleteByID removes a single vector.
	DeleteByID(ctx context.Context, vectorID, botID string) error

	// Exists reports whether any chunk is stored for the document.
	Exists(ctx context.Context, sourceURL, botID string) (bool, error)

	// ListGroupedByURL pages over logical documents. Page is 1-based.
	ListGroupedByURL(ctx context.Context, botID string, page, pageSize int, f Filter) (GroupedPage, error)

	// Count returns the number of logical documents.
	Count(ctx context.Context, botID string, f Filter) (int, error)
}

// URLHash returns the deterministic base identifier for a source URL.
func URLHash(sourceURL string) string {
	sum := md5.Sum([]byte(sourceURL))
	return hex.EncodeToString(sum[:])
}

// VectorID derives the deterministic vector ID for one chunk: the URL
// hash alone for a single-chunk document, or hash_chunk_N for
// multi-chunk. The scheme lets the sync engine compute which IDs must
// exist without reading the store first.
func VectorID(sourceURL string, index, total int) string {
	base := URLHash(sourceURL)
	if total <= 1 {
		return base
	}
	return fmt.Sprintf("%s_chunk_%d", base, index)
}

// ChunkIDPrefix is the listing prefix that matches every chunk-index
// variant of a multi-chunk document.
func ChunkIDPrefix(sourceURL string) string {
	return URLHash(sourceURL) + "_chunk_"
}
