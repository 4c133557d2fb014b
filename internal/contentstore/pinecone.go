package contentstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/indexline/ingestd/internal/pinecone"
)

// scanCap bounds how many vector IDs a single reconciliation scan will
// pull from the remote index. Listings beyond the cap are an
// approximation: the index has no query-by-url access path, so an
// exhaustive walk of a large namespace is not affordable per request.
const scanCap = 500

// listPageSize is the page size for /vectors/list calls.
const listPageSize = 100

// Compile-time check that PineconeStore implements Store.
var _ Store = (*PineconeStore)(nil)

// indexClient is the slice of the pinecone client the store uses.
type indexClient interface {
	Upsert(ctx context.Context, namespace string, vectors []pinecone.Vector) error
	Fetch(ctx context.Context, namespace string, ids []string) (map[string]pinecone.Vector, error)
	Delete(ctx context.Context, namespace string, ids []string) error
	DeleteByFilter(ctx context.Context, namespace string, filter map[string]interface{}) error
	List(ctx context.Context, namespace, prefix string, limit int, paginationToken string) ([]string, string, error)
	Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]interface{}) ([]pinecone.Match, error)
	DescribeIndexStats(ctx context.Context) (pinecone.IndexStats, error)
}

// RoleStore keeps per-vector access-control roles. The remote index's
// metadata cannot be updated in place for role changes without a full
// re-embed, so roles live in the local side table and are joined at
// read time.
type RoleStore interface {
	SetRoleRestriction(vectorID, botID, role string) error
	GetRoleRestrictions(vectorIDs []string, botID string) (map[string]string, error)
	DeleteRoleRestrictions(vectorIDs []string, botID string) error
}

// PineconeStore keeps chunks in a remote vector index, one namespace
// per bot.
type PineconeStore struct {
	index indexClient
	roles RoleStore
}

// NewPineconeStore creates a store over the given index client and
// role side store.
func NewPineconeStore(index indexClient, roles RoleStore) *PineconeStore {
	return &PineconeStore{index: index, roles: roles}
}

// mapErr converts client failures into typed StoreErrors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var api *pinecone.APIError
	if errors.As(err, &api) {
		switch {
		case api.StatusCode == http.StatusTooManyRequests:
			return &StoreError{Kind: KindRateLimited, Err: err}
		case api.StatusCode == http.StatusConflict:
			return &StoreError{Kind: KindConflict, Err: err}
		case api.StatusCode >= 500:
			return &StoreError{Kind: KindUnavailable, Err: err}
		default:
			return &StoreError{Kind: KindUnknown, Err: err}
		}
	}
	// Transport-level failure: the index is unreachable.
	return &StoreError{Kind: KindUnavailable, Err: err}
}

// listUnsupported reports whether the error means the index tier does
// not serve the /vectors/list endpoint at all, as opposed to a
// transient failure.
func listUnsupported(err error) bool {
	var api *pinecone.APIError
	if !errors.As(err, &api) {
		return false
	}
	switch api.StatusCode {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return true
	}
	return false
}

// queryScan is the last-resort discovery path for index tiers without
// listing support: a zero-vector similarity query capped at scanCap
// records, optionally filtered on metadata. The vector dimension comes
// from describe_index_stats since the store itself never sees
// embeddings' width.
func (s *PineconeStore) queryScan(ctx context.Context, botID string, filter map[string]interface{}) ([]pinecone.Match, error) {
	stats, err := s.index.DescribeIndexStats(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	if stats.Dimension <= 0 {
		return nil, &StoreError{Kind: KindUnknown, Err: fmt.Errorf("index reports dimension %d", stats.Dimension)}
	}

	matches, err := s.index.Query(ctx, botID, make([]float32, stats.Dimension), scanCap, filter)
	if err != nil {
		return nil, mapErr(err)
	}
	return matches, nil
}

// existingIDs discovers the vector IDs currently stored for a document.
// The deterministic ID scheme covers the single-chunk form directly;
// chunk-index variants come from a bounded prefix listing, or from a
// capped metadata-filtered query when the index cannot list.
func (s *PineconeStore) existingIDs(ctx context.Context, sourceURL, botID string) ([]string, error) {
	var ids []string

	base := URLHash(sourceURL)
	found, err := s.index.Fetch(ctx, botID, []string{base})
	if err != nil {
		return nil, mapErr(err)
	}
	if _, ok := found[base]; ok {
		ids = append(ids, base)
	}

	token := ""
	for len(ids) < scanCap {
		pageIDs, next, err := s.index.List(ctx, botID, ChunkIDPrefix(sourceURL), listPageSize, token)
		if listUnsupported(err) {
			matches, scanErr := s.queryScan(ctx, botID, map[string]interface{}{
				"source_url": map[string]interface{}{"$eq": sourceURL},
			})
			if scanErr != nil {
				return nil, scanErr
			}
			for _, m := range matches {
				if m.ID != base {
					ids = append(ids, m.ID)
				}
			}
			return ids, nil
		}
		if err != nil {
			return nil, mapErr(err)
		}
		ids = append(ids, pageIDs...)
		if next == "" {
			break
		}
		token = next
	}

	return ids, nil
}

// UpsertChunks replaces the stored chunk set for the document:
// previously stored IDs that are not part of the new set are deleted,
// then the new vectors are upserted (shared IDs are overwritten in
// place). The two steps are separate HTTP calls against a remote
// service, so a crash between them leaves the document temporarily
// absent until the next sync. The remote API offers no transaction to
// close that window.
func (s *PineconeStore) UpsertChunks(ctx context.Context, sourceURL, botID string, chunks []Chunk) error {
	oldIDs, err := s.existingIDs(ctx, sourceURL, botID)
	if err != nil {
		return err
	}

	newIDs := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		newIDs[c.VectorID] = true
	}

	var stale []string
	for _, id := range oldIDs {
		if !newIDs[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := s.index.Delete(ctx, botID, stale); err != nil {
			return mapErr(err)
		}
		if err := s.roles.DeleteRoleRestrictions(stale, botID); err != nil {
			return fmt.Errorf("deleting stale role restrictions: %w", err)
		}
	}

	vectors := make([]pinecone.Vector, len(chunks))
	for i, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		vectors[i] = pinecone.Vector{
			ID:     c.VectorID,
			Values: c.Embedding,
			Metadata: map[string]interface{}{
				"source_url":   c.SourceURL,
				"chunk_index":  c.ChunkIndex,
				"total_chunks": c.TotalChunks,
				"text":         c.Text,
				"content_type": c.ContentType,
				"created_at":   createdAt.Format(time.RFC3339),
			},
		}
	}
	if err := s.index.Upsert(ctx, botID, vectors); err != nil {
		return mapErr(err)
	}

	for _, c := range chunks {
		role := c.RoleRestriction
		if role == "" {
			role = "public"
		}
		if err := s.roles.SetRoleRestriction(c.VectorID, botID, role); err != nil {
			return fmt.Errorf("recording role restriction for %s: %w", c.VectorID, err)
		}
	}

	return nil
}

// DeleteByURL removes every chunk of the document: the deterministic
// IDs that can be computed plus whatever the prefix listing discovers,
// with a metadata-filter delete as the final sweep for anything the
// capped listing missed.
func (s *PineconeStore) DeleteByURL(ctx context.Context, sourceURL, botID string) error {
	ids, err := s.existingIDs(ctx, sourceURL, botID)
	if err != nil {
		return err
	}

	if len(ids) > 0 {
		if err := s.index.Delete(ctx, botID, ids); err != nil {
			return mapErr(err)
		}
		if err := s.roles.DeleteRoleRestrictions(ids, botID); err != nil {
			return fmt.Errorf("deleting role restrictions: %w", err)
		}
	}

	if err := s.index.DeleteByFilter(ctx, botID, map[string]interface{}{
		"source_url": map[string]interface{}{"$eq": sourceURL},
	}); err != nil {
		return mapErr(err)
	}

	return nil
}

// DeleteByID removes a single vector and its role row.
func (s *PineconeStore) DeleteByID(ctx context.Context, vectorID, botID string) error {
	if err := s.index.Delete(ctx, botID, []string{vectorID}); err != nil {
		return mapErr(err)
	}
	if err := s.roles.DeleteRoleRestrictions([]string{vectorID}, botID); err != nil {
		return fmt.Errorf("deleting role restriction: %w", err)
	}
	return nil
}

// Exists probes the single-chunk ID first, then the chunk prefix.
func (s *PineconeStore) Exists(ctx context.Context, sourceURL, botID string) (bool, error) {
	base := URLHash(sourceURL)
	found, err := s.index.Fetch(ctx, botID, []string{base})
	if err != nil {
		return false, mapErr(err)
	}
	if _, ok := found[base]; ok {
		return true, nil
	}

	ids, _, err := s.index.List(ctx, botID, ChunkIDPrefix(sourceURL), 1, "")
	if listUnsupported(err) {
		matches, scanErr := s.queryScan(ctx, botID, map[string]interface{}{
			"source_url": map[string]interface{}{"$eq": sourceURL},
		})
		if scanErr != nil {
			return false, scanErr
		}
		return len(matches) > 0, nil
	}
	if err != nil {
		return false, mapErr(err)
	}
	return len(ids) > 0, nil
}

// scanChunks walks the namespace listing (bounded by scanCap) and
// fetches metadata for every ID found. Index tiers without listing
// support are scanned with a capped zero-vector query instead. Either
// way the result is approximate on namespaces larger than the cap,
// which listing callers accept.
func (s *PineconeStore) scanChunks(ctx context.Context, botID string) ([]Chunk, error) {
	var ids []string
	token := ""
	for len(ids) < scanCap {
		pageIDs, next, err := s.index.List(ctx, botID, "", listPageSize, token)
		if listUnsupported(err) {
			return s.queryScanChunks(ctx, botID)
		}
		if err != nil {
			return nil, mapErr(err)
		}
		ids = append(ids, pageIDs...)
		if next == "" {
			break
		}
		token = next
	}
	if len(ids) > scanCap {
		ids = ids[:scanCap]
	}
	if len(ids) == 0 {
		return nil, nil
	}

	roles, err := s.roles.GetRoleRestrictions(ids, botID)
	if err != nil {
		return nil, fmt.Errorf("loading role restrictions: %w", err)
	}

	var chunks []Chunk
	for start := 0; start < len(ids); start += listPageSize {
		end := start + listPageSize
		if end > len(ids) {
			end = len(ids)
		}
		vectors, err := s.index.Fetch(ctx, botID, ids[start:end])
		if err != nil {
			return nil, mapErr(err)
		}
		for _, id := range ids[start:end] {
			v, ok := vectors[id]
			if !ok {
				continue
			}
			c := chunkFromMetadata(id, v.Metadata)
			if role, ok := roles[id]; ok {
				c.RoleRestriction = role
			} else {
				c.RoleRestriction = "public"
			}
			chunks = append(chunks, c)
		}
	}

	return chunks, nil
}

// queryScanChunks builds the scan result straight from query matches:
// the matches already carry metadata, so no follow-up fetch is needed.
func (s *PineconeStore) queryScanChunks(ctx context.Context, botID string) ([]Chunk, error) {
	matches, err := s.queryScan(ctx, botID, nil)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	roles, err := s.roles.GetRoleRestrictions(ids, botID)
	if err != nil {
		return nil, fmt.Errorf("loading role restrictions: %w", err)
	}

	chunks := make([]Chunk, 0, len(matches))
	for _, m := range matches {
		c := chunkFromMetadata(m.ID, m.Metadata)
		if role, ok := roles[m.ID]; ok {
			c.RoleRestriction = role
		} else {
			c.RoleRestriction = "public"
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func chunkFromMetadata(id string, md map[string]interface{}) Chunk {
	c := Chunk{VectorID: id}
	if s, ok := md["source_url"].(string); ok {
		c.SourceURL = s
	}
	if f, ok := md["chunk_index"].(float64); ok {
		c.ChunkIndex = int(f)
	}
	if f, ok := md["total_chunks"].(float64); ok {
		c.TotalChunks = int(f)
	}
	if s, ok := md["text"].(string); ok {
		c.Text = s
	}
	if s, ok := md["content_type"].(string); ok {
		c.ContentType = s
	}
	if s, ok := md["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			c.CreatedAt = t
		}
	}
	return c
}

func matchesFilter(c Chunk, f Filter) bool {
	if f.ContentType != "" && c.ContentType != f.ContentType {
		return false
	}
	if f.Search != "" && !containsFold(c.SourceURL, f.Search) {
		return false
	}
	return true
}

// ListGroupedByURL groups the scanned namespace by source URL and pages
// over the groups in memory.
func (s *PineconeStore) ListGroupedByURL(ctx context.Context, botID string, page, pageSize int, f Filter) (GroupedPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	chunks, err := s.scanChunks(ctx, botID)
	if err != nil {
		return GroupedPage{}, err
	}

	byURL := make(map[string][]Chunk)
	for _, c := range chunks {
		if !matchesFilter(c, f) {
			continue
		}
		byURL[c.SourceURL] = append(byURL[c.SourceURL], c)
	}

	urls := make([]string, 0, len(byURL))
	for u := range byURL {
		urls = append(urls, u)
	}
	// Newest first, URL as tiebreak, matching the SQLite backend.
	sort.Slice(urls, func(i, j int) bool {
		ti := newestCreatedAt(byURL[urls[i]])
		tj := newestCreatedAt(byURL[urls[j]])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return urls[i] < urls[j]
	})

	result := GroupedPage{Groups: []Group{}, TotalGroups: len(urls)}
	start := (page - 1) * pageSize
	if start >= len(urls) {
		return result, nil
	}
	end := start + pageSize
	if end > len(urls) {
		end = len(urls)
	}

	for _, u := range urls[start:end] {
		records := byURL[u]
		sort.Slice(records, func(i, j int) bool { return records[i].ChunkIndex < records[j].ChunkIndex })
		result.Groups = append(result.Groups, Group{
			SourceURL:  u,
			ChunkCount: len(records),
			Records:    records,
		})
	}

	return result, nil
}

func newestCreatedAt(chunks []Chunk) time.Time {
	var newest time.Time
	for _, c := range chunks {
		if c.CreatedAt.After(newest) {
			newest = c.CreatedAt
		}
	}
	return newest
}

// Count returns the number of logical documents found by the bounded
// namespace scan.
func (s *PineconeStore) Count(ctx context.Context, botID string, f Filter) (int, error) {
	chunks, err := s.scanChunks(ctx, botID)
	if err != nil {
		return 0, err
	}

	urls := make(map[string]bool)
	for _, c := range chunks {
		if matchesFilter(c, f) {
			urls[c.SourceURL] = true
		}
	}
	return len(urls), nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
