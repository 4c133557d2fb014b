package contentstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/indexline/ingestd/internal/pinecone"
)

// fakeIndex is an in-memory stand-in for the remote index.
type fakeIndex struct {
	mu        sync.Mutex
	vectors   map[string]map[string]pinecone.Vector // namespace -> id -> vector
	dimension int
	err       error // when set, every call fails with it
	listErr   error // when set, List alone fails with it
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{vectors: make(map[string]map[string]pinecone.Vector), dimension: 3}
}

func (f *fakeIndex) ns(namespace string) map[string]pinecone.Vector {
	if f.vectors[namespace] == nil {
		f.vectors[namespace] = make(map[string]pinecone.Vector)
	}
	return f.vectors[namespace]
}

func (f *fakeIndex) Upsert(ctx context.Context, namespace string, vectors []pinecone.Vector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	ns := f.ns(namespace)
	for _, v := range vectors {
		ns[v.ID] = v
	}
	return nil
}

func (f *fakeIndex) Fetch(ctx context.Context, namespace string, ids []string) (map[string]pinecone.Vector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]pinecone.Vector)
	ns := f.ns(namespace)
	for _, id := range ids {
		if v, ok := ns[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (f *fakeIndex) Delete(ctx context.Context, namespace string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	ns := f.ns(namespace)
	for _, id := range ids {
		delete(ns, id)
	}
	return nil
}

func (f *fakeIndex) DeleteByFilter(ctx context.Context, namespace string, filter map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cond, _ := filter["source_url"].(map[string]interface{})
	want, _ := cond["$eq"].(string)
	ns := f.ns(namespace)
	for id, v := range ns {
		if u, _ := v.Metadata["source_url"].(string); u == want {
			delete(ns, id)
		}
	}
	return nil
}

func (f *fakeIndex) List(ctx context.Context, namespace, prefix string, limit int, paginationToken string) ([]string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, "", f.err
	}
	if f.listErr != nil {
		return nil, "", f.listErr
	}
	var ids []string
	for id := range f.ns(namespace) {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, "", nil
}

func (f *fakeIndex) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]interface{}) ([]pinecone.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	wantURL := ""
	if cond, ok := filter["source_url"].(map[string]interface{}); ok {
		wantURL, _ = cond["$eq"].(string)
	}
	ns := f.ns(namespace)
	var ids []string
	for id, v := range ns {
		if wantURL != "" {
			if u, _ := v.Metadata["source_url"].(string); u != wantURL {
				continue
			}
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if topK > 0 && len(ids) > topK {
		ids = ids[:topK]
	}
	matches := make([]pinecone.Match, len(ids))
	for i, id := range ids {
		matches[i] = pinecone.Match{ID: id, Metadata: ns[id].Metadata}
	}
	return matches, nil
}

func (f *fakeIndex) DescribeIndexStats(ctx context.Context) (pinecone.IndexStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return pinecone.IndexStats{}, f.err
	}
	stats := pinecone.IndexStats{Dimension: f.dimension, Namespaces: map[string]pinecone.NamespaceStats{}}
	for ns, vectors := range f.vectors {
		stats.TotalVectorCount += len(vectors)
		stats.Namespaces[ns] = pinecone.NamespaceStats{VectorCount: len(vectors)}
	}
	return stats, nil
}

// fakeRoles is an in-memory RoleStore.
type fakeRoles struct {
	roles map[string]string // vectorID|botID -> role
}

func newFakeRoles() *fakeRoles {
	return &fakeRoles{roles: make(map[string]string)}
}

func (f *fakeRoles) key(vectorID, botID string) string { return vectorID + "|" + botID }

func (f *fakeRoles) SetRoleRestriction(vectorID, botID, role string) error {
	f.roles[f.key(vectorID, botID)] = role
	return nil
}

func (f *fakeRoles) GetRoleRestrictions(vectorIDs []string, botID string) (map[string]string, error) {
	out := make(map[string]string)
	for _, id := range vectorIDs {
		if r, ok := f.roles[f.key(id, botID)]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func (f *fakeRoles) DeleteRoleRestrictions(vectorIDs []string, botID string) error {
	for _, id := range vectorIDs {
		delete(f.roles, f.key(id, botID))
	}
	return nil
}

func newTestPineconeStore() (*PineconeStore, *fakeIndex, *fakeRoles) {
	index := newFakeIndex()
	roles := newFakeRoles()
	return NewPineconeStore(index, roles), index, roles
}

func TestPineconeUpsertAndExists(t *testing.T) {
	s, index, roles := newTestPineconeStore()
	ctx := context.Background()
	url := "https://example.com/a"

	chunks := testChunks(url, 3, time.Now().UTC())
	chunks[0].RoleRestriction = "subscriber"
	if err := s.UpsertChunks(ctx, url, "default", chunks); err != nil {
		t.Fatalf("UpsertChunks: %v", err)
	}

	if len(index.ns("default")) != 3 {
		t.Errorf("index holds %d vectors, want 3", len(index.ns("default")))
	}
	ok, err := s.Exists(ctx, url, "default")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Error("document missing after upsert")
	}

	got, err := roles.GetRoleRestrictions([]string{chunks[0].VectorID, chunks[1].VectorID}, "default")
	if err != nil {
		t.Fatalf("GetRoleRestrictions: %v", err)
	}
	if got[chunks[0].VectorID] != "subscriber" {
		t.Errorf("chunk 0 role = %q", got[chunks[0].VectorID])
	}
	if got[chunks[1].VectorID] != "public" {
		t.Errorf("chunk 1 role = %q, want public default", got[chunks[1].VectorID])
	}
}

func TestPineconeSingleChunkUsesBareHash(t *testing.T) {
	s, index, _ := newTestPineconeStore()
	ctx := context.Background()
	url := "https://example.com/single"

	if err := s.UpsertChunks(ctx, url, "default", testChunks(url, 1, time.Now().UTC())); err != nil {
		t.Fatalf("UpsertChunks: %v", err)
	}
	if _, ok := index.ns("default")[URLHash(url)]; !ok {
		t.Error("single-chunk vector not stored under bare URL hash")
	}

	ok, err := s.Exists(ctx, url, "default")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Error("Exists missed single-chunk document")
	}
}

// TestPineconeReplaceShrinks verifies stale chunk-index tails are
// deleted when a document re-syncs with fewer chunks, including the
// transition from multi-chunk IDs to the bare single-chunk ID.
func TestPineconeReplaceShrinks(t *testing.T) {
	s, index, roles := newTestPineconeStore()
	ctx := context.Background()
	url := "https://example.com/shrinking"

	if err := s.UpsertChunks(ctx, url, "default", testChunks(url, 5, time.Now().UTC())); err != nil {
		t.Fatalf("UpsertChunks: %v", err)
	}
	if len(index.ns("default")) != 5 {
		t.Fatalf("index holds %d vectors, want 5", len(index.ns("default")))
	}

	if err := s.UpsertChunks(ctx, url, "default", testChunks(url, 1, time.Now().UTC())); err != nil {
		t.Fatalf("UpsertChunks shrink: %v", err)
	}

	ns := index.ns("default")
	if len(ns) != 1 {
		t.Fatalf("index holds %d vectors after shrink, want 1", len(ns))
	}
	if _, ok := ns[URLHash(url)]; !ok {
		t.Error("surviving vector is not the bare-hash ID")
	}
	if got, _ := roles.GetRoleRestrictions([]string{VectorID(url, 3, 5)}, "default"); len(got) != 0 {
		t.Error("stale role row survived shrink")
	}
}

func TestPineconeDeleteByURL(t *testing.T) {
	s, index, _ := newTestPineconeStore()
	ctx := context.Background()
	url := "https://example.com/gone"

	if err := s.UpsertChunks(ctx, url, "default", testChunks(url, 4, time.Now().UTC())); err != nil {
		t.Fatalf("UpsertChunks: %v", err)
	}
	if err := s.DeleteByURL(ctx, url, "default"); err != nil {
		t.Fatalf("DeleteByURL: %v", err)
	}
	if n := len(index.ns("default")); n != 0 {
		t.Errorf("index holds %d vectors after delete, want 0", n)
	}
}

func TestPineconeListGroupedByURL(t *testing.T) {
	s, _, _ := newTestPineconeStore()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	docs := []struct {
		url    string
		chunks int
	}{
		{"https://example.com/one", 1},
		{"https://example.com/two", 4},
		{"https://example.com/three", 1},
	}
	for i, d := range docs {
		created := base.Add(time.Duration(i) * time.Minute)
		if err := s.UpsertChunks(ctx, d.url, "default", testChunks(d.url, d.chunks, created)); err != nil {
			t.Fatalf("UpsertChunks(%s): %v", d.url, err)
		}
	}

	count, err := s.Count(ctx, "default", Filter{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Errorf("Count = %d, want 3", count)
	}

	page, err := s.ListGroupedByURL(ctx, "default", 1, 2, Filter{})
	if err != nil {
		t.Fatalf("ListGroupedByURL: %v", err)
	}
	if len(page.Groups) != 2 || page.TotalGroups != 3 {
		t.Fatalf("page = %d groups, total %d", len(page.Groups), page.TotalGroups)
	}
	if page.Groups[0].SourceURL != "https://example.com/three" {
		t.Errorf("first group = %s, want newest", page.Groups[0].SourceURL)
	}
	if page.Groups[1].ChunkCount != 4 {
		t.Errorf("second group chunk count = %d, want 4", page.Groups[1].ChunkCount)
	}
	for i, r := range page.Groups[1].Records {
		if r.ChunkIndex != i {
			t.Errorf("records not ordered by chunk_index: %d at %d", r.ChunkIndex, i)
		}
	}
}

// TestPineconeQueryScanWhenListingUnsupported covers index tiers whose
// /vectors/list endpoint does not exist: discovery falls back to a
// capped zero-vector query, both for the namespace scan and for the
// per-document replace path.
func TestPineconeQueryScanWhenListingUnsupported(t *testing.T) {
	s, index, _ := newTestPineconeStore()
	index.listErr = &pinecone.APIError{StatusCode: 501, Message: "listing not supported"}
	ctx := context.Background()
	url := "https://example.com/scan"

	if err := s.UpsertChunks(ctx, url, "default", testChunks(url, 3, time.Now().UTC())); err != nil {
		t.Fatalf("UpsertChunks: %v", err)
	}

	ok, err := s.Exists(ctx, url, "default")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Error("document not found via query scan")
	}

	page, err := s.ListGroupedByURL(ctx, "default", 1, 10, Filter{})
	if err != nil {
		t.Fatalf("ListGroupedByURL: %v", err)
	}
	if len(page.Groups) != 1 || page.Groups[0].ChunkCount != 3 {
		t.Fatalf("page = %+v", page)
	}

	// Shrinking still clears stale chunk-index tails through the
	// metadata-filtered query.
	if err := s.UpsertChunks(ctx, url, "default", testChunks(url, 1, time.Now().UTC())); err != nil {
		t.Fatalf("UpsertChunks shrink: %v", err)
	}
	if n := len(index.ns("default")); n != 1 {
		t.Errorf("index holds %d vectors after shrink, want 1", n)
	}
}

func TestPineconeErrorMapping(t *testing.T) {
	cases := []struct {
		status   int
		wantKind ErrorKind
	}{
		{429, KindRateLimited},
		{409, KindConflict},
		{500, KindUnavailable},
		{400, KindUnknown},
	}
	for _, tc := range cases {
		s, index, _ := newTestPineconeStore()
		index.err = &pinecone.APIError{StatusCode: tc.status, Message: "x"}

		err := s.UpsertChunks(context.Background(), "https://example.com/a", "default", testChunks("https://example.com/a", 1, time.Now().UTC()))
		se, ok := err.(*StoreError)
		if !ok {
			t.Fatalf("status %d: got %T, want *StoreError", tc.status, err)
		}
		if se.Kind != tc.wantKind {
			t.Errorf("status %d: kind = %s, want %s", tc.status, se.Kind, tc.wantKind)
		}
	}
}
