package contentstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps chunks in the local content_chunks table. This is
// the default backend when no remote index is configured.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for chunk operations.
// The content_chunks table must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// UpsertChunks replaces the document's chunk set in one transaction, so
// readers see either the fully-old or fully-new set. Any stale
// chunk-index tail from a previously longer document goes with the
// delete.
func (s *SQLiteStore) UpsertChunks(ctx context.Context, sourceURL, botID string, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM content_chunks WHERE bot_id = ? AND source_url = ?`, botID, sourceURL); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting previous chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO content_chunks (vector_id, bot_id, source_url, chunk_index, total_chunks, text_chunk, embedding, role_restriction, content_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		role := c.RoleRestriction
		if role == "" {
			role = "public"
		}
		blob := encodeFloat32s(c.Embedding)
		if _, err := stmt.ExecContext(ctx, c.VectorID, botID, sourceURL, c.ChunkIndex, c.TotalChunks,
			c.Text, blob, role, c.ContentType, createdAt.Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting chunk %s: %w", c.VectorID, err)
		}
	}

	return tx.Commit()
}

// DeleteByURL removes all chunks of the document. Deleting a document
// that does not exist is not an error.
func (s *SQLiteStore) DeleteByURL(ctx context.Context, sourceURL, botID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM content_chunks WHERE bot_id = ? AND source_url = ?`, botID, sourceURL)
	if err != nil {
		return fmt.Errorf("deleting chunks for %s: %w", sourceURL, err)
	}
	return nil
}

// DeleteByID removes one vector.
func (s *SQLiteStore) DeleteByID(ctx context.Context, vectorID, botID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM content_chunks WHERE bot_id = ? AND vector_id = ?`, botID, vectorID)
	if err != nil {
		return fmt.Errorf("deleting vector %s: %w", vectorID, err)
	}
	return nil
}

// Exists reports whether any chunk is stored for the document.
func (s *SQLiteStore) Exists(ctx context.Context, sourceURL, botID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_chunks WHERE bot_id = ? AND source_url = ?`, botID, sourceURL).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func filterClause(f Filter, args *[]interface{}) string {
	var clause string
	if f.ContentType != "" {
		clause += ` AND content_type = ?`
		*args = append(*args, f.ContentType)
	}
	if f.Search != "" {
		clause += ` AND source_url LIKE ?`
		*args = append(*args, "%"+f.Search+"%")
	}
	return clause
}

// ListGroupedByURL pages over logical documents, newest first. Records
// carry text and metadata but not embeddings; listing is a UI surface
// and the vectors would dominate the payload.
func (s *SQLiteStore) ListGroupedByURL(ctx context.Context, botID string, page, pageSize int, f Filter) (GroupedPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	total, err := s.Count(ctx, botID, f)
	if err != nil {
		return GroupedPage{}, err
	}

	args := []interface{}{botID}
	clause := filterClause(f, &args)
	args = append(args, pageSize, (page-1)*pageSize)

	urlRows, err := s.db.QueryContext(ctx, `
		SELECT source_url FROM content_chunks
		WHERE bot_id = ?`+clause+`
		GROUP BY source_url
		ORDER BY MAX(created_at) DESC, source_url ASC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return GroupedPage{}, fmt.Errorf("listing document urls: %w", err)
	}
	defer urlRows.Close()

	var urls []string
	for urlRows.Next() {
		var u string
		if err := urlRows.Scan(&u); err != nil {
			return GroupedPage{}, err
		}
		urls = append(urls, u)
	}
	if err := urlRows.Err(); err != nil {
		return GroupedPage{}, err
	}

	result := GroupedPage{Groups: []Group{}, TotalGroups: total}
	for _, u := range urls {
		group := Group{SourceURL: u}

		rows, err := s.db.QueryContext(ctx, `
			SELECT vector_id, source_url, chunk_index, total_chunks, text_chunk, role_restriction, content_type, created_at
			FROM content_chunks
			WHERE bot_id = ? AND source_url = ?
			ORDER BY chunk_index ASC`, botID, u)
		if err != nil {
			return GroupedPage{}, fmt.Errorf("listing chunks for %s: %w", u, err)
		}

		for rows.Next() {
			var c Chunk
			var createdAt string
			if err := rows.Scan(&c.VectorID, &c.SourceURL, &c.ChunkIndex, &c.TotalChunks, &c.Text, &c.RoleRestriction, &c.ContentType, &createdAt); err != nil {
				rows.Close()
				return GroupedPage{}, err
			}
			t, err := time.Parse(time.RFC3339, createdAt)
			if err != nil {
				rows.Close()
				return GroupedPage{}, fmt.Errorf("parsing created_at: %w", err)
			}
			c.CreatedAt = t
			group.Records = append(group.Records, c)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return GroupedPage{}, err
		}
		rows.Close()

		group.ChunkCount = len(group.Records)
		result.Groups = append(result.Groups, group)
	}

	return result, nil
}

// Count returns the number of logical documents (distinct source URLs).
func (s *SQLiteStore) Count(ctx context.Context, botID string, f Filter) (int, error) {
	args := []interface{}{botID}
	clause := filterClause(f, &args)

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT source_url) FROM content_chunks WHERE bot_id = ?`+clause, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a float32 slice.
// Returns an error if the byte slice length is not a multiple of 4
// (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// Embedding loads one stored vector, used by tests and integrity checks.
func (s *SQLiteStore) Embedding(ctx context.Context, vectorID, botID string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT embedding FROM content_chunks WHERE bot_id = ? AND vector_id = ?`, botID, vectorID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("vector %s not found", vectorID)
	}
	if err != nil {
		return nil, err
	}
	return decodeFloat32s(blob)
}
