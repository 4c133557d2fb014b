package storage

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// defaultMaxAttempts bounds retries for items enqueued without an
// explicit limit.
const defaultMaxAttempts = 3

// stalledAfter is how long a processing item may sit without a status
// update before QueueStatus surfaces it as stalled.
const stalledAfter = 5 * time.Minute

// EnqueueBatch inserts one pending item per payload, all sharing queueID.
// Returns the number of items queued; an empty batch queues nothing and
// returns 0, which callers treat as a rejection.
func (s *Store) EnqueueBatch(queueID, itemType string, payloads []string, botID string, maxAttempts int) (int, error) {
	if len(payloads) == 0 {
		return 0, nil
	}
	if botID == "" {
		botID = "default"
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning enqueue transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO queue_items (id, queue_id, item_type, payload_json, status, bot_id, priority, attempts, max_attempts, run_after, created_at)
		VALUES (?, ?, ?, ?, 'pending', ?, 0, 0, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("preparing enqueue statement: %w", err)
	}
	defer stmt.Close()

	for _, payload := range payloads {
		if _, err := stmt.Exec(uuid.New().String(), queueID, itemType, payload, botID, maxAttempts, now, now); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("inserting queue item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing enqueue: %w", err)
	}
	return len(payloads), nil
}

// ClaimNextItem picks the oldest claimable pending item (highest
// priority first, then creation order), transitions it to processing,
// and stamps started_at. Returns nil when nothing is claimable.
//
// The claim is a transactional conditional update matched on
// status='pending', so concurrent callers never claim the same item;
// the loser of the race gets nil and looks again.
func (s *Store) ClaimNextItem(itemTypes []string) (*QueueItem, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	query := `SELECT id, queue_id, item_type, payload_json, status, bot_id, priority, attempts, max_attempts, error_message, run_after, created_at
		FROM queue_items
		WHERE status = 'pending' AND run_after <= ?`
	args := []interface{}{now}
	if len(itemTypes) > 0 {
		query += ` AND item_type IN (?` + strings.Repeat(",?", len(itemTypes)-1) + `)`
		for _, t := range itemTypes {
			args = append(args, t)
		}
	}
	query += ` ORDER BY priority DESC, created_at ASC, id ASC LIMIT 1`

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var it QueueItem
	var runAfter, createdAt string
	err = tx.QueryRow(query, args...).Scan(
		&it.ID, &it.QueueID, &it.ItemType, &it.PayloadJSON, &it.Status, &it.BotID,
		&it.Priority, &it.Attempts, &it.MaxAttempts, &it.ErrorMessage, &runAfter, &createdAt,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next item: %w", err)
	}

	res, err := tx.Exec(`UPDATE queue_items SET status = 'processing', started_at = ? WHERE id = ? AND status = 'pending'`, now, it.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating item status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated item rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	it.Status = StatusProcessing
	if it.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for item %s: %w", it.ID, err)
	}
	if it.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for item %s: %w", it.ID, err)
	}
	if it.StartedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing started_at for item %s: %w", it.ID, err)
	}
	return &it, nil
}

// CompleteItem transitions a processing item to completed and stamps
// completed_at. Completing an item in any other state is a caller bug
// and returns ErrInvalidState.
func (s *Store) CompleteItem(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE queue_items SET status = 'completed', completed_at = ? WHERE id = ? AND status = 'processing'`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM queue_items WHERE id = ?`, id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrInvalidState
	}
	return nil
}

// FailItem records a failed attempt for a processing item. When the
// error is retryable and attempts remain, the item goes back to pending
// with exponential backoff; otherwise it becomes terminally failed.
// A non-retryable error (bad credentials, dimension mismatch) fails the
// item immediately regardless of remaining attempts.
func (s *Store) FailItem(id string, errMsg string, retryable bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT status, attempts, max_attempts FROM queue_items WHERE id = ?`, id).Scan(&status, &attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != StatusProcessing {
		return ErrInvalidState
	}

	now := time.Now().UTC()
	attempts++

	if !retryable || attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE queue_items SET status = 'failed', attempts = ?, error_message = ?, completed_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE queue_items SET status = 'pending', attempts = ?, error_message = ?, run_after = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), id)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}

// GetQueueItem returns a single item by id.
func (s *Store) GetQueueItem(id string) (QueueItem, error) {
	var it QueueItem
	var runAfter, createdAt string
	var startedAt, completedAt sql.NullString
	err := s.db.QueryRow(`
		SELECT id, queue_id, item_type, payload_json, status, bot_id, priority, attempts, max_attempts, error_message, run_after, created_at, started_at, completed_at
		FROM queue_items WHERE id = ?`, id,
	).Scan(&it.ID, &it.QueueID, &it.ItemType, &it.PayloadJSON, &it.Status, &it.BotID,
		&it.Priority, &it.Attempts, &it.MaxAttempts, &it.ErrorMessage, &runAfter, &createdAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return QueueItem{}, ErrNotFound
	}
	if err != nil {
		return QueueItem{}, err
	}
	if it.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return QueueItem{}, fmt.Errorf("parsing run_after: %w", err)
	}
	if it.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return QueueItem{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if startedAt.Valid {
		if it.StartedAt, err = time.Parse(time.RFC3339, startedAt.String); err != nil {
			return QueueItem{}, fmt.Errorf("parsing started_at: %w", err)
		}
	}
	if completedAt.Valid {
		if it.CompletedAt, err = time.Parse(time.RFC3339, completedAt.String); err != nil {
			return QueueItem{}, fmt.Errorf("parsing completed_at: %w", err)
		}
	}
	return it, nil
}

// Status aggregates item counts for queueID. Processing items idle
// longer than five minutes are counted as stalled so the polling UI can
// surface them instead of spinning forever.
func (s *Store) Status(queueID string) (QueueStatus, error) {
	st := QueueStatus{QueueID: queueID, FailedItems: []FailedItem{}}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM queue_items WHERE queue_id = ? GROUP BY status`, queueID)
	if err != nil {
		return QueueStatus{}, fmt.Errorf("counting items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return QueueStatus{}, err
		}
		switch status {
		case StatusPending:
			st.Pending = count
		case StatusProcessing:
			st.Processing = count
		case StatusCompleted:
			st.Completed = count
		case StatusFailed:
			st.Failed = count
		}
		st.Total += count
	}
	if err := rows.Err(); err != nil {
		return QueueStatus{}, err
	}
	if st.Total == 0 {
		return QueueStatus{}, ErrNotFound
	}

	cutoff := time.Now().UTC().Add(-stalledAfter).Format(time.RFC3339)
	if err := s.db.QueryRow(`
		SELECT COUNT(*) FROM queue_items
		WHERE queue_id = ? AND status = 'processing' AND started_at < ?`, queueID, cutoff,
	).Scan(&st.Stalled); err != nil {
		return QueueStatus{}, fmt.Errorf("counting stalled items: %w", err)
	}

	failedRows, err := s.db.Query(`
		SELECT id, payload_json, error_message FROM queue_items
		WHERE queue_id = ? AND status = 'failed'
		ORDER BY completed_at ASC LIMIT 50`, queueID)
	if err != nil {
		return QueueStatus{}, fmt.Errorf("listing failed items: %w", err)
	}
	defer failedRows.Close()

	for failedRows.Next() {
		var fi FailedItem
		if err := failedRows.Scan(&fi.ItemID, &fi.PayloadJSON, &fi.ErrorMessage); err != nil {
			return QueueStatus{}, err
		}
		st.FailedItems = append(st.FailedItems, fi)
	}
	if err := failedRows.Err(); err != nil {
		return QueueStatus{}, err
	}

	st.Percentage = float64(st.Completed+st.Failed) / float64(st.Total) * 100
	st.Complete = st.Pending == 0 && st.Processing == 0
	return st, nil
}

// ClearQueue deletes all pending items for queueID, used for
// user-initiated cancellation. Completed and failed history is kept;
// in-flight processing items finish on their own and their results are
// accepted even after cancellation.
func (s *Store) ClearQueue(queueID string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM queue_items WHERE queue_id = ? AND status = 'pending'`, queueID)
	if err != nil {
		return 0, fmt.Errorf("clearing queue %s: %w", queueID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// --- Queue meta ---

// SetQueueMeta stores one metadata key for a queue, overwriting any
// previous value.
func (s *Store) SetQueueMeta(queueID, key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO queue_meta (queue_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(queue_id, key) DO UPDATE SET value = excluded.value`,
		queueID, key, value,
	)
	return err
}

// GetQueueMeta returns one metadata value for a queue.
func (s *Store) GetQueueMeta(queueID, key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM queue_meta WHERE queue_id = ? AND key = ?`, queueID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// QueueMeta returns all metadata for a queue as a map.
func (s *Store) QueueMeta(queueID string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM queue_meta WHERE queue_id = ?`, queueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, rows.Err()
}

// DeleteQueueMeta removes all metadata for a queue.
func (s *Store) DeleteQueueMeta(queueID string) error {
	_, err := s.db.Exec(`DELETE FROM queue_meta WHERE queue_id = ?`, queueID)
	return err
}
