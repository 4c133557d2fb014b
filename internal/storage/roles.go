package storage

import (
	"database/sql"
	"strings"
	"time"
)

// DefaultRole is assumed for any vector without a role_restrictions row.
const DefaultRole = "public"

// SetRoleRestriction upserts the access-control role for a vector.
// The remote index's metadata cannot be updated in place without a full
// re-embed, so roles live in this side table and are joined at read time.
func (s *Store) SetRoleRestriction(vectorID, botID, role string) error {
	_, err := s.db.Exec(`
		INSERT INTO role_restrictions (vector_id, bot_id, role_restriction, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(vector_id, bot_id) DO UPDATE SET role_restriction = excluded.role_restriction, updated_at = excluded.updated_at`,
		vectorID, botID, role, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetRoleRestriction returns the role for a vector, or DefaultRole when
// no row exists.
func (s *Store) GetRoleRestriction(vectorID, botID string) (string, error) {
	var role string
	err := s.db.QueryRow(`SELECT role_restriction FROM role_restrictions WHERE vector_id = ? AND bot_id = ?`, vectorID, botID).Scan(&role)
	if err == sql.ErrNoRows {
		return DefaultRole, nil
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

// GetRoleRestrictions returns roles for a batch of vectors. Vectors
// without a row are omitted; callers fall back to DefaultRole.
func (s *Store) GetRoleRestrictions(vectorIDs []string, botID string) (map[string]string, error) {
	if len(vectorIDs) == 0 {
		return map[string]string{}, nil
	}

	args := make([]interface{}, 0, len(vectorIDs)+1)
	for _, id := range vectorIDs {
		args = append(args, id)
	}
	args = append(args, botID)

	query := `SELECT vector_id, role_restriction FROM role_restrictions
		WHERE vector_id IN (?` + strings.Repeat(",?", len(vectorIDs)-1) + `) AND bot_id = ?`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var id, role string
		if err := rows.Scan(&id, &role); err != nil {
			return nil, err
		}
		result[id] = role
	}
	return result, rows.Err()
}

// DeleteRoleRestrictions removes role rows for a batch of vectors,
// called when the vectors themselves are deleted.
func (s *Store) DeleteRoleRestrictions(vectorIDs []string, botID string) error {
	if len(vectorIDs) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(vectorIDs)+1)
	for _, id := range vectorIDs {
		args = append(args, id)
	}
	args = append(args, botID)

	query := `DELETE FROM role_restrictions
		WHERE vector_id IN (?` + strings.Repeat(",?", len(vectorIDs)-1) + `) AND bot_id = ?`
	_, err := s.db.Exec(query, args...)
	return err
}
