package postgres

import (
	"context"
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"

	"github.com/sonroyaalmerol/calendar-server/internal/apperr"
	"github.com/sonroyaalmerol/calendar-server/internal/store"
)

// VerifyDevicePassword checks plaintext against every device-password hash
// registered to userID with Argon2id; it does not stop at the first match,
// and the last matching credential is the one it records. If the user has no
// device passwords at all (including if the user row itself doesn't exist),
// it still performs one Argon2id verification against a fixed precomputed
// hash so that the wall-clock cost of a negative result does not depend on
// whether the user exists.
func (s *Store) VerifyDevicePassword(ctx context.Context, userID int64, plaintext string) (bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, hash FROM device_passwords WHERE user_id = $1`, userID)
	if err != nil {
		return false, err
	}
	type cred struct {
		id, hash string
	}
	var creds []cred
	for rows.Next() {
		var c cred
		if err := rows.Scan(&c.id, &c.hash); err != nil {
			rows.Close()
			return false, err
		}
		creds = append(creds, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}

	if len(creds) == 0 {
		_ = verifyPassword(dummyHash, plaintext)
		return false, nil
	}

	matchedID := ""
	for _, c := range creds {
		if verifyPassword(c.hash, plaintext) {
			matchedID = c.id
		}
	}
	if matchedID == "" {
		return false, nil
	}

	go func() {
		_, _ = s.pool.Exec(context.Background(), `UPDATE device_passwords SET last_used_at = now() WHERE id = $1`, matchedID)
	}()
	return true, nil
}

func (s *Store) ListDevicePasswords(ctx context.Context, userID int64) ([]*store.DevicePassword, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, display_name, hash, created_at, last_used_at
		FROM device_passwords WHERE user_id = $1 ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.DevicePassword
	for rows.Next() {
		var d store.DevicePassword
		if err := rows.Scan(&d.ID, &d.UserID, &d.DisplayName, &d.Hash, &d.CreatedAt, &d.LastUsedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *Store) CreateDevicePassword(ctx context.Context, userID int64, displayName string) (*store.DevicePassword, string, error) {
	plaintext, err := randomPlaintext()
	if err != nil {
		return nil, "", err
	}
	hash, err := hashPassword(plaintext)
	if err != nil {
		return nil, "", err
	}
	d := &store.DevicePassword{
		ID:          uuid.NewString(),
		UserID:      userID,
		DisplayName: displayName,
		Hash:        hash,
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO device_passwords (id, user_id, display_name, hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, d.ID, d.UserID, d.DisplayName, d.Hash)
	if err := row.Scan(&d.CreatedAt); err != nil {
		return nil, "", err
	}
	return d, plaintext, nil
}

func (s *Store) RevokeDevicePassword(ctx context.Context, userID int64, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM device_passwords WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Wrap(apperr.NotFound, "device password not found")
	}
	return nil
}

func randomPlaintext() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
