package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// PlatformIOS is the only platform completion pushes are delivered to.
const PlatformIOS = "ios"

// OwnerDevice is a phone that hears about finished interviews of its owner.
type OwnerDevice struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
}

const ownerDeviceColumns = `d.id, d.user_id, d.token, d.platform, d.created_at`

func scanOwnerDevices(rows pgx.Rows) ([]OwnerDevice, error) {
	defer rows.Close()
	var out []OwnerDevice
	for rows.Next() {
		var d OwnerDevice
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.Token, &d.Platform, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveOwnerDevice registers an iOS device token for an owner. Saving a known
// token keeps its original registration time.
func (s *Store) SaveOwnerDevice(ctx context.Context, ownerID, token string) (*OwnerDevice, error) {
	var d OwnerDevice
	err := s.db.QueryRow(ctx, `
		INSERT INTO device_push_tokens AS d (user_id, token, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, token) DO UPDATE SET platform = EXCLUDED.platform
		RETURNING `+ownerDeviceColumns,
		ownerID, token, PlatformIOS,
	).Scan(&d.ID, &d.OwnerID, &d.Token, &d.Platform, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// RemoveOwnerDevice deletes one of the owner's devices and reports whether it existed.
func (s *Store) RemoveOwnerDevice(ctx context.Context, ownerID, token string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM device_push_tokens WHERE user_id = $1 AND token = $2`, ownerID, token)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ForgetDeviceToken drops a token APNs no longer accepts, whoever registered it.
func (s *Store) ForgetDeviceToken(ctx context.Context, token string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM device_push_tokens WHERE token = $1`, token)
	return err
}

// ListOwnerDevices returns the owner's deliverable devices, oldest first.
func (s *Store) ListOwnerDevices(ctx context.Context, ownerID string) ([]OwnerDevice, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+ownerDeviceColumns+`
		FROM device_push_tokens d
		WHERE d.user_id = $1 AND d.platform = $2
		ORDER BY d.created_at
	`, ownerID, PlatformIOS)
	if err != nil {
		return nil, err
	}
	return scanOwnerDevices(rows)
}

// InterviewOwnerDevices returns the deliverable devices of whoever owns the interview.
func (s *Store) InterviewOwnerDevices(ctx context.Context, interviewID string) ([]OwnerDevice, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+ownerDeviceColumns+`
		FROM device_push_tokens d
		JOIN interviews i ON i.owner_id = d.user_id
		WHERE i.id = $1 AND d.platform = $2
		ORDER BY d.created_at
	`, interviewID, PlatformIOS)
	if err != nil {
		return nil, err
	}
	return scanOwnerDevices(rows)
}
