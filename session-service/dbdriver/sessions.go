package dbdriver // import "github.com/helixhq/helix/backend/services/session-service/dbdriver"

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/helixhq/helix/backend/services/types"
	"github.com/helixhq/helix/backend/services/utils"
)

// This file is concerned with database interactions at the session-mapping
// level. A session mapping records which machine and volume a given
// (user, session) pair last resolved to. Rows are only ever upserted, never
// deleted by this service; partial upserts must not clobber fields they
// don't carry, which is why the update arm COALESCEs every nullable column.

// A SessionMapping is one row of the `helix.session_mappings` table. The
// machine and volume ids are pointers because either can be absent: a
// mapping may record a volume before its machine exists, and vice versa.
type SessionMapping struct {
	UserID    types.UserID
	SessionID types.SessionID
	MachineID *types.MachineID
	VolumeID  *types.VolumeID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionStore is the interface the resolver uses to read and write session
// mappings. We define an interface so that tests can substitute a mock
// implementation.
type SessionStore interface {
	UpsertSessionMapping(ctx context.Context, mapping SessionMapping) error
	GetSessionMapping(ctx context.Context, userID types.UserID, sessionID types.SessionID) (*SessionMapping, error)
	GetSessionsForUser(ctx context.Context, userID types.UserID) ([]SessionMapping, error)
}

// PGStore implements SessionStore on top of a Postgres connection pool. A
// zero-value PGStore is disabled: every operation is a no-op, which makes
// localdev runs behave as if no mapping ever existed.
type PGStore struct {
	pool   querier
	closer interface{ Close() }
}

// Make sure PGStore implements the SessionStore interface.
var _ SessionStore = &PGStore{}

const upsertSessionMappingSQL = `
INSERT INTO helix.session_mappings (user_id, session_id, machine_id, volume_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, now(), now())
ON CONFLICT (user_id, session_id) DO UPDATE SET
	machine_id = COALESCE(EXCLUDED.machine_id, helix.session_mappings.machine_id),
	volume_id = COALESCE(EXCLUDED.volume_id, helix.session_mappings.volume_id),
	updated_at = now()
`

const getSessionMappingSQL = `
SELECT user_id, session_id, machine_id, volume_id, created_at, updated_at
FROM helix.session_mappings
WHERE user_id = $1 AND session_id = $2
`

const getSessionsForUserSQL = `
SELECT user_id, session_id, machine_id, volume_id, created_at, updated_at
FROM helix.session_mappings
WHERE user_id = $1
ORDER BY updated_at DESC
`

// UpsertSessionMapping records (or refreshes) the mapping for the given
// (user, session) pair. Nil machine or volume ids leave the corresponding
// column untouched on conflict, so a partial update never erases a
// previously recorded id.
func (s *PGStore) UpsertSessionMapping(ctx context.Context, mapping SessionMapping) error {
	if s.pool == nil {
		return nil
	}

	var machineID, volumeID *string
	if mapping.MachineID != nil {
		machineID = (*string)(mapping.MachineID)
	}
	if mapping.VolumeID != nil {
		volumeID = (*string)(mapping.VolumeID)
	}

	_, err := s.pool.Exec(ctx, upsertSessionMappingSQL, string(mapping.UserID), string(mapping.SessionID), machineID, volumeID)
	if err != nil {
		return utils.MakeError("couldn't upsert session mapping for user %s, session %s: %s", mapping.UserID, mapping.SessionID, err)
	}

	return nil
}

// GetSessionMapping fetches the mapping for the given (user, session) pair.
// A missing row is not an error: it returns (nil, nil), since absence just
// means the session has never resolved before.
func (s *PGStore) GetSessionMapping(ctx context.Context, userID types.UserID, sessionID types.SessionID) (*SessionMapping, error) {
	if s.pool == nil {
		return nil, nil
	}

	row := s.pool.QueryRow(ctx, getSessionMappingSQL, string(userID), string(sessionID))

	mapping, err := scanSessionMapping(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, utils.MakeError("couldn't get session mapping for user %s, session %s: %s", userID, sessionID, err)
	}

	return mapping, nil
}

// GetSessionsForUser fetches every session mapping recorded for the given
// user, most recently updated first. Callers scan the result for reusable
// machines and volumes.
func (s *PGStore) GetSessionsForUser(ctx context.Context, userID types.UserID) ([]SessionMapping, error) {
	if s.pool == nil {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, getSessionsForUserSQL, string(userID))
	if err != nil {
		return nil, utils.MakeError("couldn't get session mappings for user %s: %s", userID, err)
	}
	defer rows.Close()

	var mappings []SessionMapping
	for rows.Next() {
		mapping, err := scanSessionMapping(rows)
		if err != nil {
			return nil, utils.MakeError("couldn't scan session mapping for user %s: %s", userID, err)
		}
		mappings = append(mappings, *mapping)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.MakeError("couldn't get session mappings for user %s: %s", userID, err)
	}

	return mappings, nil
}

// scanSessionMapping scans one row into a SessionMapping, mapping NULL
// machine and volume columns to nil pointers.
func scanSessionMapping(row pgx.Row) (*SessionMapping, error) {
	var (
		userID    string
		sessionID string
		machineID *string
		volumeID  *string
		createdAt time.Time
		updatedAt time.Time
	)

	if err := row.Scan(&userID, &sessionID, &machineID, &volumeID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	mapping := &SessionMapping{
		UserID:    types.UserID(userID),
		SessionID: types.SessionID(sessionID),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
	if machineID != nil {
		mapping.MachineID = (*types.MachineID)(machineID)
	}
	if volumeID != nil {
		mapping.VolumeID = (*types.VolumeID)(volumeID)
	}

	return mapping, nil
}
