package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/runboard/pkg/core"
)

// CreateSession stores a new table session and returns it.
func (s *SQLiteStore) CreateSession(ctx context.Context, projectID string, appIDs []string, kind core.EvaluationKind) (*Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if appIDs == nil {
		appIDs = []string{}
	}
	apps, err := json.Marshal(appIDs)
	if err != nil {
		return nil, fmt.Errorf("encode app ids: %w", err)
	}
	now := time.Now().UTC()
	sess := &Session{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		AppIDs:     appIDs,
		Kind:       kind,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO table_sessions (id, project_id, app_ids_json, kind, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, projectID, string(apps), string(kind), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// GetSession returns the session with the given id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var (
		sess             Session
		apps, kind       string
		created, touched string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, app_ids_json, kind, created_at, last_seen_at
		FROM table_sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.ProjectID, &apps, &kind, &created, &touched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if err := json.Unmarshal([]byte(apps), &sess.AppIDs); err != nil {
		return nil, fmt.Errorf("decode app ids: %w", err)
	}
	sess.Kind = core.EvaluationKind(kind)
	sess.CreatedAt = parseTime(created)
	sess.LastSeenAt = parseTime(touched)
	return &sess, nil
}

// TouchSession marks the session as seen now.
func (s *SQLiteStore) TouchSession(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE table_sessions SET last_seen_at = ? WHERE id = ?`, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// PruneSessions deletes sessions not seen since before and returns the
// number deleted.
func (s *SQLiteStore) PruneSessions(ctx context.Context, before time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM table_sessions WHERE last_seen_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return res.RowsAffected()
}
