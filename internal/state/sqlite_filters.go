package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/runboard/internal/filters"
)

// LoadFilters returns the saved meta of scopeKey, or nil when none is saved.
func (s *SQLiteStore) LoadFilters(ctx context.Context, scopeKey string) (*filters.Meta, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT meta_json FROM saved_filters WHERE scope_key = ?`, scopeKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load filters: %w", err)
	}
	var m filters.Meta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode filters of %q: %w", scopeKey, err)
	}
	return &m, nil
}

// SaveFilters stores m as the applied meta of scopeKey.
func (s *SQLiteStore) SaveFilters(ctx context.Context, scopeKey string, m filters.Meta) error {
	if err := s.ready(); err != nil {
		return err
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode filters: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO saved_filters (scope_key, meta_json, version, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(scope_key) DO UPDATE SET
			meta_json = excluded.meta_json,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		scopeKey, string(raw), int64(m.Version), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save filters: %w", err)
	}
	s.logger.Debug("filters saved", slog.String("scope", scopeKey), slog.Uint64("version", m.Version))
	return nil
}

// DeleteFilters removes the saved meta of scopeKey. It reports whether a
// row was removed.
func (s *SQLiteStore) DeleteFilters(ctx context.Context, scopeKey string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM saved_filters WHERE scope_key = ?`, scopeKey)
	if err != nil {
		return false, fmt.Errorf("delete filters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete filters: %w", err)
	}
	return n > 0, nil
}

// ClearFilters removes every saved meta and returns how many were removed.
func (s *SQLiteStore) ClearFilters(ctx context.Context) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM saved_filters`)
	if err != nil {
		return 0, fmt.Errorf("clear filters: %w", err)
	}
	return res.RowsAffected()
}

// ListFilters returns all saved filters ordered by scope key.
func (s *SQLiteStore) ListFilters(ctx context.Context) ([]SavedFilters, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT scope_key, meta_json, updated_at FROM saved_filters ORDER BY scope_key`)
	if err != nil {
		return nil, fmt.Errorf("list filters: %w", err)
	}
	defer rows.Close()

	var out []SavedFilters
	for rows.Next() {
		var key, raw, updated string
		if err := rows.Scan(&key, &raw, &updated); err != nil {
			return nil, fmt.Errorf("scan filters: %w", err)
		}
		sf := SavedFilters{ScopeKey: key, UpdatedAt: parseTime(updated)}
		if err := json.Unmarshal([]byte(raw), &sf.Meta); err != nil {
			s.logger.Warn("skipping unreadable saved filters", slog.String("scope", key), slog.Any("error", err))
			continue
		}
		out = append(out, sf)
	}
	return out, rows.Err()
}
