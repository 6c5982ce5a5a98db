package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charleschow/arbfinder/internal/core/odds"
)

// ReplaceLatest atomically replaces the full latest-odds snapshot: the old
// rows are deleted and the new events inserted within a single transaction,
// so readers never observe a partial snapshot. Matches spec.md §4.E's "the
// store's view of 'latest' is replaced wholesale per refresh cycle, never
// merged".
func (s *Store) ReplaceLatest(ctx context.Context, events []odds.Event) error {
	return s.withTx(ctx, "replace_latest", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM latest_events`); err != nil {
			return &odds.StoreError{Op: "replace_latest", Cause: fmt.Errorf("clear: %w", err)}
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO latest_events (fingerprint, sport_key, commence_time, home_team, away_team, payload, replaced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return &odds.StoreError{Op: "replace_latest", Cause: err}
		}
		defer stmt.Close()

		replacedAt := time.Now().UTC().Format(time.RFC3339Nano)
		for _, ev := range events {
			payload, err := json.Marshal(ev)
			if err != nil {
				return &odds.StoreError{Op: "replace_latest", Cause: fmt.Errorf("marshal event %s: %w", ev.Fingerprint(), err)}
			}
			if _, err := stmt.ExecContext(ctx, ev.Fingerprint(), ev.SportKey, ev.CommenceTime.UTC().Format(time.RFC3339), ev.HomeTeam, ev.AwayTeam, payload, replacedAt); err != nil {
				return &odds.StoreError{Op: "replace_latest", Cause: fmt.Errorf("insert event %s: %w", ev.Fingerprint(), err)}
			}
		}
		return nil
	})
}

// ListLatest returns the current snapshot, optionally filtered to one sport
// (empty string returns all sports). Events are ordered by commence_time
// ascending.
func (s *Store) ListLatest(ctx context.Context, sport string) ([]odds.Event, error) {
	query := `SELECT payload FROM latest_events`
	args := []any{}
	if sport != "" {
		query += ` WHERE sport_key = ?`
		args = append(args, sport)
	}
	query += ` ORDER BY commence_time ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &odds.StoreError{Op: "list_latest", Cause: err}
	}
	defer rows.Close()

	var out []odds.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, &odds.StoreError{Op: "list_latest", Cause: err}
		}
		var ev odds.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, &odds.StoreError{Op: "list_latest", Cause: fmt.Errorf("unmarshal event: %w", err)}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &odds.StoreError{Op: "list_latest", Cause: err}
	}
	return out, nil
}
