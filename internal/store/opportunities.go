package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charleschow/arbfinder/internal/core/odds"
)

// maxListLimit caps ListOpportunities' Limit per spec.md §6.
const maxListLimit = 500

// AppendOpportunities inserts newly detected opportunities, skipping any
// that collide on minute_bucket (idempotent re-insertion of the same
// opportunity detected again within the same minute, per spec.md §4.E).
// Returns the number of rows actually inserted.
func (s *Store) AppendOpportunities(ctx context.Context, ops []odds.Opportunity) (int, error) {
	if len(ops) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.withTx(ctx, "append_opportunities", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO opportunities_log
				(sport_key, commence_time, home_team, away_team, market, minute_bucket, profit_pct, total_implied_prob, detected_at, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return &odds.StoreError{Op: "append_opportunities", Cause: err}
		}
		defer stmt.Close()

		for _, op := range ops {
			payload, err := json.Marshal(op)
			if err != nil {
				return &odds.StoreError{Op: "append_opportunities", Cause: fmt.Errorf("marshal opportunity: %w", err)}
			}
			res, err := stmt.ExecContext(ctx,
				op.SportKey, op.CommenceTime.UTC().Format(time.RFC3339), op.HomeTeam, op.AwayTeam,
				string(op.Market), op.MinuteBucketKey(), op.ProfitPct, op.TotalImpliedProbability,
				op.DetectedAt.UTC().Format(time.RFC3339Nano), payload)
			if err != nil {
				return &odds.StoreError{Op: "append_opportunities", Cause: fmt.Errorf("insert opportunity: %w", err)}
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	return inserted, err
}

// OpportunityFilter narrows ListOpportunities' result set.
type OpportunityFilter struct {
	Sport        string
	MinProfitPct float64
	Since        time.Time
	Limit        int
}

// ListOpportunities returns opportunities matching filter, ordered by
// detected_at descending, then sport, then profit_pct descending, per
// spec.md §6. Limit is clamped to [1, 500], defaulting to 100.
func (s *Store) ListOpportunities(ctx context.Context, filter OpportunityFilter) ([]odds.Opportunity, error) {
	limit := filter.Limit
	switch {
	case limit <= 0:
		limit = 100
	case limit > maxListLimit:
		limit = maxListLimit
	}

	query := `SELECT payload FROM opportunities_log WHERE profit_pct >= ?`
	args := []any{filter.MinProfitPct}
	if filter.Sport != "" {
		query += ` AND sport_key = ?`
		args = append(args, filter.Sport)
	}
	if !filter.Since.IsZero() {
		query += ` AND detected_at >= ?`
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY detected_at DESC, sport_key ASC, profit_pct DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &odds.StoreError{Op: "list_opportunities", Cause: err}
	}
	defer rows.Close()

	var out []odds.Opportunity
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, &odds.StoreError{Op: "list_opportunities", Cause: err}
		}
		var op odds.Opportunity
		if err := json.Unmarshal(payload, &op); err != nil {
			return nil, &odds.StoreError{Op: "list_opportunities", Cause: fmt.Errorf("unmarshal opportunity: %w", err)}
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, &odds.StoreError{Op: "list_opportunities", Cause: err}
	}
	return out, nil
}

// PurgeOpportunities deletes log entries detected before olderThan,
// returning the number of rows removed. Used by an optional retention job;
// the log is otherwise append-only.
func (s *Store) PurgeOpportunities(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM opportunities_log WHERE detected_at < ?`, olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, &odds.StoreError{Op: "purge_opportunities", Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &odds.StoreError{Op: "purge_opportunities", Cause: err}
	}
	return n, nil
}
