package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/callwatch/callwatch/internal/database/models"
)

// callRepo implements CallRepository.
type callRepo struct {
	db *DB
}

// NewCallRepository creates a new CallRepository.
func NewCallRepository(db *DB) CallRepository {
	return &callRepo{db: db}
}

const callColumns = `linkedid, state, direction, other_party, caller_num, caller_name,
	 agent_exten, started_at, answered_at, ended_at, ring_seconds, talk_seconds,
	 dial_status, hangup_cause, disposition`

// GetByLinkedID returns the call for the given linkedid, or nil when absent.
func (r *callRepo) GetByLinkedID(ctx context.Context, linkedID string) (*models.Call, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE linkedid = ?`, linkedID)

	var c models.Call
	err := row.Scan(&c.LinkedID, &c.State, &c.Direction, &c.OtherParty, &c.CallerNum,
		&c.CallerName, &c.AgentExten, &c.StartedAt, &c.AnsweredAt, &c.EndedAt,
		&c.RingSeconds, &c.TalkSeconds, &c.DialStatus, &c.HangupCause, &c.Disposition)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying call by linkedid: %w", err)
	}
	return &c, nil
}

// Upsert inserts the call or replaces every field of the existing row.
func (r *callRepo) Upsert(ctx context.Context, call *models.Call) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO calls (`+callColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(linkedid) DO UPDATE SET
		   state = excluded.state,
		   direction = excluded.direction,
		   other_party = excluded.other_party,
		   caller_num = excluded.caller_num,
		   caller_name = excluded.caller_name,
		   agent_exten = excluded.agent_exten,
		   started_at = excluded.started_at,
		   answered_at = excluded.answered_at,
		   ended_at = excluded.ended_at,
		   ring_seconds = excluded.ring_seconds,
		   talk_seconds = excluded.talk_seconds,
		   dial_status = excluded.dial_status,
		   hangup_cause = excluded.hangup_cause,
		   disposition = excluded.disposition`,
		call.LinkedID, call.State, call.Direction, call.OtherParty, call.CallerNum,
		call.CallerName, call.AgentExten, call.StartedAt, call.AnsweredAt, call.EndedAt,
		call.RingSeconds, call.TalkSeconds, call.DialStatus, call.HangupCause, call.Disposition,
	)
	if err != nil {
		return fmt.Errorf("upserting call: %w", err)
	}
	return nil
}

// List returns calls matching the filter, along with the total count.
func (r *callRepo) List(ctx context.Context, filter CallListFilter) ([]models.Call, int, error) {
	where := "1=1"
	args := []any{}

	if filter.Direction != "" {
		where += " AND direction = ?"
		args = append(args, filter.Direction)
	}
	if filter.State != "" {
		where += " AND state = ?"
		args = append(args, filter.State)
	}
	if filter.AgentExten != "" {
		where += " AND agent_exten = ?"
		args = append(args, filter.AgentExten)
	}
	if filter.Search != "" {
		where += " AND (other_party LIKE ? OR caller_num LIKE ? OR caller_name LIKE ? OR agent_exten LIKE ?)"
		s := "%" + filter.Search + "%"
		args = append(args, s, s, s, s)
	}

	// Count total matching rows.
	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calls WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting calls: %w", err)
	}

	// Fetch the page of results.
	query := `SELECT ` + callColumns + ` FROM calls WHERE ` + where +
		` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing calls: %w", err)
	}
	defer rows.Close()

	var calls []models.Call
	for rows.Next() {
		var c models.Call
		if err := rows.Scan(&c.LinkedID, &c.State, &c.Direction, &c.OtherParty,
			&c.CallerNum, &c.CallerName, &c.AgentExten, &c.StartedAt, &c.AnsweredAt,
			&c.EndedAt, &c.RingSeconds, &c.TalkSeconds, &c.DialStatus, &c.HangupCause,
			&c.Disposition); err != nil {
			return nil, 0, fmt.Errorf("scanning call row: %w", err)
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating call rows: %w", err)
	}

	return calls, total, nil
}

// CountActive returns the number of calls that have not ended yet.
func (r *callRepo) CountActive(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM calls WHERE ended_at IS NULL").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting active calls: %w", err)
	}
	return n, nil
}

// CountByDirection returns call counts grouped by direction.
func (r *callRepo) CountByDirection(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT direction, COUNT(*) FROM calls GROUP BY direction")
	if err != nil {
		return nil, fmt.Errorf("counting calls by direction: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var dir string
		var n int64
		if err := rows.Scan(&dir, &n); err != nil {
			return nil, fmt.Errorf("scanning direction count: %w", err)
		}
		out[dir] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating direction counts: %w", err)
	}
	return out, nil
}
