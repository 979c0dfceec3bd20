package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/callwatch/callwatch/internal/database/models"
)

// callLegRepo implements CallLegRepository.
type callLegRepo struct {
	db *DB
}

// NewCallLegRepository creates a new CallLegRepository.
func NewCallLegRepository(db *DB) CallLegRepository {
	return &callLegRepo{db: db}
}

const callLegColumns = `uniqueid, linkedid, channel, exten, context, state_code,
	 state_desc, caller_num, caller_name, connected_num, connected_name,
	 started_at, answered_at, hangup_at, hangup_cause`

// GetByUniqueID returns the leg for the given uniqueid, or nil when absent.
func (r *callLegRepo) GetByUniqueID(ctx context.Context, uniqueID string) (*models.CallLeg, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+callLegColumns+` FROM call_legs WHERE uniqueid = ?`, uniqueID)

	var l models.CallLeg
	err := row.Scan(&l.UniqueID, &l.LinkedID, &l.Channel, &l.Exten, &l.Context,
		&l.StateCode, &l.StateDesc, &l.CallerNum, &l.CallerName, &l.ConnectedNum,
		&l.ConnectedName, &l.StartedAt, &l.AnsweredAt, &l.HangupAt, &l.HangupCause)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying call leg by uniqueid: %w", err)
	}
	return &l, nil
}

// Upsert inserts the leg or replaces every field of the existing row.
func (r *callLegRepo) Upsert(ctx context.Context, leg *models.CallLeg) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO call_legs (`+callLegColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(uniqueid) DO UPDATE SET
		   linkedid = excluded.linkedid,
		   channel = excluded.channel,
		   exten = excluded.exten,
		   context = excluded.context,
		   state_code = excluded.state_code,
		   state_desc = excluded.state_desc,
		   caller_num = excluded.caller_num,
		   caller_name = excluded.caller_name,
		   connected_num = excluded.connected_num,
		   connected_name = excluded.connected_name,
		   started_at = excluded.started_at,
		   answered_at = excluded.answered_at,
		   hangup_at = excluded.hangup_at,
		   hangup_cause = excluded.hangup_cause`,
		leg.UniqueID, leg.LinkedID, leg.Channel, leg.Exten, leg.Context, leg.StateCode,
		leg.StateDesc, leg.CallerNum, leg.CallerName, leg.ConnectedNum, leg.ConnectedName,
		leg.StartedAt, leg.AnsweredAt, leg.HangupAt, leg.HangupCause,
	)
	if err != nil {
		return fmt.Errorf("upserting call leg: %w", err)
	}
	return nil
}

// ListByLinkedID returns every leg belonging to the call, oldest first.
func (r *callLegRepo) ListByLinkedID(ctx context.Context, linkedID string) ([]models.CallLeg, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+callLegColumns+` FROM call_legs WHERE linkedid = ? ORDER BY started_at`, linkedID)
	if err != nil {
		return nil, fmt.Errorf("listing call legs: %w", err)
	}
	defer rows.Close()

	var legs []models.CallLeg
	for rows.Next() {
		var l models.CallLeg
		if err := rows.Scan(&l.UniqueID, &l.LinkedID, &l.Channel, &l.Exten, &l.Context,
			&l.StateCode, &l.StateDesc, &l.CallerNum, &l.CallerName, &l.ConnectedNum,
			&l.ConnectedName, &l.StartedAt, &l.AnsweredAt, &l.HangupAt, &l.HangupCause); err != nil {
			return nil, fmt.Errorf("scanning call leg row: %w", err)
		}
		legs = append(legs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call leg rows: %w", err)
	}
	return legs, nil
}

// CountActiveByLinkedID returns the number of legs without a hangup time.
func (r *callLegRepo) CountActiveByLinkedID(ctx context.Context, linkedID string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM call_legs WHERE linkedid = ? AND hangup_at IS NULL", linkedID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting active call legs: %w", err)
	}
	return n, nil
}
