package database

import (
	"context"
	"fmt"
	"time"

	"github.com/callwatch/callwatch/internal/database/models"
)

// bridgeSegmentRepo implements BridgeSegmentRepository.
type bridgeSegmentRepo struct {
	db *DB
}

// NewBridgeSegmentRepository creates a new BridgeSegmentRepository.
func NewBridgeSegmentRepository(db *DB) BridgeSegmentRepository {
	return &bridgeSegmentRepo{db: db}
}

// Open inserts a new open segment (left_at null).
func (r *bridgeSegmentRepo) Open(ctx context.Context, seg *models.BridgeSegment) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO bridge_segments (linkedid, channel, entered_at, left_at)
		 VALUES (?, ?, ?, NULL)`,
		seg.LinkedID, seg.Channel, seg.EnteredAt,
	)
	if err != nil {
		return fmt.Errorf("inserting bridge segment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	seg.ID = id
	return nil
}

// CloseLatest stamps left_at on the most recent open segment for the
// linkedid, narrowed to the channel when channel is non-empty.
func (r *bridgeSegmentRepo) CloseLatest(ctx context.Context, linkedID, channel string, leftAt time.Time) (bool, error) {
	where := "linkedid = ? AND left_at IS NULL"
	args := []any{leftAt, linkedID}
	if channel != "" {
		where += " AND channel = ?"
		args = append(args, channel)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE bridge_segments SET left_at = ?
		 WHERE id = (SELECT id FROM bridge_segments WHERE `+where+`
		             ORDER BY entered_at DESC, id DESC LIMIT 1)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("closing bridge segment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return n > 0, nil
}

// ListByLinkedID returns every segment for the call, oldest first.
func (r *bridgeSegmentRepo) ListByLinkedID(ctx context.Context, linkedID string) ([]models.BridgeSegment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, linkedid, channel, entered_at, left_at
		 FROM bridge_segments WHERE linkedid = ? ORDER BY entered_at, id`, linkedID)
	if err != nil {
		return nil, fmt.Errorf("listing bridge segments: %w", err)
	}
	defer rows.Close()

	var segs []models.BridgeSegment
	for rows.Next() {
		var s models.BridgeSegment
		if err := rows.Scan(&s.ID, &s.LinkedID, &s.Channel, &s.EnteredAt, &s.LeftAt); err != nil {
			return nil, fmt.Errorf("scanning bridge segment row: %w", err)
		}
		segs = append(segs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bridge segment rows: %w", err)
	}
	return segs, nil
}

// CountOpen returns the number of open segments for the call.
func (r *bridgeSegmentRepo) CountOpen(ctx context.Context, linkedID string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM bridge_segments WHERE linkedid = ? AND left_at IS NULL", linkedID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting open bridge segments: %w", err)
	}
	return n, nil
}
