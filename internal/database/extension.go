package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/callwatch/callwatch/internal/database/models"
)

// extensionRepo implements ExtensionRepository.
type extensionRepo struct {
	db *DB
}

// NewExtensionRepository creates a new ExtensionRepository.
func NewExtensionRepository(db *DB) ExtensionRepository {
	return &extensionRepo{db: db}
}

const extensionColumns = `number, name, status, status_code, device_state,
	 last_seen, last_status_change, created_at, updated_at`

// GetByNumber returns the extension, or nil when not provisioned.
func (r *extensionRepo) GetByNumber(ctx context.Context, number string) (*models.Extension, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+extensionColumns+` FROM extensions WHERE number = ?`, number)

	var e models.Extension
	err := row.Scan(&e.Number, &e.Name, &e.Status, &e.StatusCode, &e.DeviceState,
		&e.LastSeen, &e.LastStatusChange, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying extension by number: %w", err)
	}
	return &e, nil
}

// List returns all extensions ordered by number.
func (r *extensionRepo) List(ctx context.Context) ([]models.Extension, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+extensionColumns+` FROM extensions ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("listing extensions: %w", err)
	}
	defer rows.Close()

	var exts []models.Extension
	for rows.Next() {
		var e models.Extension
		if err := rows.Scan(&e.Number, &e.Name, &e.Status, &e.StatusCode, &e.DeviceState,
			&e.LastSeen, &e.LastStatusChange, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning extension row: %w", err)
		}
		exts = append(exts, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating extension rows: %w", err)
	}
	return exts, nil
}

// Create provisions a new monitored extension.
func (r *extensionRepo) Create(ctx context.Context, ext *models.Extension) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO extensions (number, name, status, status_code, device_state)
		 VALUES (?, ?, ?, ?, ?)`,
		ext.Number, ext.Name, ext.Status, ext.StatusCode, ext.DeviceState,
	)
	if err != nil {
		return fmt.Errorf("inserting extension: %w", err)
	}
	return nil
}

// UpdateStatus updates an existing row only; it never inserts. Returns false
// when the extension is not provisioned.
func (r *extensionRepo) UpdateStatus(ctx context.Context, ext *models.Extension) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE extensions SET status = ?, status_code = ?, device_state = ?,
		   last_seen = ?, last_status_change = ?, updated_at = datetime('now')
		 WHERE number = ?`,
		ext.Status, ext.StatusCode, ext.DeviceState, ext.LastSeen, ext.LastStatusChange,
		ext.Number,
	)
	if err != nil {
		return false, fmt.Errorf("updating extension status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete removes an extension by number.
func (r *extensionRepo) Delete(ctx context.Context, number string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM extensions WHERE number = ?", number)
	if err != nil {
		return fmt.Errorf("deleting extension: %w", err)
	}
	return nil
}

// Count returns the number of provisioned extensions.
func (r *extensionRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM extensions").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting extensions: %w", err)
	}
	return n, nil
}
