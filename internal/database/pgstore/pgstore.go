// Package pgstore provides a PostgreSQL-backed implementation of the
// database.Store repositories for deployments that outgrow the embedded
// SQLite file. Selected by setting the postgres-dsn config value.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/callwatch/callwatch/internal/database"
	"github.com/callwatch/callwatch/internal/database/models"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements database.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL connection and runs pending migrations.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgresql: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgresql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("postgresql store opened")
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Calls() database.CallRepository                   { return &callRepo{db: s.db} }
func (s *Store) CallLegs() database.CallLegRepository             { return &callLegRepo{db: s.db} }
func (s *Store) BridgeSegments() database.BridgeSegmentRepository { return &bridgeSegmentRepo{db: s.db} }
func (s *Store) Extensions() database.ExtensionRepository         { return &extensionRepo{db: s.db} }
func (s *Store) AdminUsers() database.AdminUserRepository         { return &adminUserRepo{db: s.db} }

// migrate runs all pending SQL migration files in order.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(entry.Name(), ".sql")

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = $1", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %s: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %s: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version)
	}

	return nil
}

const callColumns = `linkedid, state, direction, other_party, caller_num, caller_name,
	 agent_exten, started_at, answered_at, ended_at, ring_seconds, talk_seconds,
	 dial_status, hangup_cause, disposition`

type callRepo struct {
	db *sql.DB
}

func (r *callRepo) GetByLinkedID(ctx context.Context, linkedID string) (*models.Call, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE linkedid = $1`, linkedID)

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

func (r *callRepo) Upsert(ctx context.Context, call *models.Call) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO calls (`+callColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (linkedid) DO UPDATE SET
		   state = EXCLUDED.state,
		   direction = EXCLUDED.direction,
		   other_party = EXCLUDED.other_party,
		   caller_num = EXCLUDED.caller_num,
		   caller_name = EXCLUDED.caller_name,
		   agent_exten = EXCLUDED.agent_exten,
		   started_at = EXCLUDED.started_at,
		   answered_at = EXCLUDED.answered_at,
		   ended_at = EXCLUDED.ended_at,
		   ring_seconds = EXCLUDED.ring_seconds,
		   talk_seconds = EXCLUDED.talk_seconds,
		   dial_status = EXCLUDED.dial_status,
		   hangup_cause = EXCLUDED.hangup_cause,
		   disposition = EXCLUDED.disposition`,
		call.LinkedID, call.State, call.Direction, call.OtherParty, call.CallerNum,
		call.CallerName, call.AgentExten, call.StartedAt, call.AnsweredAt, call.EndedAt,
		call.RingSeconds, call.TalkSeconds, call.DialStatus, call.HangupCause, call.Disposition,
	)
	if err != nil {
		return fmt.Errorf("upserting call: %w", err)
	}
	return nil
}

func (r *callRepo) List(ctx context.Context, filter database.CallListFilter) ([]models.Call, int, error) {
	where := "TRUE"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Direction != "" {
		where += " AND direction = " + arg(filter.Direction)
	}
	if filter.State != "" {
		where += " AND state = " + arg(filter.State)
	}
	if filter.AgentExten != "" {
		where += " AND agent_exten = " + arg(filter.AgentExten)
	}
	if filter.Search != "" {
		s := arg("%" + filter.Search + "%")
		where += fmt.Sprintf(" AND (other_party LIKE %[1]s OR caller_num LIKE %[1]s OR caller_name LIKE %[1]s OR agent_exten LIKE %[1]s)", s)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calls WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting calls: %w", err)
	}

	query := `SELECT ` + callColumns + ` FROM calls WHERE ` + where +
		` ORDER BY started_at DESC LIMIT ` + arg(filter.Limit) + ` OFFSET ` + arg(filter.Offset)

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

func (r *callRepo) CountActive(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM calls WHERE ended_at IS NULL").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting active calls: %w", err)
	}
	return n, nil
}

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

const callLegColumns = `uniqueid, linkedid, channel, exten, context, state_code,
	 state_desc, caller_num, caller_name, connected_num, connected_name,
	 started_at, answered_at, hangup_at, hangup_cause`

type callLegRepo struct {
	db *sql.DB
}

func (r *callLegRepo) GetByUniqueID(ctx context.Context, uniqueID string) (*models.CallLeg, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+callLegColumns+` FROM call_legs WHERE uniqueid = $1`, uniqueID)

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

func (r *callLegRepo) Upsert(ctx context.Context, leg *models.CallLeg) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO call_legs (`+callLegColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (uniqueid) DO UPDATE SET
		   linkedid = EXCLUDED.linkedid,
		   channel = EXCLUDED.channel,
		   exten = EXCLUDED.exten,
		   context = EXCLUDED.context,
		   state_code = EXCLUDED.state_code,
		   state_desc = EXCLUDED.state_desc,
		   caller_num = EXCLUDED.caller_num,
		   caller_name = EXCLUDED.caller_name,
		   connected_num = EXCLUDED.connected_num,
		   connected_name = EXCLUDED.connected_name,
		   started_at = EXCLUDED.started_at,
		   answered_at = EXCLUDED.answered_at,
		   hangup_at = EXCLUDED.hangup_at,
		   hangup_cause = EXCLUDED.hangup_cause`,
		leg.UniqueID, leg.LinkedID, leg.Channel, leg.Exten, leg.Context, leg.StateCode,
		leg.StateDesc, leg.CallerNum, leg.CallerName, leg.ConnectedNum, leg.ConnectedName,
		leg.StartedAt, leg.AnsweredAt, leg.HangupAt, leg.HangupCause,
	)
	if err != nil {
		return fmt.Errorf("upserting call leg: %w", err)
	}
	return nil
}

func (r *callLegRepo) ListByLinkedID(ctx context.Context, linkedID string) ([]models.CallLeg, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+callLegColumns+` FROM call_legs WHERE linkedid = $1 ORDER BY started_at`, linkedID)
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

func (r *callLegRepo) CountActiveByLinkedID(ctx context.Context, linkedID string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM call_legs WHERE linkedid = $1 AND hangup_at IS NULL", linkedID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting active call legs: %w", err)
	}
	return n, nil
}

type bridgeSegmentRepo struct {
	db *sql.DB
}

func (r *bridgeSegmentRepo) Open(ctx context.Context, seg *models.BridgeSegment) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO bridge_segments (linkedid, channel, entered_at, left_at)
		 VALUES ($1, $2, $3, NULL) RETURNING id`,
		seg.LinkedID, seg.Channel, seg.EnteredAt,
	).Scan(&seg.ID)
	if err != nil {
		return fmt.Errorf("inserting bridge segment: %w", err)
	}
	return nil
}

func (r *bridgeSegmentRepo) CloseLatest(ctx context.Context, linkedID, channel string, leftAt time.Time) (bool, error) {
	where := "linkedid = $2 AND left_at IS NULL"
	args := []any{leftAt, linkedID}
	if channel != "" {
		where += " AND channel = $3"
		args = append(args, channel)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE bridge_segments SET left_at = $1
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

func (r *bridgeSegmentRepo) ListByLinkedID(ctx context.Context, linkedID string) ([]models.BridgeSegment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, linkedid, channel, entered_at, left_at
		 FROM bridge_segments WHERE linkedid = $1 ORDER BY entered_at, id`, linkedID)
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

func (r *bridgeSegmentRepo) CountOpen(ctx context.Context, linkedID string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM bridge_segments WHERE linkedid = $1 AND left_at IS NULL", linkedID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting open bridge segments: %w", err)
	}
	return n, nil
}

const extensionColumns = `number, name, status, status_code, device_state,
	 last_seen, last_status_change, created_at, updated_at`

type extensionRepo struct {
	db *sql.DB
}

func (r *extensionRepo) GetByNumber(ctx context.Context, number string) (*models.Extension, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+extensionColumns+` FROM extensions WHERE number = $1`, number)

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

func (r *extensionRepo) Create(ctx context.Context, ext *models.Extension) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO extensions (number, name, status, status_code, device_state)
		 VALUES ($1, $2, $3, $4, $5)`,
		ext.Number, ext.Name, ext.Status, ext.StatusCode, ext.DeviceState,
	)
	if err != nil {
		return fmt.Errorf("inserting extension: %w", err)
	}
	return nil
}

func (r *extensionRepo) UpdateStatus(ctx context.Context, ext *models.Extension) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE extensions SET status = $1, status_code = $2, device_state = $3,
		   last_seen = $4, last_status_change = $5, updated_at = NOW()
		 WHERE number = $6`,
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

func (r *extensionRepo) Delete(ctx context.Context, number string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM extensions WHERE number = $1", number)
	if err != nil {
		return fmt.Errorf("deleting extension: %w", err)
	}
	return nil
}

func (r *extensionRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM extensions").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting extensions: %w", err)
	}
	return n, nil
}

type adminUserRepo struct {
	db *sql.DB
}

func (r *adminUserRepo) Create(ctx context.Context, user *models.AdminUser) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO admin_users (username, password_hash) VALUES ($1, $2) RETURNING id`,
		user.Username, user.PasswordHash,
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("inserting admin user: %w", err)
	}
	return nil
}

func (r *adminUserRepo) GetByUsername(ctx context.Context, username string) (*models.AdminUser, error) {
	var u models.AdminUser
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at, updated_at
		 FROM admin_users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying admin user by username: %w", err)
	}
	return &u, nil
}

func (r *adminUserRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM admin_users").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting admin users: %w", err)
	}
	return n, nil
}
