package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/ledgerline/patternd/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/audit.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some PRAGMAs return rows so QueryRow is used.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. the event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Invocations ---

func (s *LibSQLStore) CreateInvocation(ctx context.Context, inv *Invocation) error {
	inputs, err := nullableJSON(inv.Inputs)
	if err != nil {
		return fmt.Errorf("marshal invocation inputs: %w", err)
	}
	if inv.StartedAt.IsZero() {
		inv.StartedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO invocations (id, pattern_id, trace_id, status, inputs, outputs, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.PatternID, inv.TraceID, string(inv.Status), inputs,
		nullRaw(inv.Outputs), nullRaw(inv.Error), inv.StartedAt, nullTime(inv.CompletedAt),
	)
	return err
}

func (s *LibSQLStore) GetInvocation(ctx context.Context, id string) (*Invocation, error) {
	inv := &Invocation{}
	var status string
	var inputs, outputs, errJSON sql.NullString
	var completed sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, pattern_id, trace_id, status, inputs, outputs, error, started_at, completed_at
		 FROM invocations WHERE id = ?`, id,
	).Scan(&inv.ID, &inv.PatternID, &inv.TraceID, &status, &inputs, &outputs, &errJSON, &inv.StartedAt, &completed)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("invocation", id)
	}
	if err != nil {
		return nil, err
	}

	inv.Status = schema.InvocationStatus(status)
	if inputs.Valid && inputs.String != "" {
		if err := json.Unmarshal([]byte(inputs.String), &inv.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal invocation inputs: %w", err)
		}
	}
	if outputs.Valid {
		inv.Outputs = json.RawMessage(outputs.String)
	}
	if errJSON.Valid {
		inv.Error = json.RawMessage(errJSON.String)
	}
	if completed.Valid {
		t := completed.Time
		inv.CompletedAt = &t
	}
	return inv, nil
}

func (s *LibSQLStore) UpdateInvocation(ctx context.Context, id string, update InvocationUpdate) error {
	var sets []string
	var args []any

	if update.Status != "" {
		sets = append(sets, "status = ?")
		args = append(args, string(update.Status))
	}
	if update.Outputs != nil {
		sets = append(sets, "outputs = ?")
		args = append(args, string(update.Outputs))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, string(update.Error))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE invocations SET %s WHERE id = ?`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storeNotFound("invocation", id)
	}
	return nil
}

func (s *LibSQLStore) ListInvocations(ctx context.Context, filter InvocationFilter) ([]*Invocation, error) {
	query := `SELECT id, pattern_id, trace_id, status, inputs, outputs, error, started_at, completed_at FROM invocations`
	var conds []string
	var args []any

	if filter.PatternID != "" {
		conds = append(conds, "pattern_id = ?")
		args = append(args, filter.PatternID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invs []*Invocation
	for rows.Next() {
		inv := &Invocation{}
		var status string
		var inputs, outputs, errJSON sql.NullString
		var completed sql.NullTime
		if err := rows.Scan(&inv.ID, &inv.PatternID, &inv.TraceID, &status, &inputs, &outputs, &errJSON, &inv.StartedAt, &completed); err != nil {
			return nil, err
		}
		inv.Status = schema.InvocationStatus(status)
		if inputs.Valid && inputs.String != "" {
			_ = json.Unmarshal([]byte(inputs.String), &inv.Inputs)
		}
		if outputs.Valid {
			inv.Outputs = json.RawMessage(outputs.String)
		}
		if errJSON.Valid {
			inv.Error = json.RawMessage(errJSON.String)
		}
		if completed.Valid {
			t := completed.Time
			inv.CompletedAt = &t
		}
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

// --- Events ---

// AppendEvent inserts an event row. Sequence assignment lives in EventLog;
// direct callers must set Sequence themselves.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (invocation_id, pattern_id, step_alias, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.InvocationID, nullStr(event.PatternID), nullStr(event.StepAlias),
		event.Type, nullRaw(event.Payload), event.Timestamp, event.Sequence,
	)
	return err
}

func (s *LibSQLStore) GetEvents(ctx context.Context, invocationID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, invocation_id, pattern_id, step_alias, event_type, payload, timestamp, sequence
		 FROM events WHERE invocation_id = ? AND sequence > ? ORDER BY sequence ASC`,
		invocationID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	query := `SELECT id, invocation_id, pattern_id, step_alias, event_type, payload, timestamp, sequence
	          FROM events WHERE event_type = ?`
	args := []any{eventType}

	if filter.InvocationID != "" {
		query += " AND invocation_id = ?"
		args = append(args, filter.InvocationID)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp > ?"
		args = append(args, filter.Since)
	}
	query += " ORDER BY timestamp ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var patternID, stepAlias, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.InvocationID, &patternID, &stepAlias, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.PatternID = patternID.String
		e.StepAlias = stepAlias.String
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- helpers ---

func storeNotFound(kind, id string) error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", kind, id)
}

func nullableJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullRaw(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ Store = (*LibSQLStore)(nil)
