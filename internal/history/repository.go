package history

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, limit int) ([]*Record, error)
	UpdateState(ctx context.Context, id, state string) error
	Fail(ctx context.Context, id, stage, errorMsg string) error
	Deliver(ctx context.Context, id string, outputBytes, elapsedMs int64) error
}

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

const recordColumns = `id, source_url, start_ms, end_ms, has_caption, has_overlay, state, stage, error,
	output_bytes, elapsed_ms, created_at, updated_at`

func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}
	rec.UpdatedAt = rec.CreatedAt
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clips (id, source_url, start_ms, end_ms, has_caption, has_overlay, state, stage, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.SourceURL, rec.StartMs, rec.EndMs, boolToInt(rec.HasCaption), boolToInt(rec.HasOverlay),
		rec.State, nullString(rec.Stage), nullString(rec.Error),
		rec.CreatedAt.Format(time.RFC3339), rec.UpdatedAt.Format(time.RFC3339))
	return err
}

// Get returns nil, nil when no clip has the given id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM clips WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// List returns the newest clips first.
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM clips ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *SQLiteRepository) UpdateState(ctx context.Context, id, state string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clips SET state = ?, updated_at = ? WHERE id = ?
	`, state, r.now().UTC().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) Fail(ctx context.Context, id, stage, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clips SET state = 'failed', stage = ?, error = ?, updated_at = ? WHERE id = ?
	`, nullString(stage), nullString(errorMsg), r.now().UTC().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) Deliver(ctx context.Context, id string, outputBytes, elapsedMs int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clips SET state = 'delivered', output_bytes = ?, elapsed_ms = ?, updated_at = ? WHERE id = ?
	`, outputBytes, elapsedMs, r.now().UTC().Format(time.RFC3339), id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var hasCaption, hasOverlay int
	var stage, errMsg sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&rec.ID, &rec.SourceURL, &rec.StartMs, &rec.EndMs, &hasCaption, &hasOverlay,
		&rec.State, &stage, &errMsg, &rec.OutputBytes, &rec.ElapsedMs, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.HasCaption = hasCaption == 1
	rec.HasOverlay = hasOverlay == 1
	rec.Stage = stage.String
	rec.Error = errMsg.String
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rec, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
