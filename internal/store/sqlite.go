package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS idempotency_keys (
    key TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    result TEXT,
    expires_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_idempotency_expires ON idempotency_keys(expires_at);

CREATE TABLE IF NOT EXISTS experiments (
    id TEXT PRIMARY KEY,
    name TEXT UNIQUE NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'draft',
    variants TEXT NOT NULL,
    start_date INTEGER,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_experiments_name ON experiments(name);
CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status);

CREATE TABLE IF NOT EXISTS assignments (
    user_id TEXT NOT NULL,
    experiment_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    PRIMARY KEY (user_id, experiment_id),
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE INDEX IF NOT EXISTS idx_assignments_experiment ON assignments(experiment_id, variant_id);

CREATE TABLE IF NOT EXISTS conversions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    experiment_id TEXT NOT NULL,
    variant_id TEXT,
    event_type TEXT NOT NULL,
    value REAL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE INDEX IF NOT EXISTS idx_conversions_experiment ON conversions(experiment_id);
CREATE INDEX IF NOT EXISTS idx_conversions_variant ON conversions(experiment_id, variant_id);
`

func Open(dbPath string) (*SQLiteStore, error) {
	// Pragmas go in the DSN so the driver applies them to every pooled
	// connection. Exec'ing them would only configure one connection, and
	// concurrent first-assignment writers on the others would fail with
	// SQLITE_BUSY instead of queuing.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- KeyStore ---

// InsertKeyIfAbsent attempts an insert-if-absent on the primary key. It
// returns true when this caller won the row. The uniqueness check happens
// inside the database, so two concurrent callers cannot both win.
func (s *SQLiteStore) InsertKeyIfAbsent(ctx context.Context, rec IdempotencyRecord) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO idempotency_keys (key, status, result, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.Key, string(rec.Status), nullableString(rec.Result), rec.ExpiresAt.Unix(), rec.CreatedAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert idempotency key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

func (s *SQLiteStore) UpsertKey(ctx context.Context, rec IdempotencyRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, status, result, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		     status = excluded.status,
		     result = excluded.result,
		     expires_at = excluded.expires_at`,
		rec.Key, string(rec.Status), nullableString(rec.Result), rec.ExpiresAt.Unix(), rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert idempotency key: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetKey(ctx context.Context, key string) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var status string
	var result sql.NullString
	var expiresAt, createdAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT key, status, result, expires_at, created_at
		 FROM idempotency_keys WHERE key = ?`, key,
	).Scan(&rec.Key, &status, &result, &expiresAt, &createdAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency key: %w", err)
	}

	rec.Status = KeyStatus(status)
	if result.Valid {
		rec.Result = json.RawMessage(result.String)
	}
	rec.ExpiresAt = time.Unix(expiresAt, 0)
	rec.CreatedAt = time.Unix(createdAt, 0)

	return &rec, nil
}

// DeleteKey removes a key. Deleting an absent key is not an error.
func (s *SQLiteStore) DeleteKey(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete idempotency key: %w", err)
	}
	return nil
}

// DeleteExpiredKeys removes rows with expires_at strictly before now.
// Rows expiring exactly at now are untouched.
func (s *SQLiteStore) DeleteExpiredKeys(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE expires_at < ?`, now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired keys: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// --- ExperimentStore ---

func (s *SQLiteStore) CreateExperiment(ctx context.Context, exp Experiment) error {
	variantsJSON, err := json.Marshal(exp.Variants)
	if err != nil {
		return fmt.Errorf("failed to marshal variants: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO experiments (id, name, description, type, status, variants, start_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exp.ID, exp.Name, exp.Description, exp.Type, string(exp.Status), string(variantsJSON),
		nullableTime(exp.StartDate), exp.CreatedAt.Unix(), exp.UpdatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("experiment %q: %w", exp.Name, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert experiment: %w", err)
	}

	return nil
}

func (s *SQLiteStore) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	return s.getExperiment(ctx, `name = ?`, name)
}

func (s *SQLiteStore) GetExperimentByID(ctx context.Context, id string) (*Experiment, error) {
	return s.getExperiment(ctx, `id = ?`, id)
}

func (s *SQLiteStore) getExperiment(ctx context.Context, where string, arg any) (*Experiment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, type, status, variants, start_date, created_at, updated_at
		 FROM experiments WHERE `+where, arg,
	)

	exp, err := scanExperiment(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}

	return exp, nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]*Experiment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, type, status, variants, start_date, created_at, updated_at
		 FROM experiments ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		experiments = append(experiments, exp)
	}

	return experiments, rows.Err()
}

func scanExperiment(scan func(dest ...any) error) (*Experiment, error) {
	var exp Experiment
	var status, variantsJSON string
	var startDate sql.NullInt64
	var createdAt, updatedAt int64

	err := scan(&exp.ID, &exp.Name, &exp.Description, &exp.Type, &status, &variantsJSON, &startDate, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(variantsJSON), &exp.Variants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variants: %w", err)
	}

	exp.Status = ExperimentStatus(status)
	if startDate.Valid {
		t := time.Unix(startDate.Int64, 0)
		exp.StartDate = &t
	}
	exp.CreatedAt = time.Unix(createdAt, 0)
	exp.UpdatedAt = time.Unix(updatedAt, 0)

	return &exp, nil
}

func (s *SQLiteStore) UpdateExperimentStatus(ctx context.Context, id string, status ExperimentStatus, startDate *time.Time) (*Experiment, error) {
	now := time.Now().Unix()

	var result sql.Result
	var err error

	if startDate != nil {
		result, err = s.db.ExecContext(ctx,
			`UPDATE experiments SET status = ?, start_date = ?, updated_at = ? WHERE id = ?`,
			string(status), startDate.Unix(), now, id,
		)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE experiments SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), now, id,
		)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to update experiment status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	return s.GetExperimentByID(ctx, id)
}

// InsertAssignment writes a new assignment row. A second insert for the
// same (user, experiment) pair returns ErrDuplicate; the existing row is
// left untouched.
func (s *SQLiteStore) InsertAssignment(ctx context.Context, a Assignment) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO assignments (user_id, experiment_id, variant_id, created_at)
		 VALUES (?, ?, ?, ?)`,
		a.UserID, a.ExperimentID, a.VariantID, a.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert assignment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDuplicate
	}

	return nil
}

func (s *SQLiteStore) GetAssignment(ctx context.Context, userID, experimentID string) (*Assignment, error) {
	var a Assignment
	var createdAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, experiment_id, variant_id, created_at
		 FROM assignments WHERE user_id = ? AND experiment_id = ?`,
		userID, experimentID,
	).Scan(&a.UserID, &a.ExperimentID, &a.VariantID, &createdAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}

	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

func (s *SQLiteStore) CountAssignmentsByVariant(ctx context.Context, experimentID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT variant_id, COUNT(*) FROM assignments
		 WHERE experiment_id = ? GROUP BY variant_id`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var variantID string
		var count int
		if err := rows.Scan(&variantID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan assignment count: %w", err)
		}
		counts[variantID] = count
	}

	return counts, rows.Err()
}

func (s *SQLiteStore) InsertConversion(ctx context.Context, c Conversion) error {
	var variantID sql.NullString
	if c.VariantID != nil {
		variantID = sql.NullString{String: *c.VariantID, Valid: true}
	}
	var value sql.NullFloat64
	if c.Value != nil {
		value = sql.NullFloat64{Float64: *c.Value, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversions (id, user_id, session_id, experiment_id, variant_id, event_type, value, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.SessionID, c.ExperimentID, variantID, c.EventType, value, c.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversion: %w", err)
	}

	return nil
}

func (s *SQLiteStore) ConversionStatsByVariant(ctx context.Context, experimentID string) (map[string]VariantActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT variant_id, COUNT(*), COALESCE(SUM(value), 0)
		FROM conversions
		WHERE experiment_id = ? AND variant_id IS NOT NULL
		GROUP BY variant_id
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversion stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]VariantActivity)
	for rows.Next() {
		var va VariantActivity
		if err := rows.Scan(&va.VariantID, &va.Conversions, &va.TotalValue); err != nil {
			return nil, fmt.Errorf("failed to scan conversion stats: %w", err)
		}
		stats[va.VariantID] = va
	}

	return stats, rows.Err()
}

func (s *SQLiteStore) ListConversions(ctx context.Context, experimentID string) ([]*Conversion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, session_id, experiment_id, variant_id, event_type, value, created_at
		 FROM conversions WHERE experiment_id = ? ORDER BY created_at DESC`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer rows.Close()

	var conversions []*Conversion
	for rows.Next() {
		var c Conversion
		var variantID sql.NullString
		var value sql.NullFloat64
		var createdAt int64

		err := rows.Scan(&c.ID, &c.UserID, &c.SessionID, &c.ExperimentID, &variantID, &c.EventType, &value, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversion: %w", err)
		}

		if variantID.Valid {
			v := variantID.String
			c.VariantID = &v
		}
		if value.Valid {
			v := value.Float64
			c.Value = &v
		}
		c.CreatedAt = time.Unix(createdAt, 0)

		conversions = append(conversions, &c)
	}

	return conversions, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite reports constraint failures in the error text;
	// there is no exported error code type to match against. Match the
	// full prefix so CHECK or NOT NULL failures don't read as duplicates.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullableString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullableTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
