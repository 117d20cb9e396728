// Package sql is the relational storage backend. It speaks SQLite
// (modernc), PostgreSQL (pgx) and MySQL through sqlx and manages its schema
// with embedded goose migrations.
package sql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/storage"
)

//go:embed migrations/*/*.sql
var embedMigrations embed.FS

// goose keeps its base FS and dialect in package state.
var migrateMu sync.Mutex

type dialect struct {
	driver     string // database/sql driver name
	goose      string
	migrations string
	upsert     string
	returning  bool // LastInsertId unsupported, use RETURNING id
}

const upsertOnConflict = `INSERT INTO endpoint_usage
	(api_key_id, endpoint, request_count, error_count, total_response_time_ms, last_used_at)
	VALUES (?, ?, 1, ?, ?, ?)
	ON CONFLICT (api_key_id, endpoint) DO UPDATE SET
		request_count = endpoint_usage.request_count + 1,
		error_count = endpoint_usage.error_count + excluded.error_count,
		total_response_time_ms = endpoint_usage.total_response_time_ms + excluded.total_response_time_ms,
		last_used_at = excluded.last_used_at`

const upsertOnDuplicateKey = `INSERT INTO endpoint_usage
	(api_key_id, endpoint, request_count, error_count, total_response_time_ms, last_used_at)
	VALUES (?, ?, 1, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		request_count = request_count + 1,
		error_count = error_count + VALUES(error_count),
		total_response_time_ms = total_response_time_ms + VALUES(total_response_time_ms),
		last_used_at = VALUES(last_used_at)`

var (
	sqliteDialect   = dialect{driver: "sqlite", goose: "sqlite3", migrations: "migrations/sqlite", upsert: upsertOnConflict}
	postgresDialect = dialect{driver: "pgx", goose: "postgres", migrations: "migrations/postgres", upsert: upsertOnConflict, returning: true}
	mysqlDialect    = dialect{driver: "mysql", goose: "mysql", migrations: "migrations/mysql", upsert: upsertOnDuplicateKey}
)

var dialects = map[string]dialect{
	"sqlite":     sqliteDialect,
	"sqlite3":    sqliteDialect,
	"postgres":   postgresDialect,
	"postgresql": postgresDialect,
	"pgx":        postgresDialect,
	"mysql":      mysqlDialect,
}

// Drivers lists the accepted driver names.
func Drivers() []string {
	return []string{"sqlite", "postgres", "mysql"}
}

// Store implements storage.Storage on a relational database.
type Store struct {
	db      *sqlx.DB
	dialect dialect
}

var _ storage.Storage = (*Store)(nil)

// New opens the database named by driver and dsn and migrates it to the
// latest schema. An empty SQLite dsn opens a private in-memory database.
func New(driver, dsn string) (*Store, error) {
	d, ok := dialects[strings.ToLower(driver)]
	if !ok {
		return nil, fmt.Errorf("unsupported storage driver %q (want one of %s)", driver, strings.Join(Drivers(), ", "))
	}

	dsn, err := prepareDSN(d, dsn)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if d == sqliteDialect {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	if err := migrate(db, d); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, dialect: d}, nil
}

func prepareDSN(d dialect, dsn string) (string, error) {
	switch d {
	case sqliteDialect:
		if dsn == "" {
			dsn = ":memory:"
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite", nil
	case mysqlDialect:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		// Report matched rather than changed rows so NotFound checks hold.
		cfg.ClientFoundRows = true
		return cfg.FormatDSN(), nil
	default:
		if dsn == "" {
			return "", errors.New("storage dsn is required")
		}
		return dsn, nil
	}
}

func migrate(db *sqlx.DB, d dialect) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(d.goose); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	return goose.Up(db.DB, d.migrations)
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func wrapUniqueError(err error) error {
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	return err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// keyRow maps 1:1 to the api_keys table. The quota policy is stored as two
// flat columns.
type keyRow struct {
	ID            string     `db:"id"`
	KeyHash       string     `db:"key_hash"`
	KeyPrefix     string     `db:"key_prefix"`
	Label         string     `db:"label"`
	State         string     `db:"state"`
	RateLimit     int64      `db:"rate_limit"`
	RateWindowMs  int64      `db:"rate_window_ms"`
	ExpiresAt     *time.Time `db:"expires_at"`
	TotalRequests int64      `db:"total_requests"`
	TotalErrors   int64      `db:"total_errors"`
	LastUsedAt    *time.Time `db:"last_used_at"`
	LastUsedFrom  string     `db:"last_used_from"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

const keyColumns = `id, key_hash, key_prefix, label, state, rate_limit, rate_window_ms,
	expires_at, total_requests, total_errors, last_used_at, last_used_from, created_at, updated_at`

func keyRowFromModel(k *model.APIKey) keyRow {
	return keyRow{
		ID:            k.ID,
		KeyHash:       k.KeyHash,
		KeyPrefix:     k.KeyPrefix,
		Label:         k.Label,
		State:         string(k.State),
		RateLimit:     k.Quota.Limit,
		RateWindowMs:  k.Quota.Window.Milliseconds(),
		ExpiresAt:     utcPtr(k.ExpiresAt),
		TotalRequests: k.TotalRequests,
		TotalErrors:   k.TotalErrors,
		LastUsedAt:    utcPtr(k.LastUsedAt),
		LastUsedFrom:  k.LastUsedFrom,
		CreatedAt:     k.CreatedAt.UTC(),
		UpdatedAt:     k.UpdatedAt.UTC(),
	}
}

func (r keyRow) toModel() *model.APIKey {
	quota := model.Unlimited()
	if r.RateLimit > 0 {
		quota = model.PerWindow(r.RateLimit, time.Duration(r.RateWindowMs)*time.Millisecond)
	}
	return &model.APIKey{
		ID:            r.ID,
		KeyHash:       r.KeyHash,
		KeyPrefix:     r.KeyPrefix,
		Label:         r.Label,
		State:         model.KeyState(r.State),
		Quota:         quota,
		ExpiresAt:     utcPtr(r.ExpiresAt),
		TotalRequests: r.TotalRequests,
		TotalErrors:   r.TotalErrors,
		LastUsedAt:    utcPtr(r.LastUsedAt),
		LastUsedFrom:  r.LastUsedFrom,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

// CreateAPIKey inserts a new API key record.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	const q = `INSERT INTO api_keys
		(id, key_hash, key_prefix, label, state, rate_limit, rate_window_ms, expires_at,
		 total_requests, total_errors, last_used_at, last_used_from, created_at, updated_at)
		VALUES
		(:id, :key_hash, :key_prefix, :label, :state, :rate_limit, :rate_window_ms, :expires_at,
		 :total_requests, :total_errors, :last_used_at, :last_used_from, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, keyRowFromModel(key)); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func getKey(ctx context.Context, q queryer, where string, arg any) (*model.APIKey, error) {
	var row keyRow
	query := q.Rebind("SELECT " + keyColumns + " FROM api_keys WHERE " + where)
	if err := sqlx.GetContext(ctx, q, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return row.toModel(), nil
}

// GetAPIKey returns a key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	return getKey(ctx, s.db, "id = ?", id)
}

// GetAPIKeyByHash looks up an API key by its SHA-256 hash.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	return getKey(ctx, s.db, "key_hash = ?", hash)
}

// UpdateAPIKey applies upd inside a transaction. Usage counters are not
// written, so concurrent RecordUsage increments are never lost.
func (s *Store) UpdateAPIKey(ctx context.Context, id string, upd model.KeyUpdate) (*model.APIKey, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	key, err := getKey(ctx, tx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	upd.Apply(key, time.Now().UTC())
	row := keyRowFromModel(key)

	_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE api_keys SET
		label = ?, state = ?, rate_limit = ?, rate_window_ms = ?, expires_at = ?, updated_at = ?
		WHERE id = ?`),
		row.Label, row.State, row.RateLimit, row.RateWindowMs, row.ExpiresAt, row.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("update api key: %w", err)
	}

	key, err = getKey(ctx, tx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return key, nil
}

// RotateAPIKey swaps in a new hash and display prefix.
func (s *Store) RotateAPIKey(ctx context.Context, id, hash, prefix string) (*model.APIKey, error) {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE api_keys SET key_hash = ?, key_prefix = ?, updated_at = ? WHERE id = ?"),
		hash, prefix, time.Now().UTC(), id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, storage.ErrAlreadyExists
		}
		return nil, fmt.Errorf("rotate api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rotate api key rows affected: %w", err)
	}
	if n == 0 {
		return nil, storage.ErrNotFound
	}
	return s.GetAPIKey(ctx, id)
}

// DeleteAPIKey removes a key. Usage logs and endpoint aggregates go with it
// through ON DELETE CASCADE.
func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM api_keys WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete api key rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListAPIKeys returns keys newest first.
func (s *Store) ListAPIKeys(ctx context.Context, filter model.KeyFilter) ([]model.APIKey, error) {
	q := "SELECT " + keyColumns + " FROM api_keys"
	var args []any
	if filter.State != nil {
		q += " WHERE state = ?"
		args = append(args, string(*filter.State))
	}
	q += " ORDER BY created_at DESC, id DESC"

	var rows []keyRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	keys := make([]model.APIKey, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, *r.toModel())
	}
	return keys, nil
}

// DeactivateExpired flips every active key whose expiry has passed.
func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	now = now.UTC()
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE api_keys SET state = ?, updated_at = ?
		WHERE state = ? AND expires_at IS NOT NULL AND expires_at <= ?`),
		string(model.KeyStateInactive), now, string(model.KeyStateActive), now)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired keys: %w", err)
	}
	return result.RowsAffected()
}

// ---------------------------------------------------------------------------
// Usage
// ---------------------------------------------------------------------------

// RecordUsage writes the log row, the endpoint aggregate and the key
// counters in one transaction. Every counter is an in-place SQL increment.
func (s *Store) RecordUsage(ctx context.Context, entry *model.UsageLogEntry) error {
	entry.Sanitize()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	ts := entry.Timestamp.UTC()
	var isErr int64
	if entry.IsError() {
		isErr = 1
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE api_keys SET
		total_requests = total_requests + 1,
		total_errors = total_errors + ?,
		last_used_at = ?,
		last_used_from = ?
		WHERE id = ?`),
		isErr, ts, entry.Origin, entry.KeyID)
	if err != nil {
		return fmt.Errorf("increment key counters: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment key counters rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO usage_logs
		(api_key_id, endpoint, method, status_code, response_time_ms, origin, client_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.KeyID, entry.Endpoint, entry.Method, entry.StatusCode, entry.ResponseTimeMs,
		entry.Origin, entry.ClientAgent, ts)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(s.dialect.upsert),
		entry.KeyID, entry.Endpoint, isErr, entry.ResponseTimeMs, ts)
	if err != nil {
		return fmt.Errorf("upsert endpoint usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// logWhere renders the WHERE clause shared by the log queries.
func logWhere(f model.LogFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.KeyID != "" {
		clauses = append(clauses, "api_key_id = ?")
		args = append(args, f.KeyID)
	}
	if f.Endpoint != "" {
		clauses = append(clauses, "endpoint LIKE ?")
		args = append(args, "%"+f.Endpoint+"%")
	}
	if f.Method != "" {
		clauses = append(clauses, "method = ?")
		args = append(args, strings.ToUpper(f.Method))
	}
	if f.StatusCode != 0 {
		clauses = append(clauses, "status_code = ?")
		args = append(args, f.StatusCode)
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since.UTC())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListUsageLogs returns one page of log rows, newest first, and the total
// number of rows matching the filter.
func (s *Store) ListUsageLogs(ctx context.Context, filter model.LogFilter) ([]model.UsageLogEntry, int64, error) {
	where, args := logWhere(filter)

	var total int64
	if err := s.db.GetContext(ctx, &total, s.db.Rebind("SELECT COUNT(*) FROM usage_logs"+where), args...); err != nil {
		return nil, 0, fmt.Errorf("count usage logs: %w", err)
	}

	q := `SELECT id, api_key_id, endpoint, method, status_code, response_time_ms, origin, client_agent, created_at
		FROM usage_logs` + where + " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	entries := []model.UsageLogEntry{}
	if err := s.db.SelectContext(ctx, &entries, s.db.Rebind(q), args...); err != nil {
		return nil, 0, fmt.Errorf("list usage logs: %w", err)
	}
	for i := range entries {
		entries[i].Timestamp = entries[i].Timestamp.UTC()
	}
	return entries, total, nil
}

// SummarizeUsage aggregates the log rows matching filter.
func (s *Store) SummarizeUsage(ctx context.Context, filter model.LogFilter) (model.UsageSummary, error) {
	where, args := logWhere(filter)
	q := `SELECT
		COUNT(*) AS total_requests,
		COALESCE(SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END), 0) AS error_count,
		COALESCE(AVG(response_time_ms), 0) AS avg_response_time_ms
		FROM usage_logs` + where

	var sum model.UsageSummary
	if err := s.db.GetContext(ctx, &sum, s.db.Rebind(q), args...); err != nil {
		return model.UsageSummary{}, fmt.Errorf("summarize usage: %w", err)
	}
	return sum, nil
}

// ListEndpointUsage returns the per-endpoint rollups of one key, busiest
// first.
func (s *Store) ListEndpointUsage(ctx context.Context, keyID string) ([]model.EndpointUsage, error) {
	rows := []model.EndpointUsage{}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT api_key_id, endpoint, request_count, error_count,
		total_response_time_ms, last_used_at
		FROM endpoint_usage WHERE api_key_id = ?
		ORDER BY request_count DESC, endpoint`), keyID)
	if err != nil {
		return nil, fmt.Errorf("list endpoint usage: %w", err)
	}
	for i := range rows {
		rows[i].LastUsedAt = rows[i].LastUsedAt.UTC()
	}
	return rows, nil
}

// TopEndpoints ranks endpoints by request volume since the given time.
func (s *Store) TopEndpoints(ctx context.Context, since time.Time, limit int) ([]model.EndpointTotal, error) {
	rows := []model.EndpointTotal{}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT endpoint, COUNT(*) AS total_requests
		FROM usage_logs WHERE created_at >= ?
		GROUP BY endpoint
		ORDER BY total_requests DESC, endpoint
		LIMIT ?`), since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("top endpoints: %w", err)
	}
	return rows, nil
}

// PurgeUsageLogs deletes log rows older than before.
func (s *Store) PurgeUsageLogs(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM usage_logs WHERE created_at < ?"), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge usage logs: %w", err)
	}
	return result.RowsAffected()
}

// ---------------------------------------------------------------------------
// Admin CRUD
// ---------------------------------------------------------------------------

const adminColumns = "id, email, password_hash, name, is_active, last_login_at, created_at, updated_at"

// CreateAdmin inserts a new admin account. The ID, CreatedAt, and UpdatedAt
// fields are populated after a successful insert.
func (s *Store) CreateAdmin(ctx context.Context, admin *model.Admin) error {
	now := time.Now().UTC()
	admin.CreatedAt = now
	admin.UpdatedAt = now

	q := `INSERT INTO admins (email, password_hash, name, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	args := []any{admin.Email, admin.PasswordHash, admin.Name, admin.IsActive, now, now}

	if s.dialect.returning {
		if err := s.db.GetContext(ctx, &admin.ID, s.db.Rebind(q+" RETURNING id"), args...); err != nil {
			return fmt.Errorf("insert admin: %w", wrapUniqueError(err))
		}
		return nil
	}

	result, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return fmt.Errorf("insert admin: %w", wrapUniqueError(err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get admin id: %w", err)
	}
	admin.ID = id
	return nil
}

// GetAdminByEmail returns an admin by email address.
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error) {
	var admin model.Admin
	err := s.db.GetContext(ctx, &admin, s.db.Rebind("SELECT "+adminColumns+" FROM admins WHERE email = ?"), email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get admin by email: %w", err)
	}
	return &admin, nil
}

// ListAdmins returns all admin accounts.
func (s *Store) ListAdmins(ctx context.Context) ([]model.Admin, error) {
	var admins []model.Admin
	if err := s.db.SelectContext(ctx, &admins, "SELECT "+adminColumns+" FROM admins ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

// HasAnyAdmin reports whether at least one admin account exists.
func (s *Store) HasAnyAdmin(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM admins"); err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	return count > 0, nil
}

// UpdateAdminLastLogin sets the last_login_at timestamp for an admin.
func (s *Store) UpdateAdminLastLogin(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE admins SET last_login_at = ?, updated_at = ? WHERE id = ?"), now, now, id)
	if err != nil {
		return fmt.Errorf("update admin last login: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update admin last login rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
