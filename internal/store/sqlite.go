package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/portal-agent/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	now   func() time.Time
	retry shared.RetryPolicy
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides the clock used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// WithRetryPolicy sets the backoff used when SQLite reports a lock conflict.
func WithRetryPolicy(p shared.RetryPolicy) Option {
	return func(s *SQLiteStore) { s.retry = p }
}

// NewSQLite creates a new SQLite-backed store.
func NewSQLite(dbPath string, opts ...Option) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers during detached bookkeeping writes.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now, retry: shared.DefaultRetryPolicy}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		user_id TEXT,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS idx_records_user ON records(collection, user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// FindByID decodes one record into out.
func (s *SQLiteStore) FindByID(ctx context.Context, collection, id string, out any) error {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("find %s/%s: %w", collection, id, err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return nil
}

// FindByUser decodes the user's matching records into out.
func (s *SQLiteStore) FindByUser(ctx context.Context, collection, userID string, q Query, out any) error {
	return s.find(ctx, collection, &userID, q, out)
}

// FindAll decodes matching records across all users into out.
func (s *SQLiteStore) FindAll(ctx context.Context, collection string, q Query, out any) error {
	return s.find(ctx, collection, nil, q, out)
}

func (s *SQLiteStore) find(ctx context.Context, collection string, userID *string, q Query, out any) error {
	query, args, err := buildFind(collection, userID, q)
	if err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query %s: %w", collection, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close record rows", "collection", collection, "error", closeErr)
		}
	}()

	var buf strings.Builder
	buf.WriteByte('[')
	n := 0
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return fmt.Errorf("scan %s row: %w", collection, err)
		}
		if n > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(data)
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", collection, err)
	}
	buf.WriteByte(']')

	if err := json.Unmarshal([]byte(buf.String()), out); err != nil {
		return fmt.Errorf("decode %s rows: %w", collection, err)
	}
	return nil
}

func buildFind(collection string, userID *string, q Query) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT data FROM records WHERE collection = ?`)
	args := []any{collection}

	if userID != nil {
		sb.WriteString(` AND user_id = ?`)
		args = append(args, *userID)
	}

	keys := make([]string, 0, len(q.Where))
	for k := range q.Where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fieldPattern.MatchString(k) {
			return "", nil, fmt.Errorf("invalid field name %q", k)
		}
		v := q.Where[k]
		if v == nil {
			fmt.Fprintf(&sb, ` AND json_extract(data, '$.%s') IS NULL`, k)
			continue
		}
		fmt.Fprintf(&sb, ` AND json_extract(data, '$.%s') = ?`, k)
		args = append(args, sqlValue(v))
	}

	dir := "DESC"
	if q.Asc {
		dir = "ASC"
	}
	switch q.OrderBy {
	case "", "created_at":
		fmt.Fprintf(&sb, ` ORDER BY created_at %s, rowid %s`, dir, dir)
	case "updated_at":
		fmt.Fprintf(&sb, ` ORDER BY updated_at %s, rowid %s`, dir, dir)
	default:
		if !fieldPattern.MatchString(q.OrderBy) {
			return "", nil, fmt.Errorf("invalid order field %q", q.OrderBy)
		}
		fmt.Fprintf(&sb, ` ORDER BY json_extract(data, '$.%s') %s, rowid %s`, q.OrderBy, dir, dir)
	}

	if q.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}
	return sb.String(), args, nil
}

// sqlValue maps a Go value to what json_extract yields for it.
func sqlValue(v any) any {
	switch b := v.(type) {
	case bool:
		if b {
			return 1
		}
		return 0
	default:
		return v
	}
}

// Insert stores a new record.
func (s *SQLiteStore) Insert(ctx context.Context, collection string, doc any) error {
	fields, err := toFields(doc)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", collection, err)
	}

	id, _ := fields["id"].(string)
	if id == "" {
		id = uuid.NewString()
		fields["id"] = id
	}
	userID, _ := fields["user_id"].(string)

	now := s.now().UTC()
	stamp := now.Format(time.RFC3339Nano)
	fields["created_at"] = stamp
	fields["updated_at"] = stamp

	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", collection, err)
	}

	err = shared.RetryOnConflict(ctx, s.retry, "insert "+collection, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO records (collection, id, user_id, data, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			collection, id, nullable(userID), string(data), now.UnixNano(), now.UnixNano(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert %s: %w", collection, err)
	}

	if err := json.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("decode inserted %s record: %w", collection, err)
	}
	return nil
}

// Update merges patch into an existing record.
func (s *SQLiteStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	return shared.RetryOnConflict(ctx, s.retry, "update "+collection, func() error {
		return s.merge(ctx, collection, id, "", patch, false)
	})
}

// Upsert merges patch into a record, creating it when missing.
func (s *SQLiteStore) Upsert(ctx context.Context, collection, id, userID string, patch map[string]any) error {
	return shared.RetryOnConflict(ctx, s.retry, "upsert "+collection, func() error {
		return s.merge(ctx, collection, id, userID, patch, true)
	})
}

func (s *SQLiteStore) merge(ctx context.Context, collection, id, userID string, patch map[string]any, create bool) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s update: %w", collection, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back record update", "collection", collection, "error", rbErr)
			}
		}
	}()

	now := s.now().UTC()
	stamp := now.Format(time.RFC3339Nano)

	var data string
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM records WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&data)

	fields := map[string]any{}
	exists := true
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if !create {
			return ErrNotFound
		}
		exists = false
		fields["id"] = id
		fields["user_id"] = userID
		fields["created_at"] = stamp
	case err != nil:
		return fmt.Errorf("load %s/%s: %w", collection, id, err)
	default:
		if err = json.Unmarshal([]byte(data), &fields); err != nil {
			return fmt.Errorf("decode %s/%s: %w", collection, id, err)
		}
	}

	for k, v := range patch {
		switch k {
		case "id", "user_id", "created_at", "updated_at":
			continue
		}
		fields[k] = v
	}
	fields["updated_at"] = stamp

	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}

	if exists {
		_, err = tx.ExecContext(ctx,
			`UPDATE records SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`,
			string(encoded), now.UnixNano(), collection, id)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO records (collection, id, user_id, data, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			collection, id, nullable(userID), string(encoded), now.UnixNano(), now.UnixNano())
	}
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", collection, id, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s/%s: %w", collection, id, err)
	}
	return nil
}

func toFields(doc any) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
