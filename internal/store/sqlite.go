package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JonMunkholm/Reconcile/internal/core"
)

// DefaultSQLitePath is used when no path is configured.
const DefaultSQLitePath = "reconcile.db"

// SQLite is the embedded single-file store. Timestamps are stored as unix
// nanoseconds and ids as text.
type SQLite struct {
	db *sql.DB
}

var _ core.Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = DefaultSQLitePath
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates missing tables and indexes.
func (s *SQLite) Migrate(ctx context.Context) error {
	ddl, err := readSchema("sqlite.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func mapSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s", core.ErrAlreadyExists, se.Error())
		}
	}
	return err
}

func nanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: nanos(*t), Valid: true}
}

// withTx runs fn in a transaction, rolling back on error.
func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

const sqliteSessionColumns = `import_id, owner_id, flavor, status, current_index, total_count,
	source_name, source_size, prompt, prompt_expires_at, created_at, updated_at`

func scanSQLiteSession(row scanner) (*core.Session, error) {
	var (
		s                    core.Session
		status               string
		size, expires        sql.NullInt64
		prompt               sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(&s.ID, &s.OwnerID, &s.Flavor, &status, &s.CurrentIndex, &s.TotalCount,
		&s.SourceName, &size, &prompt, &expires, &createdAt, &updatedAt)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	s.Status = core.SessionStatus(status)
	s.CreatedAt = fromNanos(createdAt)
	s.UpdatedAt = fromNanos(updatedAt)
	if size.Valid {
		n := size.Int64
		s.SourceSize = &n
	}
	if expires.Valid {
		t := fromNanos(expires.Int64)
		s.PromptExpiresAt = &t
	}
	if prompt.Valid {
		if s.Prompt, err = decodePrompt([]byte(prompt.String)); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

func (s *SQLite) CreateSession(ctx context.Context, sess *core.Session) error {
	prompt, err := encodePrompt(sess.Prompt)
	if err != nil {
		return err
	}
	var promptText sql.NullString
	if prompt != nil {
		promptText = sql.NullString{String: string(prompt), Valid: true}
	}
	var size sql.NullInt64
	if sess.SourceSize != nil {
		size = sql.NullInt64{Int64: *sess.SourceSize, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO import_sessions (`+sqliteSessionColumns+`) VALUES (`+placeholders(12)+`)`,
		sess.ID.String(), sess.OwnerID, sess.Flavor, string(sess.Status), sess.CurrentIndex, sess.TotalCount,
		sess.SourceName, size, promptText, nullNanos(sess.PromptExpiresAt), nanos(sess.CreatedAt), nanos(sess.UpdatedAt))
	return mapSQLiteError(err)
}

func (s *SQLite) GetSession(ctx context.Context, id uuid.UUID) (*core.Session, error) {
	return scanSQLiteSession(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSessionColumns+` FROM import_sessions WHERE import_id = ?`, id.String()))
}

func (s *SQLite) ActiveSession(ctx context.Context, ownerID string) (*core.Session, error) {
	return scanSQLiteSession(s.db.QueryRowContext(ctx, `
		SELECT `+sqliteSessionColumns+` FROM import_sessions
		WHERE owner_id = ? AND status IN ('ACTIVE', 'PAUSED')
		ORDER BY created_at DESC
		LIMIT 1`, ownerID))
}

func (s *SQLite) TransitionSession(ctx context.Context, id uuid.UUID, from []core.SessionStatus, to core.SessionStatus) error {
	if len(from) == 0 {
		return core.ErrInvalidTransition
	}
	args := []any{string(to), nanos(time.Now()), id.String()}
	for _, st := range statusStrings(from) {
		args = append(args, st)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE import_sessions
		SET status = ?, prompt = NULL, prompt_expires_at = NULL, updated_at = ?
		WHERE import_id = ? AND status IN (`+placeholders(len(from))+`)`, args...)
	if err != nil {
		return mapSQLiteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
		return core.ErrInvalidTransition
	}
	return nil
}

func (s *SQLite) AdvanceCursor(ctx context.Context, id uuid.UUID, rowIndex int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE import_sessions
		SET current_index = MAX(current_index, ?), updated_at = ?
		WHERE import_id = ?`, rowIndex, nanos(time.Now()), id.String())
	if err != nil {
		return mapSQLiteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *SQLite) SetPrompt(ctx context.Context, id uuid.UUID, prompt *core.PendingPrompt) error {
	now := nanos(time.Now())
	if prompt == nil {
		res, err := s.db.ExecContext(ctx, `
			UPDATE import_sessions
			SET prompt = NULL, prompt_expires_at = NULL, updated_at = ?
			WHERE import_id = ?`, now, id.String())
		if err != nil {
			return mapSQLiteError(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return core.ErrNotFound
		}
		return nil
	}

	raw, err := encodePrompt(prompt)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE import_sessions
		SET prompt = ?, prompt_expires_at = ?, updated_at = ?
		WHERE import_id = ? AND status = 'ACTIVE'`,
		string(raw), nanos(prompt.ExpiresAt), now, id.String())
	if err != nil {
		return mapSQLiteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
		return core.ErrSessionNotActive
	}
	return nil
}

func (s *SQLite) PauseExpired(ctx context.Context, id uuid.UUID, before time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE import_sessions
		SET status = 'PAUSED', prompt = NULL, prompt_expires_at = NULL, updated_at = ?
		WHERE import_id = ? AND status = 'ACTIVE'
		  AND prompt_expires_at IS NOT NULL AND prompt_expires_at < ?`,
		nanos(time.Now()), id.String(), nanos(before))
	if err != nil {
		return mapSQLiteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
		return core.ErrInvalidTransition
	}
	return nil
}

func (s *SQLite) ExpiredPrompts(ctx context.Context, before time.Time) ([]*core.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteSessionColumns+` FROM import_sessions
		WHERE status = 'ACTIVE' AND prompt_expires_at IS NOT NULL AND prompt_expires_at < ?
		ORDER BY prompt_expires_at`, nanos(before))
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	defer rows.Close()

	var out []*core.Session
	for rows.Next() {
		sess, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

const sqliteItemColumns = `item_id, import_id, row_index, subject, pre_supplied_id, group_key,
	shared_label, fields, catalog_id, catalog_title, confidence, status, result_reason,
	error_text, updated_at`

func scanSQLiteItem(row scanner) (*core.Item, error) {
	var (
		it                         core.Item
		fields                     string
		confidence, status, reason string
		updatedAt                  int64
	)
	err := row.Scan(&it.ID, &it.ImportID, &it.RowIndex, &it.Subject, &it.PreSuppliedID, &it.GroupKey,
		&it.SharedLabel, &fields, &it.CatalogID, &it.CatalogTitle, &confidence, &status, &reason,
		&it.ErrorText, &updatedAt)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	it.Confidence = core.Confidence(confidence)
	it.Status = core.ItemStatus(status)
	it.ResultReason = core.ResultReason(reason)
	it.UpdatedAt = fromNanos(updatedAt)
	if it.Fields, err = decodeFields([]byte(fields)); err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *SQLite) queryItems(ctx context.Context, query string, args ...any) ([]*core.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	defer rows.Close()

	var out []*core.Item
	for rows.Next() {
		it, err := scanSQLiteItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLite) InsertItems(ctx context.Context, importID uuid.UUID, items []*core.Item) error {
	if len(items) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO import_items (`+sqliteItemColumns+`) VALUES (`+placeholders(15)+`)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, it := range items {
			fields, err := encodeFields(it.Fields)
			if err != nil {
				return err
			}
			_, err = stmt.ExecContext(ctx,
				it.ID.String(), importID.String(), it.RowIndex, it.Subject, it.PreSuppliedID, it.GroupKey,
				it.SharedLabel, string(fields), it.CatalogID, it.CatalogTitle, string(it.Confidence),
				string(it.Status), string(it.ResultReason), it.ErrorText, nanos(it.UpdatedAt))
			if err != nil {
				return mapSQLiteError(err)
			}
		}
		return nil
	})
}

func (s *SQLite) GetItem(ctx context.Context, id uuid.UUID) (*core.Item, error) {
	return scanSQLiteItem(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteItemColumns+` FROM import_items WHERE item_id = ?`, id.String()))
}

func (s *SQLite) NextPending(ctx context.Context, importID uuid.UUID) (*core.Item, error) {
	return scanSQLiteItem(s.db.QueryRowContext(ctx, `
		SELECT `+sqliteItemColumns+` FROM import_items
		WHERE import_id = ? AND status = 'PENDING'
		ORDER BY row_index
		LIMIT 1`, importID.String()))
}

const sqliteUpdateItem = `
	UPDATE import_items
	SET group_key = ?, catalog_id = ?, catalog_title = ?, confidence = ?,
		status = ?, result_reason = ?, error_text = ?, updated_at = ?
	WHERE item_id = ?`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func sqliteUpdateOne(ctx context.Context, db execer, it *core.Item) error {
	res, err := db.ExecContext(ctx, sqliteUpdateItem,
		it.GroupKey, it.CatalogID, it.CatalogTitle, string(it.Confidence),
		string(it.Status), string(it.ResultReason), it.ErrorText, nanos(it.UpdatedAt), it.ID.String())
	if err != nil {
		return mapSQLiteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %s: %w", it.ID, core.ErrNotFound)
	}
	return nil
}

func (s *SQLite) UpdateItem(ctx context.Context, it *core.Item) error {
	it.UpdatedAt = time.Now().UTC()
	return sqliteUpdateOne(ctx, s.db, it)
}

func (s *SQLite) UpdateItems(ctx context.Context, items []*core.Item) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, it := range items {
			it.UpdatedAt = now
			if err := sqliteUpdateOne(ctx, tx, it); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLite) GroupItems(ctx context.Context, importID uuid.UUID, groupKey string) ([]*core.Item, error) {
	return s.queryItems(ctx, `
		SELECT `+sqliteItemColumns+` FROM import_items
		WHERE import_id = ? AND group_key = ?
		ORDER BY row_index`, importID.String(), groupKey)
}

func (s *SQLite) ListItems(ctx context.Context, importID uuid.UUID) ([]*core.Item, error) {
	return s.queryItems(ctx, `
		SELECT `+sqliteItemColumns+` FROM import_items
		WHERE import_id = ?
		ORDER BY row_index`, importID.String())
}

func (s *SQLite) CountByStatus(ctx context.Context, importID uuid.UUID) (core.StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, count(*) FROM import_items
		WHERE import_id = ?
		GROUP BY status`, importID.String())
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	defer rows.Close()

	counts := make(core.StatusCounts)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[core.ItemStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *SQLite) DeleteItems(ctx context.Context, importID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM import_items WHERE import_id = ?`, importID.String())
	return mapSQLiteError(err)
}

// ---------------------------------------------------------------------------
// Target catalog
// ---------------------------------------------------------------------------

func (s *SQLite) FindEntity(ctx context.Context, key core.EntityKey) (*core.Entity, error) {
	e := &core.Entity{Key: key}
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT entity_id, label, created_at FROM catalog_entities
		WHERE owner_id = ? AND flavor = ? AND group_key = ?`,
		key.OwnerID, key.Flavor, key.GroupKey).Scan(&e.ID, &e.Label, &createdAt)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	e.CreatedAt = fromNanos(createdAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT position, catalog_id, title, fields FROM catalog_entity_members
		WHERE entity_id = ?
		ORDER BY position, catalog_id`, e.ID.String())
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m      core.EntityMember
			fields string
		)
		if err := rows.Scan(&m.Position, &m.CatalogID, &m.Title, &fields); err != nil {
			return nil, err
		}
		if m.Fields, err = decodeFields([]byte(fields)); err != nil {
			return nil, err
		}
		e.Members = append(e.Members, m)
	}
	return e, rows.Err()
}

const sqliteUpsertMember = `
	INSERT INTO catalog_entity_members (entity_id, catalog_id, position, title, fields)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (entity_id, catalog_id)
	DO UPDATE SET title = excluded.title, fields = excluded.fields`

func (s *SQLite) InsertEntity(ctx context.Context, e *core.Entity) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		created := nanos(e.CreatedAt)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO catalog_entities (entity_id, owner_id, flavor, group_key, label, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID.String(), e.Key.OwnerID, e.Key.Flavor, e.Key.GroupKey, e.Label, created, created)
		if err != nil {
			return mapSQLiteError(err)
		}
		return sqliteWriteMembers(ctx, tx, e.ID, e.Members)
	})
}

func (s *SQLite) RepairEntity(ctx context.Context, id uuid.UUID, label string, members []core.EntityMember) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE catalog_entities
			SET label = CASE WHEN label = '' THEN ? ELSE label END, updated_at = ?
			WHERE entity_id = ?`, label, nanos(time.Now()), id.String())
		if err != nil {
			return mapSQLiteError(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return core.ErrNotFound
		}
		return sqliteWriteMembers(ctx, tx, id, members)
	})
}

func sqliteWriteMembers(ctx context.Context, tx *sql.Tx, entityID uuid.UUID, members []core.EntityMember) error {
	for _, m := range members {
		fields, err := encodeFields(m.Fields)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, sqliteUpsertMember,
			entityID.String(), m.CatalogID, m.Position, m.Title, string(fields)); err != nil {
			return mapSQLiteError(err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

func (s *SQLite) AppendAudit(ctx context.Context, e core.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_audit (audit_id, import_id, owner_id, action, severity, group_key, detail, ip_address, created_at)
		VALUES (`+placeholders(9)+`)`,
		e.ID.String(), e.ImportID.String(), e.OwnerID, string(e.Action), string(e.Severity),
		e.GroupKey, e.Detail, e.IPAddress, nanos(e.CreatedAt))
	return mapSQLiteError(err)
}

func (s *SQLite) ListAudit(ctx context.Context, importID uuid.UUID) ([]core.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT audit_id, import_id, owner_id, action, severity, group_key, detail, ip_address, created_at
		FROM import_audit
		WHERE import_id = ?
		ORDER BY created_at, rowid`, importID.String())
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	defer rows.Close()

	var out []core.AuditEntry
	for rows.Next() {
		var (
			e                core.AuditEntry
			action, severity string
			createdAt        int64
		)
		if err := rows.Scan(&e.ID, &e.ImportID, &e.OwnerID, &action, &severity, &e.GroupKey, &e.Detail, &e.IPAddress, &createdAt); err != nil {
			return nil, err
		}
		e.Action = core.AuditAction(action)
		e.Severity = core.AuditSeverity(severity)
		e.CreatedAt = fromNanos(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
