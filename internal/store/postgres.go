package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/Reconcile/internal/core"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

// Postgres is the pgx-backed store.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*Postgres)(nil)

// OpenPostgres creates a pool from opts and migrates the schema.
func OpenPostgres(ctx context.Context, opts Options) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		cfg.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pg := NewPostgres(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pg, nil
}

// NewPostgres wraps an existing pool. The caller owns the pool's lifetime
// unless Close is called.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates missing tables and indexes.
func (p *Postgres) Migrate(ctx context.Context) error {
	ddl, err := readSchema("postgres.sql")
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// mapPgError converts driver errors to core sentinels.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", core.ErrAlreadyExists, pgErr.ConstraintName)
	}
	return err
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

const pgSessionColumns = `import_id, owner_id, flavor, status, current_index, total_count,
	source_name, source_size, prompt, prompt_expires_at, created_at, updated_at`

func scanPgSession(row pgx.Row) (*core.Session, error) {
	var (
		s      core.Session
		status string
		prompt []byte
	)
	err := row.Scan(&s.ID, &s.OwnerID, &s.Flavor, &status, &s.CurrentIndex, &s.TotalCount,
		&s.SourceName, &s.SourceSize, &prompt, &s.PromptExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	s.Status = core.SessionStatus(status)
	if s.Prompt, err = decodePrompt(prompt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *Postgres) CreateSession(ctx context.Context, s *core.Session) error {
	prompt, err := encodePrompt(s.Prompt)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO import_sessions (`+pgSessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.OwnerID, s.Flavor, string(s.Status), s.CurrentIndex, s.TotalCount,
		s.SourceName, s.SourceSize, prompt, s.PromptExpiresAt, s.CreatedAt, s.UpdatedAt)
	return mapPgError(err)
}

func (p *Postgres) GetSession(ctx context.Context, id uuid.UUID) (*core.Session, error) {
	return scanPgSession(p.pool.QueryRow(ctx,
		`SELECT `+pgSessionColumns+` FROM import_sessions WHERE import_id = $1`, id))
}

func (p *Postgres) ActiveSession(ctx context.Context, ownerID string) (*core.Session, error) {
	return scanPgSession(p.pool.QueryRow(ctx, `
		SELECT `+pgSessionColumns+` FROM import_sessions
		WHERE owner_id = $1 AND status IN ('ACTIVE', 'PAUSED')
		ORDER BY created_at DESC
		LIMIT 1`, ownerID))
}

func (p *Postgres) TransitionSession(ctx context.Context, id uuid.UUID, from []core.SessionStatus, to core.SessionStatus) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE import_sessions
		SET status = $2, prompt = NULL, prompt_expires_at = NULL, updated_at = $3
		WHERE import_id = $1 AND status = ANY($4)`,
		id, string(to), time.Now().UTC(), statusStrings(from))
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.GetSession(ctx, id); err != nil {
			return err
		}
		return core.ErrInvalidTransition
	}
	return nil
}

func (p *Postgres) AdvanceCursor(ctx context.Context, id uuid.UUID, rowIndex int) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE import_sessions
		SET current_index = GREATEST(current_index, $2), updated_at = $3
		WHERE import_id = $1`,
		id, rowIndex, time.Now().UTC())
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (p *Postgres) SetPrompt(ctx context.Context, id uuid.UUID, prompt *core.PendingPrompt) error {
	now := time.Now().UTC()
	if prompt == nil {
		tag, err := p.pool.Exec(ctx, `
			UPDATE import_sessions
			SET prompt = NULL, prompt_expires_at = NULL, updated_at = $2
			WHERE import_id = $1`, id, now)
		if err != nil {
			return mapPgError(err)
		}
		if tag.RowsAffected() == 0 {
			return core.ErrNotFound
		}
		return nil
	}

	raw, err := encodePrompt(prompt)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE import_sessions
		SET prompt = $2, prompt_expires_at = $3, updated_at = $4
		WHERE import_id = $1 AND status = 'ACTIVE'`,
		id, raw, prompt.ExpiresAt, now)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.GetSession(ctx, id); err != nil {
			return err
		}
		return core.ErrSessionNotActive
	}
	return nil
}

func (p *Postgres) PauseExpired(ctx context.Context, id uuid.UUID, before time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE import_sessions
		SET status = 'PAUSED', prompt = NULL, prompt_expires_at = NULL, updated_at = $2
		WHERE import_id = $1 AND status = 'ACTIVE'
		  AND prompt_expires_at IS NOT NULL AND prompt_expires_at < $3`,
		id, time.Now().UTC(), before)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.GetSession(ctx, id); err != nil {
			return err
		}
		return core.ErrInvalidTransition
	}
	return nil
}

func (p *Postgres) ExpiredPrompts(ctx context.Context, before time.Time) ([]*core.Session, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+pgSessionColumns+` FROM import_sessions
		WHERE status = 'ACTIVE' AND prompt_expires_at IS NOT NULL AND prompt_expires_at < $1
		ORDER BY prompt_expires_at`, before)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []*core.Session
	for rows.Next() {
		s, err := scanPgSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

const pgItemColumns = `item_id, import_id, row_index, subject, pre_supplied_id, group_key,
	shared_label, fields, catalog_id, catalog_title, confidence, status, result_reason,
	error_text, updated_at`

func scanPgItem(row pgx.Row) (*core.Item, error) {
	var (
		it                         core.Item
		fields                     []byte
		confidence, status, reason string
	)
	err := row.Scan(&it.ID, &it.ImportID, &it.RowIndex, &it.Subject, &it.PreSuppliedID, &it.GroupKey,
		&it.SharedLabel, &fields, &it.CatalogID, &it.CatalogTitle, &confidence, &status, &reason,
		&it.ErrorText, &it.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	it.Confidence = core.Confidence(confidence)
	it.Status = core.ItemStatus(status)
	it.ResultReason = core.ResultReason(reason)
	if it.Fields, err = decodeFields(fields); err != nil {
		return nil, err
	}
	return &it, nil
}

func (p *Postgres) queryItems(ctx context.Context, sql string, args ...any) ([]*core.Item, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []*core.Item
	for rows.Next() {
		it, err := scanPgItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (p *Postgres) InsertItems(ctx context.Context, importID uuid.UUID, items []*core.Item) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		fields, err := encodeFields(it.Fields)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO import_items (`+pgItemColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			it.ID, importID, it.RowIndex, it.Subject, it.PreSuppliedID, it.GroupKey,
			it.SharedLabel, fields, it.CatalogID, it.CatalogTitle, string(it.Confidence),
			string(it.Status), string(it.ResultReason), it.ErrorText, it.UpdatedAt)
	}

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return mapPgError(tx.SendBatch(ctx, batch).Close())
	})
}

func (p *Postgres) GetItem(ctx context.Context, id uuid.UUID) (*core.Item, error) {
	return scanPgItem(p.pool.QueryRow(ctx,
		`SELECT `+pgItemColumns+` FROM import_items WHERE item_id = $1`, id))
}

func (p *Postgres) NextPending(ctx context.Context, importID uuid.UUID) (*core.Item, error) {
	return scanPgItem(p.pool.QueryRow(ctx, `
		SELECT `+pgItemColumns+` FROM import_items
		WHERE import_id = $1 AND status = 'PENDING'
		ORDER BY row_index
		LIMIT 1`, importID))
}

const pgUpdateItem = `
	UPDATE import_items
	SET group_key = $2, catalog_id = $3, catalog_title = $4, confidence = $5,
		status = $6, result_reason = $7, error_text = $8, updated_at = $9
	WHERE item_id = $1`

func itemUpdateArgs(it *core.Item, now time.Time) []any {
	return []any{it.ID, it.GroupKey, it.CatalogID, it.CatalogTitle, string(it.Confidence),
		string(it.Status), string(it.ResultReason), it.ErrorText, now}
}

func (p *Postgres) UpdateItem(ctx context.Context, it *core.Item) error {
	it.UpdatedAt = time.Now().UTC()
	tag, err := p.pool.Exec(ctx, pgUpdateItem, itemUpdateArgs(it, it.UpdatedAt)...)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (p *Postgres) UpdateItems(ctx context.Context, items []*core.Item) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		for _, it := range items {
			it.UpdatedAt = now
			tag, err := tx.Exec(ctx, pgUpdateItem, itemUpdateArgs(it, now)...)
			if err != nil {
				return mapPgError(err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("item %s: %w", it.ID, core.ErrNotFound)
			}
		}
		return nil
	})
}

func (p *Postgres) GroupItems(ctx context.Context, importID uuid.UUID, groupKey string) ([]*core.Item, error) {
	return p.queryItems(ctx, `
		SELECT `+pgItemColumns+` FROM import_items
		WHERE import_id = $1 AND group_key = $2
		ORDER BY row_index`, importID, groupKey)
}

func (p *Postgres) ListItems(ctx context.Context, importID uuid.UUID) ([]*core.Item, error) {
	return p.queryItems(ctx, `
		SELECT `+pgItemColumns+` FROM import_items
		WHERE import_id = $1
		ORDER BY row_index`, importID)
}

func (p *Postgres) CountByStatus(ctx context.Context, importID uuid.UUID) (core.StatusCounts, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT status, count(*) FROM import_items
		WHERE import_id = $1
		GROUP BY status`, importID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	counts := make(core.StatusCounts)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[core.ItemStatus(status)] = int(n)
	}
	return counts, rows.Err()
}

func (p *Postgres) DeleteItems(ctx context.Context, importID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM import_items WHERE import_id = $1`, importID)
	return mapPgError(err)
}

// ---------------------------------------------------------------------------
// Target catalog
// ---------------------------------------------------------------------------

func (p *Postgres) FindEntity(ctx context.Context, key core.EntityKey) (*core.Entity, error) {
	e := &core.Entity{Key: key}
	err := p.pool.QueryRow(ctx, `
		SELECT entity_id, label, created_at FROM catalog_entities
		WHERE owner_id = $1 AND flavor = $2 AND group_key = $3`,
		key.OwnerID, key.Flavor, key.GroupKey).Scan(&e.ID, &e.Label, &e.CreatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT position, catalog_id, title, fields FROM catalog_entity_members
		WHERE entity_id = $1
		ORDER BY position, catalog_id`, e.ID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m      core.EntityMember
			fields []byte
		)
		if err := rows.Scan(&m.Position, &m.CatalogID, &m.Title, &fields); err != nil {
			return nil, err
		}
		if m.Fields, err = decodeFields(fields); err != nil {
			return nil, err
		}
		e.Members = append(e.Members, m)
	}
	return e, rows.Err()
}

const pgUpsertMember = `
	INSERT INTO catalog_entity_members (entity_id, catalog_id, position, title, fields)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (entity_id, catalog_id)
	DO UPDATE SET title = EXCLUDED.title, fields = EXCLUDED.fields`

func (p *Postgres) InsertEntity(ctx context.Context, e *core.Entity) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO catalog_entities (entity_id, owner_id, flavor, group_key, label, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			e.ID, e.Key.OwnerID, e.Key.Flavor, e.Key.GroupKey, e.Label, e.CreatedAt)
		if err != nil {
			return mapPgError(err)
		}
		return pgWriteMembers(ctx, tx, e.ID, e.Members)
	})
}

func (p *Postgres) RepairEntity(ctx context.Context, id uuid.UUID, label string, members []core.EntityMember) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE catalog_entities
			SET label = CASE WHEN label = '' THEN $2 ELSE label END, updated_at = $3
			WHERE entity_id = $1`, id, label, time.Now().UTC())
		if err != nil {
			return mapPgError(err)
		}
		if tag.RowsAffected() == 0 {
			return core.ErrNotFound
		}
		return pgWriteMembers(ctx, tx, id, members)
	})
}

func pgWriteMembers(ctx context.Context, tx pgx.Tx, entityID uuid.UUID, members []core.EntityMember) error {
	for _, m := range members {
		fields, err := encodeFields(m.Fields)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, pgUpsertMember, entityID, m.CatalogID, m.Position, m.Title, fields); err != nil {
			return mapPgError(err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

func (p *Postgres) AppendAudit(ctx context.Context, e core.AuditEntry) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO import_audit (audit_id, import_id, owner_id, action, severity, group_key, detail, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.ImportID, e.OwnerID, string(e.Action), string(e.Severity), e.GroupKey, e.Detail, e.IPAddress, e.CreatedAt)
	return mapPgError(err)
}

func (p *Postgres) ListAudit(ctx context.Context, importID uuid.UUID) ([]core.AuditEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT audit_id, import_id, owner_id, action, severity, group_key, detail, ip_address, created_at
		FROM import_audit
		WHERE import_id = $1
		ORDER BY created_at, audit_id`, importID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []core.AuditEntry
	for rows.Next() {
		var (
			e                core.AuditEntry
			action, severity string
		)
		if err := rows.Scan(&e.ID, &e.ImportID, &e.OwnerID, &action, &severity, &e.GroupKey, &e.Detail, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = core.AuditAction(action)
		e.Severity = core.AuditSeverity(severity)
		out = append(out, e)
	}
	return out, rows.Err()
}
