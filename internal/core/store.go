package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionStore persists import sessions. Missing rows are reported as ErrNotFound.
type SessionStore interface {
	// CreateSession inserts a new session. Callers check ActiveSession first;
	// the store does not enforce one open session per owner.
	CreateSession(ctx context.Context, s *Session) error

	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)

	// ActiveSession returns the owner's most recent ACTIVE or PAUSED session.
	ActiveSession(ctx context.Context, ownerID string) (*Session, error)

	// TransitionSession moves a session to status `to` only if its current
	// status is one of `from`. Returns ErrInvalidTransition otherwise.
	// Leaving ACTIVE clears any pending prompt.
	TransitionSession(ctx context.Context, id uuid.UUID, from []SessionStatus, to SessionStatus) error

	// AdvanceCursor sets currentIndex to rowIndex unless it is already higher.
	AdvanceCursor(ctx context.Context, id uuid.UUID, rowIndex int) error

	// SetPrompt stores the pending prompt; nil clears it. Storing a prompt
	// requires the session to be ACTIVE, otherwise ErrSessionNotActive.
	SetPrompt(ctx context.Context, id uuid.UUID, p *PendingPrompt) error

	// ExpiredPrompts lists ACTIVE sessions whose prompt expired before t.
	ExpiredPrompts(ctx context.Context, before time.Time) ([]*Session, error)

	// PauseExpired pauses an ACTIVE session and clears its prompt only while
	// the stored prompt expired before t. Returns ErrInvalidTransition when
	// the session is no longer ACTIVE or holds no expired prompt.
	PauseExpired(ctx context.Context, id uuid.UUID, before time.Time) error
}

// ItemStore persists import items. Missing rows are reported as ErrNotFound.
type ItemStore interface {
	// InsertItems bulk-inserts a session's items as one all-or-nothing batch.
	InsertItems(ctx context.Context, importID uuid.UUID, items []*Item) error

	GetItem(ctx context.Context, id uuid.UUID) (*Item, error)

	// NextPending returns the PENDING item with the lowest rowIndex.
	NextPending(ctx context.Context, importID uuid.UUID) (*Item, error)

	// UpdateItem writes the status and resolution fields of one item.
	UpdateItem(ctx context.Context, it *Item) error

	// UpdateItems writes several items as one all-or-nothing batch.
	UpdateItems(ctx context.Context, items []*Item) error

	// GroupItems lists a session's items sharing groupKey, ordered by rowIndex.
	GroupItems(ctx context.Context, importID uuid.UUID, groupKey string) ([]*Item, error)

	ListItems(ctx context.Context, importID uuid.UUID) ([]*Item, error)

	CountByStatus(ctx context.Context, importID uuid.UUID) (StatusCounts, error)

	// DeleteItems removes a session's items (cancel with purge).
	DeleteItems(ctx context.Context, importID uuid.UUID) error
}

// Target is the curated catalog written by the group committer.
type Target interface {
	// FindEntity returns ErrNotFound when no entity has the key.
	FindEntity(ctx context.Context, key EntityKey) (*Entity, error)

	// InsertEntity writes an entity with its members. Returns ErrAlreadyExists
	// when another writer created the key first.
	InsertEntity(ctx context.Context, e *Entity) error

	// RepairEntity applies link-repair writes in one transaction: label is set
	// only when non-empty, members are upserted by catalog id.
	RepairEntity(ctx context.Context, id uuid.UUID, label string, members []EntityMember) error
}

// AuditStore records import audit events.
type AuditStore interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, importID uuid.UUID) ([]AuditEntry, error)
}

// Store is everything the engine persists.
type Store interface {
	SessionStore
	ItemStore
	Target
	AuditStore
	Close() error
}
