package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of an import session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionPaused    SessionStatus = "PAUSED"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionCanceled  SessionStatus = "CANCELED"
)

// Terminal reports whether the session can never run again.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCanceled
}

// Open reports whether the session counts against the owner's single-session limit.
func (s SessionStatus) Open() bool {
	return s == SessionActive || s == SessionPaused
}

// ItemStatus is the reconciliation state of one row.
type ItemStatus string

const (
	ItemPending  ItemStatus = "PENDING"
	ItemImported ItemStatus = "IMPORTED"
	ItemAdded    ItemStatus = "ADDED"
	ItemUpdated  ItemStatus = "UPDATED"
	ItemSkipped  ItemStatus = "SKIPPED"
	ItemFailed   ItemStatus = "FAILED"
)

// Success reports whether the item resolved to a catalog entry.
func (s ItemStatus) Success() bool {
	return s == ItemImported || s == ItemAdded || s == ItemUpdated
}

// Terminal reports whether the driver will not dispatch the item again.
func (s ItemStatus) Terminal() bool {
	return s != ItemPending
}

// AllItemStatuses lists statuses in display order.
var AllItemStatuses = []ItemStatus{ItemPending, ItemImported, ItemAdded, ItemUpdated, ItemSkipped, ItemFailed}

// Confidence records how an item's catalog id was obtained.
type Confidence string

const (
	ConfidenceExact  Confidence = "EXACT"
	ConfidenceFuzzy  Confidence = "FUZZY"
	ConfidenceManual Confidence = "MANUAL"
)

// ResultReason explains an item's terminal status.
type ResultReason string

const (
	ReasonNone              ResultReason = ""
	ReasonAutoMatched       ResultReason = "AUTO_MATCHED"
	ReasonOperatorChosen    ResultReason = "OPERATOR_CHOSEN"
	ReasonEntityCreated     ResultReason = "ENTITY_CREATED"
	ReasonEntityRepaired    ResultReason = "ENTITY_REPAIRED"
	ReasonAlreadyPresent    ResultReason = "ALREADY_PRESENT"
	ReasonOperatorSkipped   ResultReason = "OPERATOR_SKIPPED"
	ReasonCandidateNotFound ResultReason = "CANDIDATE_NOT_FOUND"
	ReasonCatalogDown       ResultReason = "CATALOG_UNAVAILABLE"
	ReasonGroupMismatch     ResultReason = "GROUP_MISMATCH"
	ReasonGroupIncomplete   ResultReason = "GROUP_INCOMPLETE"
	ReasonCommitFailed      ResultReason = "COMMIT_FAILED"
)

// Session is one run of importing one source file.
type Session struct {
	ID              uuid.UUID      `json:"importId"`
	OwnerID         string         `json:"ownerId"`
	Flavor          string         `json:"flavor"`
	Status          SessionStatus  `json:"status"`
	CurrentIndex    int            `json:"currentIndex"`
	TotalCount      int            `json:"totalCount"`
	SourceName      string         `json:"sourceName"`
	SourceSize      *int64         `json:"sourceSize,omitempty"`
	Prompt          *PendingPrompt `json:"prompt,omitempty"`
	PromptExpiresAt *time.Time     `json:"promptExpiresAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Item is one row's reconciliation record.
type Item struct {
	ID            uuid.UUID         `json:"itemId"`
	ImportID      uuid.UUID         `json:"importId"`
	RowIndex      int               `json:"rowIndex"`
	Subject       string            `json:"subject"`
	PreSuppliedID string            `json:"preSuppliedId,omitempty"`
	GroupKey      string            `json:"groupKey,omitempty"`
	SharedLabel   string            `json:"sharedLabel,omitempty"`
	Fields        map[string]string `json:"fields"`
	CatalogID     string            `json:"catalogId,omitempty"`
	CatalogTitle  string            `json:"catalogTitle,omitempty"`
	Confidence    Confidence        `json:"confidence,omitempty"`
	Status        ItemStatus        `json:"status"`
	ResultReason  ResultReason      `json:"resultReason,omitempty"`
	ErrorText     string            `json:"errorText,omitempty"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// fail marks the item FAILED with a diagnostic.
func (it *Item) fail(reason ResultReason, diag string) {
	it.Status = ItemFailed
	it.ResultReason = reason
	it.ErrorText = diag
}

// StatusCounts aggregates items by status for progress reporting.
type StatusCounts map[ItemStatus]int

// Total returns the number of items counted.
func (c StatusCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Done returns the number of items no longer pending.
func (c StatusCounts) Done() int {
	return c.Total() - c[ItemPending]
}

// Percent returns completion as 0-100.
func (c StatusCounts) Percent() int {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return c.Done() * 100 / total
}

// Candidate is one catalog search result.
type Candidate struct {
	ID          string            `json:"id" yaml:"id"`
	Title       string            `json:"title" yaml:"title"`
	Year        int               `json:"year,omitempty" yaml:"year"`
	Platforms   []string          `json:"platforms,omitempty" yaml:"platforms"`
	ExternalIDs map[string]string `json:"externalIds,omitempty" yaml:"external_ids"`
}

// Catalog is the external catalog service contract the matcher depends on.
// Get returns ErrNotFound when the id does not exist.
type Catalog interface {
	Search(ctx context.Context, query string, limit int) ([]Candidate, error)
	Get(ctx context.Context, id string) (*Candidate, error)
}

// PromptKind selects how the operator surface asks for input.
type PromptKind string

const (
	// PromptChoose presents candidates plus free-text fallback controls.
	PromptChoose PromptKind = "choose"
	// PromptFreeText asks for a single value (re-query text or catalog id).
	PromptFreeText PromptKind = "free_text"
)

// PendingPrompt is the self-describing question persisted on a suspended session.
type PendingPrompt struct {
	Token      string      `json:"token"`
	ItemID     uuid.UUID   `json:"itemId"`
	RowIndex   int         `json:"rowIndex"`
	Kind       PromptKind  `json:"kind"`
	Subject    string      `json:"subject"`
	Query      string      `json:"query"`
	Candidates []Candidate `json:"candidates,omitempty"`
	Message    string      `json:"message,omitempty"`
	ExpiresAt  time.Time   `json:"expiresAt"`
}

// ResponseAction is the operator's answer to a prompt.
type ResponseAction string

const (
	ActionChoose   ResponseAction = "choose"
	ActionManualID ResponseAction = "manual_id"
	ActionRequery  ResponseAction = "requery"
	ActionSkip     ResponseAction = "skip"
)

// Response is an operator answer keyed by the prompt's correlation token.
type Response struct {
	Token  string         `json:"token"`
	Action ResponseAction `json:"action"`
	Value  string         `json:"value,omitempty"`
}

// Prompter delivers prompts to an operator surface. The prompt is already
// persisted when Present is called; delivery failures do not lose it.
type Prompter interface {
	Present(ctx context.Context, s *Session, p *PendingPrompt) error
}

// RunState describes where a driver run stopped.
type RunState string

const (
	RunSuspended RunState = "suspended"
	RunCompleted RunState = "completed"
	RunStopped   RunState = "stopped"
	RunQueued    RunState = "queued"
	// RunReady means an answer was applied and the session can continue.
	RunReady RunState = "ready"
)

// Outcome is the result of driving a session.
type Outcome struct {
	State      RunState       `json:"state"`
	Status     SessionStatus  `json:"status"`
	Prompt     *PendingPrompt `json:"prompt,omitempty"`
	Dispatched int            `json:"dispatched"`
}

// EntityKey identifies a target catalog entity.
type EntityKey struct {
	OwnerID  string
	Flavor   string
	GroupKey string
}

// Entity is a committed group in the target catalog.
type Entity struct {
	ID        uuid.UUID
	Key       EntityKey
	Label     string
	Members   []EntityMember
	CreatedAt time.Time
}

// EntityMember is one resolved row within an entity.
type EntityMember struct {
	Position  int
	CatalogID string
	Title     string
	Fields    map[string]string
}

// Member returns the member with the given catalog id, or nil.
func (e *Entity) Member(catalogID string) *EntityMember {
	for i := range e.Members {
		if e.Members[i].CatalogID == catalogID {
			return &e.Members[i]
		}
	}
	return nil
}
