package core

// driver.go implements the Session Driver.
//
// Run is the only way a session makes progress. Each iteration re-reads the
// session and the earliest PENDING item from the store, so a run can stop at
// any point (prompt, pause, crash) and a later call picks up exactly where
// persisted state says it should. A prompt is a suspension point: Run
// returns, and the answer arrives through Respond, possibly in another
// process, carrying only the opaque token.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultPromptTimeout is used when no timeout is configured.
const DefaultPromptTimeout = 30 * time.Minute

// Driver advances import sessions one item at a time.
type Driver struct {
	store         Store
	matcher       *Matcher
	committer     *Committer
	prompter      Prompter
	events        *Broadcaster
	audit         auditor
	promptTimeout time.Duration
	now           func() time.Time
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithPrompter sets the operator surface prompts are handed to.
func WithPrompter(p Prompter) DriverOption {
	return func(d *Driver) { d.prompter = p }
}

// WithPromptTimeout sets how long a prompt waits for an answer.
func WithPromptTimeout(timeout time.Duration) DriverOption {
	return func(d *Driver) {
		if timeout > 0 {
			d.promptTimeout = timeout
		}
	}
}

// WithEvents publishes progress events to b.
func WithEvents(b *Broadcaster) DriverOption {
	return func(d *Driver) { d.events = b }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) DriverOption {
	return func(d *Driver) { d.now = now }
}

// NewDriver creates a driver over the given store and matcher.
func NewDriver(st Store, m *Matcher, opts ...DriverOption) *Driver {
	d := &Driver{
		store:         st,
		matcher:       m,
		audit:         auditor{store: st},
		promptTimeout: DefaultPromptTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	d.committer = NewCommitter(st, st, st)
	d.committer.now = d.now
	return d
}

// Committer returns the group committer the driver uses.
func (d *Driver) Committer() *Committer {
	return d.committer
}

// Run drives the session until it suspends on a prompt, completes or stops
// being ACTIVE.
func (d *Driver) Run(ctx context.Context, importID uuid.UUID) (Outcome, error) {
	var out Outcome
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		s, err := d.store.GetSession(ctx, importID)
		if err != nil {
			return out, fmt.Errorf("load session: %w", err)
		}
		out.Status = s.Status

		if s.Status != SessionActive {
			out.State = RunStopped
			return out, nil
		}

		if s.Prompt != nil {
			if d.now().After(s.Prompt.ExpiresAt) {
				if _, err := d.expire(ctx, s); err != nil {
					return out, err
				}
				continue
			}
			out.State = RunSuspended
			out.Prompt = s.Prompt
			return out, nil
		}

		it, err := d.store.NextPending(ctx, importID)
		if errors.Is(err, ErrNotFound) {
			done, err := d.complete(ctx, s)
			if err != nil {
				return out, err
			}
			if !done {
				continue
			}
			out.State = RunCompleted
			out.Status = SessionCompleted
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("next pending item: %w", err)
		}

		if err := d.store.AdvanceCursor(ctx, importID, it.RowIndex); err != nil {
			return out, fmt.Errorf("advance cursor: %w", err)
		}
		out.Dispatched++

		res, merr := d.matcher.Resolve(ctx, it.Subject, it.PreSuppliedID)
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if err := d.ensureActive(ctx, importID); err != nil {
			if errors.Is(err, ErrSessionNotActive) {
				continue
			}
			return out, err
		}

		var me *MatchError
		switch {
		case errors.As(merr, &me):
			it.fail(me.Reason(), me.Error())
			if err := d.store.UpdateItem(ctx, it); err != nil {
				return out, fmt.Errorf("update item: %w", err)
			}
			d.publishItem(it)
			slog.Info("item failed",
				"import_id", importID,
				"row_index", it.RowIndex,
				"reason", it.ResultReason,
			)
			if err := d.commit(ctx, s, it.GroupKey); err != nil {
				return out, err
			}
		case merr != nil:
			return out, merr
		case res.Resolved:
			if err := d.finalize(ctx, s, it, res, ReasonAutoMatched); err != nil {
				return out, err
			}
		default:
			p, err := d.suspend(ctx, s, it, res, nil, "")
			if errors.Is(err, ErrSessionNotActive) {
				continue
			}
			if err != nil {
				return out, err
			}
			out.State = RunSuspended
			out.Prompt = p
			return out, nil
		}
	}
}

// Respond applies an operator answer to the session's pending prompt. It
// returns RunReady when the item was finalized and the session can continue,
// or RunSuspended when the answer produced a new prompt for the same item.
func (d *Driver) Respond(ctx context.Context, r Response) (Outcome, error) {
	importID, itemID, err := DecodeToken(r.Token)
	if err != nil {
		return Outcome{}, err
	}

	s, err := d.store.GetSession(ctx, importID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Outcome{}, ErrInvalidToken
		}
		return Outcome{}, fmt.Errorf("load session: %w", err)
	}
	out := Outcome{Status: s.Status}
	if s.Status != SessionActive {
		return out, ErrSessionNotActive
	}
	if s.Prompt == nil || s.Prompt.ItemID != itemID {
		return out, ErrStalePrompt
	}
	if d.now().After(s.Prompt.ExpiresAt) {
		if _, err := d.expire(ctx, s); err != nil {
			return out, err
		}
		out.Status = SessionPaused
		return out, ErrPromptExpired
	}

	it, err := d.store.GetItem(ctx, itemID)
	if err != nil {
		return out, fmt.Errorf("load item: %w", err)
	}
	if it.ImportID != importID || it.Status != ItemPending {
		return out, ErrStalePrompt
	}

	switch r.Action {
	case ActionSkip:
		return d.skip(ctx, s, it, r.Value)

	case ActionChoose, ActionManualID:
		if r.Value == "" {
			return out, fmt.Errorf("%w: %s needs a catalog id", ErrInvalidResponse, r.Action)
		}
		res, err := d.matcher.Verify(ctx, r.Value, ConfidenceManual)
		var me *MatchError
		if errors.As(err, &me) && me.Kind == MatchNotFound {
			msg := fmt.Sprintf("No catalog entry has id %q.", r.Value)
			return d.reprompt(ctx, s, it, s.Prompt.Query, s.Prompt.Candidates, msg)
		}
		if err != nil {
			return out, err
		}
		return d.accept(ctx, s, it, res)

	case ActionRequery:
		if r.Value == "" {
			return out, fmt.Errorf("%w: requery needs search text", ErrInvalidResponse)
		}
		res, err := d.matcher.Search(ctx, r.Value, ConfidenceFuzzy)
		if err != nil {
			return out, err
		}
		if !res.Resolved {
			msg := ""
			if len(res.Candidates) == 0 {
				msg = fmt.Sprintf("No catalog entries matched %q.", r.Value)
			}
			return d.reprompt(ctx, s, it, res.Query, res.Candidates, msg)
		}
		return d.accept(ctx, s, it, res)

	default:
		return out, fmt.Errorf("%w: unknown action %q", ErrInvalidResponse, r.Action)
	}
}

// Expire applies the prompt timeout policy to a session whose prompt has
// expired: the item stays PENDING and the session is paused. It reports
// false when the session was not paused because it left ACTIVE or its
// prompt was replaced by one that has not expired.
func (d *Driver) Expire(ctx context.Context, s *Session) (bool, error) {
	return d.expire(ctx, s)
}

// The pause is conditional on the stored prompt still being expired, so a
// prompt stored after s was read survives.
func (d *Driver) expire(ctx context.Context, s *Session) (bool, error) {
	err := d.store.PauseExpired(ctx, s.ID, d.now())
	if errors.Is(err, ErrInvalidTransition) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pause expired session: %w", err)
	}
	detail := ""
	if s.Prompt != nil {
		detail = fmt.Sprintf("prompt for row %d expired", s.Prompt.RowIndex)
	}
	d.audit.log(ctx, s, ActionPromptExpired, "", detail)
	d.publishSession(s.ID, SessionPaused)
	slog.Info("prompt expired, session paused", "import_id", s.ID)
	return true, nil
}

// accept clears the prompt and finalizes the item after an operator answer.
func (d *Driver) accept(ctx context.Context, s *Session, it *Item, res Resolution) (Outcome, error) {
	out := Outcome{Status: s.Status}
	if err := d.ensureActive(ctx, s.ID); err != nil {
		return out, err
	}
	if err := d.store.SetPrompt(ctx, s.ID, nil); err != nil {
		return out, fmt.Errorf("clear prompt: %w", err)
	}
	if err := d.finalize(ctx, s, it, res, ReasonOperatorChosen); err != nil {
		return out, err
	}
	out.State = RunReady
	return out, nil
}

func (d *Driver) skip(ctx context.Context, s *Session, it *Item, note string) (Outcome, error) {
	out := Outcome{Status: s.Status}
	if err := d.ensureActive(ctx, s.ID); err != nil {
		return out, err
	}
	if err := d.store.SetPrompt(ctx, s.ID, nil); err != nil {
		return out, fmt.Errorf("clear prompt: %w", err)
	}
	it.Status = ItemSkipped
	it.ResultReason = ReasonOperatorSkipped
	it.ErrorText = note
	if err := d.store.UpdateItem(ctx, it); err != nil {
		return out, fmt.Errorf("update item: %w", err)
	}
	d.publishItem(it)
	if err := d.commit(ctx, s, it.GroupKey); err != nil {
		return out, err
	}
	out.State = RunReady
	return out, nil
}

// finalize marks a resolved item IMPORTED and attempts its group commit.
func (d *Driver) finalize(ctx context.Context, s *Session, it *Item, res Resolution, reason ResultReason) error {
	f, err := Lookup(s.Flavor)
	if err != nil {
		return err
	}

	it.Status = ItemImported
	it.CatalogID = res.CatalogID
	it.CatalogTitle = res.Title
	it.Confidence = res.Confidence
	it.ResultReason = reason
	it.ErrorText = ""
	if f.GroupsByResolution() {
		it.GroupKey = ResolvedGroupKey(res.CatalogID)
	}
	if err := d.store.UpdateItem(ctx, it); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	d.publishItem(it)
	return d.commit(ctx, s, it.GroupKey)
}

// commit runs the group committer. Commit failures are recorded on the items
// and do not stop the session.
func (d *Driver) commit(ctx context.Context, s *Session, groupKey string) error {
	if groupKey == "" {
		return nil
	}
	out, err := d.committer.TryCommitGroup(ctx, s, groupKey)
	var cerr *CommitError
	if errors.As(err, &cerr) && out.Status == CommitFailed {
		return nil
	}
	if err != nil {
		return err
	}
	if out.Changed > 0 {
		d.publish(Event{Kind: EventItem, ImportID: s.ID, Status: string(out.Status)})
	}
	return nil
}

// suspend persists a prompt for the item and hands it to the prompter.
func (d *Driver) suspend(ctx context.Context, s *Session, it *Item, res Resolution, prev *PendingPrompt, message string) (*PendingPrompt, error) {
	kind := PromptChoose
	if len(res.Candidates) == 0 {
		kind = PromptFreeText
		if message == "" {
			message = fmt.Sprintf("No catalog entries matched %q. Search again or enter a catalog id.", res.Query)
		}
	}

	p := &PendingPrompt{
		Token:      EncodeToken(s.ID, it.ID),
		ItemID:     it.ID,
		RowIndex:   it.RowIndex,
		Kind:       kind,
		Subject:    it.Subject,
		Query:      res.Query,
		Candidates: res.Candidates,
		Message:    message,
		ExpiresAt:  d.now().Add(d.promptTimeout),
	}
	if prev != nil {
		p.Token = prev.Token
	}

	if err := d.store.SetPrompt(ctx, s.ID, p); err != nil {
		return nil, fmt.Errorf("store prompt: %w", err)
	}
	d.publish(Event{Kind: EventPrompt, ImportID: s.ID, ItemID: it.ID, RowIndex: it.RowIndex, Status: string(it.Status), Prompt: p})

	if d.prompter != nil {
		if err := d.prompter.Present(ctx, s, p); err != nil {
			slog.Warn("prompt delivery failed",
				"import_id", s.ID,
				"row_index", it.RowIndex,
				"error", err,
			)
		}
	}
	return p, nil
}

// reprompt replaces the pending prompt for the same item after an answer that
// did not resolve it.
func (d *Driver) reprompt(ctx context.Context, s *Session, it *Item, query string, candidates []Candidate, message string) (Outcome, error) {
	out := Outcome{Status: s.Status}
	if err := d.ensureActive(ctx, s.ID); err != nil {
		return out, err
	}
	res := Resolution{Query: query, Candidates: candidates}
	p, err := d.suspend(ctx, s, it, res, s.Prompt, message)
	if err != nil {
		return out, err
	}
	out.State = RunSuspended
	out.Prompt = p
	return out, nil
}

// complete moves the session to COMPLETED. It reports false when the session
// left ACTIVE concurrently.
func (d *Driver) complete(ctx context.Context, s *Session) (bool, error) {
	err := d.store.TransitionSession(ctx, s.ID, []SessionStatus{SessionActive}, SessionCompleted)
	if errors.Is(err, ErrInvalidTransition) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("complete session: %w", err)
	}
	d.audit.log(ctx, s, ActionSessionComplete, "", "")
	d.publishSession(s.ID, SessionCompleted)
	slog.Info("import session completed", "import_id", s.ID, "owner_id", s.OwnerID)
	return true, nil
}

// ensureActive re-reads the session right before a mutation.
func (d *Driver) ensureActive(ctx context.Context, importID uuid.UUID) error {
	s, err := d.store.GetSession(ctx, importID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if s.Status != SessionActive {
		return ErrSessionNotActive
	}
	return nil
}

func (d *Driver) publish(e Event) {
	if d.events != nil {
		e.At = d.now()
		d.events.Publish(e)
	}
}

func (d *Driver) publishItem(it *Item) {
	d.publish(Event{Kind: EventItem, ImportID: it.ImportID, ItemID: it.ID, RowIndex: it.RowIndex, Status: string(it.Status)})
}

func (d *Driver) publishSession(importID uuid.UUID, status SessionStatus) {
	d.publish(Event{Kind: EventSession, ImportID: importID, Status: string(status)})
}
