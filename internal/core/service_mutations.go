package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Pause stops the owner's session at the next dispatch check and clears any
// pending prompt. The prompted item stays PENDING.
func (s *Service) Pause(ctx context.Context, ownerID string) (*Session, error) {
	sess, err := s.activeSession(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, sess, []SessionStatus{SessionActive}, SessionPaused, ActionSessionPause); err != nil {
		return nil, err
	}
	return s.store.GetSession(ctx, sess.ID)
}

// Resume reactivates a paused session and drives it from the earliest
// PENDING item.
func (s *Service) Resume(ctx context.Context, ownerID string) (Outcome, error) {
	sess, err := s.activeSession(ctx, ownerID)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.transition(ctx, sess, []SessionStatus{SessionPaused}, SessionActive, ActionSessionResume); err != nil {
		return Outcome{Status: sess.Status}, err
	}
	return s.dispatch(ctx, sess.ID)
}

// Cancel ends the owner's session. With purge the session's items are deleted.
func (s *Service) Cancel(ctx context.Context, ownerID string, purge bool) (*Session, error) {
	sess, err := s.activeSession(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, sess, []SessionStatus{SessionActive, SessionPaused}, SessionCanceled, ActionSessionCancel); err != nil {
		return nil, err
	}
	if purge {
		if err := s.store.DeleteItems(ctx, sess.ID); err != nil {
			return nil, fmt.Errorf("purge items: %w", err)
		}
		s.audit.log(ctx, sess, ActionItemsPurged, "", "")
	}
	return s.store.GetSession(ctx, sess.ID)
}

// Respond answers the pending prompt identified by the response token. When
// ownerID is set the session must belong to that owner.
func (s *Service) Respond(ctx context.Context, ownerID string, r Response) (Outcome, error) {
	importID, _, err := DecodeToken(r.Token)
	if err != nil {
		return Outcome{}, err
	}
	if ownerID != "" {
		sess, err := s.store.GetSession(ctx, importID)
		if errors.Is(err, ErrNotFound) {
			return Outcome{}, ErrInvalidToken
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("load session: %w", err)
		}
		if sess.OwnerID != ownerID {
			return Outcome{}, ErrInvalidToken
		}
	}

	release, err := s.limiter.Acquire(ctx, importID)
	if err != nil {
		return Outcome{}, err
	}

	out, err := s.driver.Respond(ctx, r)
	if err != nil || out.State != RunReady {
		release()
		return out, err
	}

	if s.cfg.Async {
		release()
		s.launch(importID)
		out.State = RunQueued
		return out, nil
	}

	defer release()
	return s.driver.Run(ctx, importID)
}

// RetryGroup re-runs the commit of a group whose members failed with
// COMMIT_FAILED.
func (s *Service) RetryGroup(ctx context.Context, importID uuid.UUID, groupKey string) (CommitOutcome, error) {
	sess, err := s.store.GetSession(ctx, importID)
	if err != nil {
		return CommitOutcome{GroupKey: groupKey}, err
	}

	release, err := s.limiter.Acquire(ctx, importID)
	if err != nil {
		return CommitOutcome{GroupKey: groupKey}, err
	}
	defer release()

	out, err := s.driver.Committer().RetryGroup(ctx, sess, groupKey)
	if err != nil {
		return out, err
	}
	slog.Info("group retried",
		"import_id", importID,
		"group_key", groupKey,
		"status", out.Status,
	)
	s.events.Publish(Event{Kind: EventItem, ImportID: importID, Status: string(out.Status)})
	return out, nil
}

// ExpirePrompts pauses every session whose prompt has expired and returns
// how many were paused.
func (s *Service) ExpirePrompts(ctx context.Context) (int, error) {
	expired, err := s.store.ExpiredPrompts(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("list expired prompts: %w", err)
	}
	n := 0
	for _, sess := range expired {
		paused, err := s.driver.Expire(ctx, sess)
		if err != nil {
			slog.Warn("expire prompt failed", "import_id", sess.ID, "error", err)
			continue
		}
		if paused {
			n++
		}
	}
	return n, nil
}

func (s *Service) transition(ctx context.Context, sess *Session, from []SessionStatus, to SessionStatus, action AuditAction) error {
	if err := s.store.TransitionSession(ctx, sess.ID, from, to); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.Status, to)
		}
		return fmt.Errorf("transition session: %w", err)
	}
	s.audit.log(ctx, sess, action, "", fmt.Sprintf("%s -> %s", sess.Status, to))
	s.events.Publish(Event{Kind: EventSession, ImportID: sess.ID, Status: string(to)})
	slog.Info("import session status changed",
		"import_id", sess.ID,
		"owner_id", sess.OwnerID,
		"from", sess.Status,
		"to", to,
	)
	return nil
}
