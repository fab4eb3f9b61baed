package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// FlavorInfo describes an importer flavor for listings.
type FlavorInfo struct {
	Key         string   `json:"key"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Columns     []string `json:"columns"`
	Required    []string `json:"required"`
}

// ListFlavors returns every registered flavor.
func (s *Service) ListFlavors() []FlavorInfo {
	return FlavorInfos()
}

// FlavorInfos describes every registered flavor.
func FlavorInfos() []FlavorInfo {
	flavors := All()
	infos := make([]FlavorInfo, len(flavors))
	for i, f := range flavors {
		cols := make([]string, len(f.Fields))
		for j, spec := range f.Fields {
			cols[j] = spec.Name
		}
		infos[i] = FlavorInfo{
			Key:         f.Key,
			Label:       f.Label,
			Description: f.Description,
			Columns:     cols,
			Required:    f.RequiredFields(),
		}
	}
	return infos
}

// StatusView is a session with its progress counts.
type StatusView struct {
	Session *Session     `json:"session"`
	Counts  StatusCounts `json:"counts"`
	Percent int          `json:"percent"`
}

// Status returns the owner's open session with progress.
func (s *Service) Status(ctx context.Context, ownerID string) (*StatusView, error) {
	sess, err := s.activeSession(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, sess)
}

// SessionStatus returns any session by id with progress.
func (s *Service) SessionStatus(ctx context.Context, importID uuid.UUID) (*StatusView, error) {
	sess, err := s.store.GetSession(ctx, importID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, sess)
}

// Prompt returns the owner's pending prompt, or ErrNotFound when none is pending.
func (s *Service) Prompt(ctx context.Context, ownerID string) (*Session, *PendingPrompt, error) {
	sess, err := s.activeSession(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	if sess.Prompt == nil {
		return sess, nil, fmt.Errorf("pending prompt: %w", ErrNotFound)
	}
	return sess, sess.Prompt, nil
}

// Items lists every item of a session in row order.
func (s *Service) Items(ctx context.Context, importID uuid.UUID) ([]*Item, error) {
	return s.store.ListItems(ctx, importID)
}

// AuditTrail lists the audit entries of a session.
func (s *Service) AuditTrail(ctx context.Context, importID uuid.UUID) ([]AuditEntry, error) {
	return s.store.ListAudit(ctx, importID)
}

func (s *Service) view(ctx context.Context, sess *Session) (*StatusView, error) {
	counts, err := s.store.CountByStatus(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}
	return &StatusView{Session: sess, Counts: counts, Percent: counts.Percent()}, nil
}

func (s *Service) activeSession(ctx context.Context, ownerID string) (*Session, error) {
	sess, err := s.store.ActiveSession(ctx, ownerID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoActiveSession
	}
	if err != nil {
		return nil, fmt.Errorf("load active session: %w", err)
	}
	return sess, nil
}
