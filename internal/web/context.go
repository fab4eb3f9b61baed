package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/Reconcile/internal/core"
	mw "github.com/JonMunkholm/Reconcile/internal/web/middleware"
)

// operator returns the owner resolved by the auth middleware.
func operator(r *http.Request) string {
	if op := core.OperatorFromContext(r.Context()); op != "" {
		return op
	}
	return mw.DefaultOwner
}

// importIDParam parses the {importID} route parameter.
func importIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "importID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: import id %q", errBadRequest, raw)
	}
	return id, nil
}

// ownedSession loads a session and hides sessions of other owners.
func (s *Server) ownedSession(ctx context.Context, r *http.Request) (*core.StatusView, error) {
	id, err := importIDParam(r)
	if err != nil {
		return nil, err
	}
	view, err := s.service.SessionStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if view.Session.OwnerID != operator(r) {
		return nil, fmt.Errorf("session %s: %w", id, core.ErrNotFound)
	}
	return view, nil
}
