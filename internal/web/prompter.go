package web

import (
	"context"

	"github.com/JonMunkholm/Reconcile/internal/core"
	"github.com/JonMunkholm/Reconcile/internal/logging"
)

// Prompter records prompts handed to browser operators. Delivery itself
// happens through the session event stream and GET /api/prompt.
type Prompter struct{}

// NewPrompter returns the web prompt surface.
func NewPrompter() *Prompter { return &Prompter{} }

// Present implements core.Prompter.
func (Prompter) Present(ctx context.Context, s *core.Session, p *core.PendingPrompt) error {
	logging.ForImport(ctx, s.ID, s.Flavor).Info("prompt awaiting operator",
		"owner_id", s.OwnerID,
		"row", p.RowIndex,
		"kind", p.Kind,
		"subject", p.Subject,
		"candidates", len(p.Candidates),
		"expires_at", p.ExpiresAt,
	)
	return nil
}
