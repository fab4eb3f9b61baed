package web

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/Reconcile/internal/core"
	"github.com/JonMunkholm/Reconcile/internal/logging"
	"github.com/JonMunkholm/Reconcile/internal/web/templates"
)

// handleDashboard renders the operator home page: the open session with its
// prompt, or the upload form.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	params := templates.DashboardParams{
		Operator: operator(r),
		Flavors:  s.service.ListFlavors(),
		Notice:   r.URL.Query().Get("notice"),
	}

	view, err := s.service.Status(r.Context(), params.Operator)
	switch {
	case err == nil:
		params.View = view
	case errors.Is(err, core.ErrNoActiveSession):
	default:
		s.respondError(w, r, err, nil)
		return
	}

	s.render(w, r, http.StatusOK, templates.DashboardPage(params))
}

// handleStartForm starts an import from the upload form.
func (s *Server) handleStartForm(w http.ResponseWriter, r *http.Request) {
	res, err := s.startImport(w, r)
	if err != nil {
		if errors.Is(err, core.ErrNoAcceptedRows) && res != nil {
			msg := core.MapError(err)
			page := templates.Layout("Import rejected", templ.Join(
				templates.ErrorAlert(msg.Message, msg.Action, msg.Code),
				templates.RejectionSummary(res.Report),
			))
			s.render(w, r, http.StatusUnprocessableEntity, page)
			return
		}
		s.respondError(w, r, err, nil)
		return
	}
	s.redirectHome(w, r, "")
}

func (s *Server) handleRespondForm(w http.ResponseWriter, r *http.Request) {
	resp, err := decodeResponse(r)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	if _, err := s.service.Respond(r.Context(), operator(r), resp); err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	s.redirectHome(w, r, "")
}

func (s *Server) handlePauseForm(w http.ResponseWriter, r *http.Request) {
	if _, err := s.service.Pause(r.Context(), operator(r)); err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	s.redirectHome(w, r, "Import paused.")
}

func (s *Server) handleResumeForm(w http.ResponseWriter, r *http.Request) {
	if _, err := s.service.Resume(r.Context(), operator(r)); err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	s.redirectHome(w, r, "")
}

func (s *Server) handleCancelForm(w http.ResponseWriter, r *http.Request) {
	purge := r.FormValue("purge") == "true"
	if _, err := s.service.Cancel(r.Context(), operator(r), purge); err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	s.redirectHome(w, r, "Import canceled.")
}

// redirectHome sends the browser back to the dashboard after a form post.
// HTMX requests get an HX-Redirect header instead of a 303.
func (s *Server) redirectHome(w http.ResponseWriter, r *http.Request, notice string) {
	target := "/"
	if notice != "" {
		target = "/?notice=" + url.QueryEscape(notice)
	}
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// renderPrompt writes the prompt form partial.
func (s *Server) renderPrompt(w http.ResponseWriter, r *http.Request, p *core.PendingPrompt) {
	if err := templates.PromptForm(p).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render prompt", "error", err)
	}
}

// render writes an HTML component with the given status.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render page", "path", r.URL.Path, "error", err)
	}
}
