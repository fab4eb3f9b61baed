// Package templates renders the operator pages and HTMX partials as templ
// components.
package templates

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/Reconcile/internal/core"
)

// htmlWriter accumulates the first write error so components read as a
// sequence of writes.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) raw(s string) {
	if h.err != nil {
		return
	}
	_, h.err = io.WriteString(h.w, s)
}

func (h *htmlWriter) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *htmlWriter) rawf(format string, args ...any) {
	h.raw(fmt.Sprintf(format, args...))
}

func (h *htmlWriter) render(ctx context.Context, c templ.Component) {
	if h.err != nil || c == nil {
		return
	}
	h.err = c.Render(ctx, h.w)
}

const styles = `body{font-family:system-ui,sans-serif;max-width:960px;margin:2rem auto;padding:0 1rem;color:#1f2933}
table{border-collapse:collapse;width:100%}td,th{border-bottom:1px solid #d9e2ec;padding:.4rem;text-align:left}
.alert{border:1px solid #e12d39;background:#ffe3e3;padding:.75rem;border-radius:4px}
.prompt{border:1px solid #2186eb;background:#e6f6ff;padding:1rem;border-radius:4px}
.muted{color:#7b8794;font-size:.9em}progress{width:100%}`

// Layout wraps a page body.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>`)
		h.text(title)
		h.raw(`</title><style>`)
		h.raw(styles)
		h.raw(`</style></head><body><h1>`)
		h.text(title)
		h.raw(`</h1>`)
		h.render(ctx, body)
		h.raw(`</body></html>`)
		return h.err
	})
}

// DashboardParams feeds the operator's home page.
type DashboardParams struct {
	Operator string
	Flavors  []core.FlavorInfo
	View     *core.StatusView // nil when no session is open
	Notice   string
}

// DashboardPage renders the full page.
func DashboardPage(p DashboardParams) templ.Component {
	return Layout("Import reconciliation", Dashboard(p))
}

// Dashboard shows the open session, its pending prompt, or the upload form.
func Dashboard(p DashboardParams) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<p class="muted">Signed in as <strong>`)
		h.text(p.Operator)
		h.raw(`</strong></p>`)
		if p.Notice != "" {
			h.raw(`<p class="muted">`)
			h.text(p.Notice)
			h.raw(`</p>`)
		}

		if p.View == nil {
			h.render(ctx, UploadForm(p.Flavors))
			return h.err
		}

		h.render(ctx, StatusPanel(p.View))
		if p.View.Session.Prompt != nil {
			h.render(ctx, PromptForm(p.View.Session.Prompt))
		}
		h.render(ctx, SessionControls(p.View.Session))
		return h.err
	})
}

// UploadForm lets the operator start an import.
func UploadForm(flavors []core.FlavorInfo) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<form method="post" action="/start" enctype="multipart/form-data"><label>Importer <select name="flavor">`)
		for _, f := range flavors {
			h.raw(`<option value="`)
			h.text(f.Key)
			h.raw(`">`)
			h.text(f.Label)
			h.raw(`</option>`)
		}
		h.raw(`</select></label> <input type="file" name="file" accept=".csv,text/csv" required> <button type="submit">Start import</button></form>`)

		h.raw(`<h2>Templates</h2><ul>`)
		for _, f := range flavors {
			h.raw(`<li><a href="/api/flavors/`)
			h.text(f.Key)
			h.raw(`/template?format=csv">`)
			h.text(f.Label)
			h.raw(`</a> <span class="muted">`)
			h.text(f.Description)
			h.raw(`</span></li>`)
		}
		h.raw(`</ul>`)
		return h.err
	})
}

// StatusPanel shows progress counts for one session.
func StatusPanel(v *core.StatusView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		s := v.Session
		h.rawf(`<section id="status" data-import-id="%s"><h2>`, s.ID)
		h.text(s.SourceName)
		h.raw(` <span class="muted">`)
		h.text(s.Flavor + " · " + string(s.Status))
		h.raw(`</span></h2>`)
		h.rawf(`<progress max="100" value="%d"></progress>`, v.Percent)
		h.raw(`<table><tr>`)
		for _, st := range statusOrder {
			h.raw(`<th>`)
			h.text(string(st))
			h.raw(`</th>`)
		}
		h.raw(`</tr><tr>`)
		for _, st := range statusOrder {
			h.raw(`<td>`)
			h.text(strconv.Itoa(v.Counts[st]))
			h.raw(`</td>`)
		}
		h.raw(`</tr></table>`)
		h.rawf(`<p class="muted"><a href="/api/imports/%s/items?format=xlsx">Download items</a></p></section>`, s.ID)
		return h.err
	})
}

var statusOrder = []core.ItemStatus{
	core.ItemPending, core.ItemImported, core.ItemAdded, core.ItemUpdated, core.ItemSkipped, core.ItemFailed,
}

// PromptForm renders a pending prompt as an answer form.
func PromptForm(p *core.PendingPrompt) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<section class="prompt" id="prompt"><h3>Row `)
		h.text(strconv.Itoa(p.RowIndex + 1))
		h.raw(`: `)
		h.text(p.Subject)
		h.raw(`</h3>`)
		if p.Message != "" {
			h.raw(`<p>`)
			h.text(p.Message)
			h.raw(`</p>`)
		}
		h.raw(`<p class="muted">Expires `)
		h.text(p.ExpiresAt.Format(time.RFC3339))
		h.raw(`</p>`)

		if p.Kind == core.PromptChoose && len(p.Candidates) > 0 {
			h.render(ctx, answerForm(p.Token, core.ActionChoose, func(h *htmlWriter) {
				h.raw(`<table><tr><th></th><th>Title</th><th>Year</th><th>Platforms</th></tr>`)
				for i, c := range p.Candidates {
					h.raw(`<tr><td><input type="radio" name="value" value="`)
					h.text(c.ID)
					h.raw(`"`)
					if i == 0 {
						h.raw(` checked`)
					}
					h.raw(`></td><td>`)
					h.text(c.Title)
					h.raw(`</td><td>`)
					if c.Year > 0 {
						h.text(strconv.Itoa(c.Year))
					}
					h.raw(`</td><td>`)
					for j, pl := range c.Platforms {
						if j > 0 {
							h.raw(", ")
						}
						h.text(pl)
					}
					h.raw(`</td></tr>`)
				}
				h.raw(`</table><button type="submit">Choose</button>`)
			}))
		}

		h.render(ctx, answerForm(p.Token, core.ActionRequery, func(h *htmlWriter) {
			h.raw(`<input name="value" placeholder="Search again" value="`)
			h.text(p.Query)
			h.raw(`"> <button type="submit">Search</button>`)
		}))
		h.render(ctx, answerForm(p.Token, core.ActionManualID, func(h *htmlWriter) {
			h.raw(`<input name="value" placeholder="Catalog id, igdb:123 or steam:456"> <button type="submit">Use id</button>`)
		}))
		h.render(ctx, answerForm(p.Token, core.ActionSkip, func(h *htmlWriter) {
			h.raw(`<button type="submit">Skip row</button>`)
		}))
		h.raw(`</section>`)
		return h.err
	})
}

func answerForm(token string, action core.ResponseAction, body func(h *htmlWriter)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<form method="post" action="/respond"><input type="hidden" name="token" value="`)
		h.text(token)
		h.raw(`"><input type="hidden" name="action" value="`)
		h.text(string(action))
		h.raw(`">`)
		body(h)
		h.raw(`</form>`)
		return h.err
	})
}

// SessionControls renders pause/resume/cancel buttons valid for the status.
func SessionControls(s *core.Session) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<p>`)
		switch s.Status {
		case core.SessionActive:
			h.raw(`<form method="post" action="/pause" style="display:inline"><button type="submit">Pause</button></form> `)
		case core.SessionPaused:
			h.raw(`<form method="post" action="/resume" style="display:inline"><button type="submit">Resume</button></form> `)
		}
		if s.Status == core.SessionActive || s.Status == core.SessionPaused {
			h.raw(`<form method="post" action="/cancel" style="display:inline"><button type="submit">Cancel import</button></form>`)
		}
		h.raw(`</p>`)
		return h.err
	})
}

// ErrorAlert renders a user-facing error.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<div class="alert" role="alert"><strong>`)
		h.text(message)
		h.raw(`</strong>`)
		if action != "" {
			h.raw(`<p>`)
			h.text(action)
			h.raw(`</p>`)
		}
		if code != "" {
			h.raw(`<p class="muted">Code: `)
			h.text(code)
			h.raw(`</p>`)
		}
		h.raw(`</div>`)
		return h.err
	})
}

// RejectionSummary lists rows excluded by validation.
func RejectionSummary(rep core.RejectionReport) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.rawf(`<p>%d rows accepted, %d rejected, %d skipped.</p>`, rep.Accepted, rep.RejectedRows(), len(rep.Skipped))
		if len(rep.Rejected) == 0 {
			return h.err
		}
		h.raw(`<table><tr><th>Line</th><th>Column</th><th>Problem</th></tr>`)
		for _, e := range rep.Rejected {
			h.raw(`<tr><td>`)
			h.text(strconv.Itoa(e.Line))
			h.raw(`</td><td>`)
			h.text(e.Column)
			h.raw(`</td><td>`)
			h.text(e.Message)
			h.raw(`</td></tr>`)
		}
		h.raw(`</table>`)
		return h.err
	})
}
