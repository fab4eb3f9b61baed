package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/Reconcile/internal/core"
	"github.com/JonMunkholm/Reconcile/internal/logging"
	"github.com/JonMunkholm/Reconcile/internal/report"
)

// handleListFlavors returns every registered importer.
func (s *Server) handleListFlavors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListFlavors())
}

// handleDownloadTemplate serves an empty import file for a flavor.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	f, err := core.Lookup(chi.URLParam(r, "flavor"))
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err), nil)
		return
	}

	attachment(w, format, f.Key+"_template")
	if err := report.WriteTemplate(w, format, f); err != nil {
		logging.FromContext(r.Context()).Error("write template", "flavor", f.Key, "error", err)
	}
}

// uploadedFile reads the multipart "file" field within the size limit.
func (s *Server) uploadedFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, nil, fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, maxSize)
		}
		return nil, nil, fmt.Errorf("%w: invalid form: %v", errBadRequest, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: no file provided", errBadRequest)
	}
	return file, header, nil
}

// startImport runs Start for an uploaded file. The flavor comes from the
// route or, for the upload form, the "flavor" field.
func (s *Server) startImport(w http.ResponseWriter, r *http.Request) (*core.StartResult, error) {
	file, header, err := s.uploadedFile(w, r)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	flavor := chi.URLParam(r, "flavor")
	if flavor == "" {
		flavor = r.FormValue("flavor")
	}

	return s.service.Start(r.Context(), core.StartRequest{
		OwnerID:    operator(r),
		Flavor:     flavor,
		SourceName: header.Filename,
		SourceSize: header.Size,
		Body:       file,
	})
}

// handleStart creates an import session from a multipart upload.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	res, err := s.startImport(w, r)
	if err != nil {
		var details any
		if res != nil {
			details = res.Report
		}
		s.respondError(w, r, err, details)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleCheck validates an upload without creating a session. With
// ?format=csv or xlsx the rejection report is returned as a file.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	flavor := chi.URLParam(r, "flavor")
	rawFormat := r.URL.Query().Get("format")

	file, header, err := s.uploadedFile(w, r)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	defer file.Close()

	rep, err := s.service.Check(r.Context(), flavor, file, header.Size)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}

	if rawFormat == "" || rawFormat == "json" {
		writeJSON(w, http.StatusOK, rep)
		return
	}
	format, err := report.ParseFormat(rawFormat)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err), nil)
		return
	}
	attachment(w, format, "rejections_"+flavor)
	if err := report.WriteRejections(w, format, rep); err != nil {
		logging.FromContext(r.Context()).Error("write rejection report", "flavor", flavor, "error", err)
	}
}

// handleStatus returns the operator's open session with progress.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Status(r.Context(), operator(r))
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handlePrompt returns the pending prompt, as an HTML partial for HTMX.
func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	sess, prompt, err := s.service.Prompt(r.Context(), operator(r))
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	if prompt == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		s.renderPrompt(w, r, prompt)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"importId": sess.ID, "prompt": prompt})
}

// decodeResponse reads a prompt answer from JSON or form values.
func decodeResponse(r *http.Request) (core.Response, error) {
	var resp core.Response
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&resp); err != nil {
			return resp, fmt.Errorf("%w: %v", errBadRequest, err)
		}
	} else {
		resp = core.Response{
			Token:  r.FormValue("token"),
			Action: core.ResponseAction(r.FormValue("action")),
			Value:  r.FormValue("value"),
		}
	}
	if resp.Token == "" {
		return resp, fmt.Errorf("%w: token is required", errBadRequest)
	}
	return resp, nil
}

// handleRespond applies an answer to the pending prompt.
func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	resp, err := decodeResponse(r)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	out, err := s.service.Respond(r.Context(), operator(r), resp)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.Pause(r.Context(), operator(r))
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	out, err := s.service.Resume(r.Context(), operator(r))
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCancel ends the operator's session; ?purge=true deletes its items.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	purge := r.URL.Query().Get("purge") == "true"
	sess, err := s.service.Cancel(r.Context(), operator(r), purge)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleSession returns one of the operator's sessions by id.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.ownedSession(r.Context(), r)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleItems lists a session's items as JSON, CSV or XLSX.
func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	view, err := s.ownedSession(r.Context(), r)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	items, err := s.service.Items(r.Context(), view.Session.ID)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}

	rawFormat := r.URL.Query().Get("format")
	if rawFormat == "" || rawFormat == "json" {
		writeJSON(w, http.StatusOK, items)
		return
	}
	format, err := report.ParseFormat(rawFormat)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err), nil)
		return
	}
	f, err := core.Lookup(view.Session.Flavor)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}

	attachment(w, format, fmt.Sprintf("import_%s_%s", f.Key, view.Session.CreatedAt.Format("20060102_150405")))
	if err := report.WriteItems(w, format, f, items); err != nil {
		logging.ForImport(r.Context(), view.Session.ID, f.Key).Error("write item export", "error", err)
	}
}

// handleAudit returns a session's audit trail.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	view, err := s.ownedSession(r.Context(), r)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	entries, err := s.service.AuditTrail(r.Context(), view.Session.ID)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleRetryGroup re-attempts the commit of one group. The group key comes
// from the "group" query or form value because keys contain colons.
func (s *Server) handleRetryGroup(w http.ResponseWriter, r *http.Request) {
	view, err := s.ownedSession(r.Context(), r)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	group := strings.TrimSpace(r.FormValue("group"))
	if group == "" {
		s.respondError(w, r, fmt.Errorf("%w: group is required", errBadRequest), nil)
		return
	}

	out, err := s.service.RetryGroup(r.Context(), view.Session.ID, group)
	if err != nil {
		s.respondError(w, r, err, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleLimiterStatus reports run limiter occupancy for monitoring.
func (s *Server) handleLimiterStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.LimiterStatus())
}

// attachment sets download headers.
func attachment(w http.ResponseWriter, format report.Format, base string) {
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, format.Filename(base)))
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
}
