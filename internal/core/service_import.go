package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// StartRequest describes a source file to import.
type StartRequest struct {
	OwnerID    string
	Flavor     string
	SourceName string
	SourceSize int64 // 0 when unknown
	Body       io.Reader
}

// RejectionReport lists the rows excluded before a session is created.
type RejectionReport struct {
	Accepted       int               `json:"accepted"`
	Rejected       []ValidationError `json:"rejected,omitempty"`
	Skipped        []SkippedRow      `json:"skipped,omitempty"`
	IgnoredColumns []string          `json:"ignoredColumns,omitempty"`
}

// RejectedRows returns the number of distinct rows with errors.
func (r RejectionReport) RejectedRows() int {
	return ValidationReport{Rejected: r.Rejected}.RejectedRows()
}

// StartResult is returned by Start. Report is set even when Start fails
// because no row was accepted.
type StartResult struct {
	Session *Session        `json:"session,omitempty"`
	Report  RejectionReport `json:"report"`
	Outcome Outcome         `json:"outcome"`
}

// Start parses and validates a source file, creates the session with one
// PENDING item per accepted row and begins driving it.
//
// Parse errors abort before anything is stored. Validation errors exclude
// their rows only; if no row is accepted Start returns ErrNoAcceptedRows with
// the report.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, errors.New("owner id is required")
	}
	f, err := Lookup(req.Flavor)
	if err != nil {
		return nil, err
	}
	if req.SourceSize > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", ErrFileTooLarge, req.SourceSize, s.cfg.MaxFileSize)
	}

	if _, err := s.store.ActiveSession(ctx, req.OwnerID); err == nil {
		return nil, ErrActiveSessionExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check active session: %w", err)
	}

	parsed, report, err := s.readSource(f, req.Body)
	if err != nil {
		return nil, err
	}
	result := &StartResult{Report: rejectionReport(parsed, report)}
	if len(report.Accepted) == 0 {
		return result, ErrNoAcceptedRows
	}

	now := s.now()
	size := parsed.BytesRead
	sess := &Session{
		ID:           uuid.New(),
		OwnerID:      req.OwnerID,
		Flavor:       f.Key,
		Status:       SessionActive,
		CurrentIndex: -1,
		TotalCount:   len(report.Accepted),
		SourceName:   req.SourceName,
		SourceSize:   &size,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	items := make([]*Item, len(report.Accepted))
	for i, rec := range report.Accepted {
		it := f.NewItem(rec)
		it.ID = uuid.New()
		it.ImportID = sess.ID
		it.UpdatedAt = now
		items[i] = it
	}

	if err := s.store.CreateSession(ctx, sess); err != nil {
		return result, fmt.Errorf("create session: %w", err)
	}
	if err := s.store.InsertItems(ctx, sess.ID, items); err != nil {
		// Leave no open session without items behind.
		if terr := s.store.TransitionSession(ctx, sess.ID, []SessionStatus{SessionActive}, SessionCanceled); terr != nil {
			slog.Error("cancel session after failed item insert", "import_id", sess.ID, "error", terr)
		}
		return result, fmt.Errorf("insert items: %w", err)
	}

	s.audit.log(ctx, sess, ActionSessionStart, "",
		fmt.Sprintf("%s: %d accepted, %d rejected, %d skipped",
			req.SourceName, result.Report.Accepted, report.RejectedRows(), len(report.Skipped)))
	slog.Info("import session started",
		"import_id", sess.ID,
		"owner_id", sess.OwnerID,
		"flavor", sess.Flavor,
		"accepted", result.Report.Accepted,
		"rejected_rows", report.RejectedRows(),
		"skipped", len(report.Skipped),
	)

	result.Session = sess
	out, err := s.dispatch(ctx, sess.ID)
	result.Outcome = out
	if err != nil {
		return result, err
	}
	if fresh, err := s.store.GetSession(ctx, sess.ID); err == nil {
		result.Session = fresh
	}
	return result, nil
}

// Check parses and validates a source file without creating a session. It
// returns the report Start would produce.
func (s *Service) Check(ctx context.Context, flavor string, body io.Reader, size int64) (RejectionReport, error) {
	f, err := Lookup(flavor)
	if err != nil {
		return RejectionReport{}, err
	}
	if size > s.cfg.MaxFileSize {
		return RejectionReport{}, fmt.Errorf("%w: %d bytes, limit is %d", ErrFileTooLarge, size, s.cfg.MaxFileSize)
	}
	parsed, report, err := s.readSource(f, body)
	if err != nil {
		return RejectionReport{}, err
	}
	return rejectionReport(parsed, report), nil
}

// readSource parses at most MaxFileSize bytes and validates every row.
func (s *Service) readSource(f *Flavor, body io.Reader) (*ParsedFile, ValidationReport, error) {
	limited := NewCountingReader(io.LimitReader(body, s.cfg.MaxFileSize+1))
	parsed, err := Parse(limited, f)
	if limited.BytesRead > s.cfg.MaxFileSize {
		return nil, ValidationReport{}, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, s.cfg.MaxFileSize)
	}
	if err != nil {
		return nil, ValidationReport{}, err
	}
	return parsed, NewRowValidator(f).Validate(parsed.Rows), nil
}

func rejectionReport(parsed *ParsedFile, report ValidationReport) RejectionReport {
	return RejectionReport{
		Accepted:       len(report.Accepted),
		Rejected:       report.Rejected,
		Skipped:        report.Skipped,
		IgnoredColumns: parsed.Ignored,
	}
}
