package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionSessionStart    AuditAction = "session_start"
	ActionSessionPause    AuditAction = "session_pause"
	ActionSessionResume   AuditAction = "session_resume"
	ActionSessionCancel   AuditAction = "session_cancel"
	ActionSessionComplete AuditAction = "session_complete"
	ActionPromptExpired   AuditAction = "prompt_expired"
	ActionGroupCommit     AuditAction = "group_commit"
	ActionGroupRepair     AuditAction = "group_repair"
	ActionGroupFailed     AuditAction = "group_failed"
	ActionGroupRetry      AuditAction = "group_retry"
	ActionItemsPurged     AuditAction = "items_purged"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow    AuditSeverity = "low"
	SeverityMedium AuditSeverity = "medium"
	SeverityHigh   AuditSeverity = "high"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID        uuid.UUID     `json:"id"`
	ImportID  uuid.UUID     `json:"importId"`
	OwnerID   string        `json:"ownerId"`
	Action    AuditAction   `json:"action"`
	Severity  AuditSeverity `json:"severity"`
	GroupKey  string        `json:"groupKey,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	IPAddress string        `json:"ipAddress,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// determineSeverity assigns severity based on action type.
func determineSeverity(action AuditAction) AuditSeverity {
	switch action {
	case ActionSessionCancel, ActionGroupFailed, ActionItemsPurged:
		return SeverityHigh
	case ActionGroupCommit, ActionGroupRepair, ActionGroupRetry, ActionPromptExpired:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// auditor writes audit entries; failures are logged and never fail the caller.
type auditor struct {
	store AuditStore
}

func (a auditor) log(ctx context.Context, s *Session, action AuditAction, groupKey, detail string) {
	if a.store == nil {
		return
	}
	entry := AuditEntry{
		ID:        uuid.New(),
		ImportID:  s.ID,
		OwnerID:   s.OwnerID,
		Action:    action,
		Severity:  determineSeverity(action),
		GroupKey:  groupKey,
		Detail:    detail,
		IPAddress: GetIPAddressFromContext(ctx),
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.AppendAudit(ctx, entry); err != nil {
		slog.Warn("audit write failed",
			"import_id", s.ID,
			"action", action,
			"error", err,
		)
	}
}
