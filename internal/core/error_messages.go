// Package core provides the import reconciliation engine.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// Operators quote the code to support staff for faster diagnosis.
//
// # Parse Errors (PRS001-PRS099)
//
//	PRS001 - Missing column: A required column is missing from the file
//	         Action: Download the template and compare the header row
//	         Patterns: "missing required column"
//
//	PRS002 - Bad quoting: A quoted field is not terminated or a quote is misplaced
//	         Action: Check for unbalanced double quotes near the reported line
//	         Patterns: "unterminated quoted field", "bare quote"
//
//	PRS003 - Empty file: The file has no header or no data rows
//	         Action: Upload a file with a header row and at least one data row
//	         Patterns: "empty file"
//
//	PRS000 - Invalid file: The file could not be read as delimited text
//	         Action: Save the file as UTF-8 CSV and try again
//	         Patterns: "parse error"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - No accepted rows: Every row failed validation
//	         Action: Review the rejection report and fix the listed rows
//	         Patterns: "no rows passed validation"
//
// # Session Errors (SES001-SES099)
//
//	SES001 - Session exists: The operator already has an open import
//	SES002 - No session: The operator has no open import
//	SES003 - Not active: The import is paused, completed or canceled
//	SES004 - Bad transition: The requested status change is not allowed
//	SES005 - Stale prompt: The prompt was already answered or replaced
//	SES006 - Prompt expired: The prompt timed out and the import was paused
//	SES007 - Bad token: The prompt token is malformed
//	SES008 - Bad response: The response action is not valid for this prompt
//	SES009 - Unknown flavor: The importer flavor is not configured
//	SES010 - Busy: Too many imports are running
//	SES011 - Session busy: Another step of the same import is running
//
// # Matching and Commit Errors (MCH, GRP, CMT)
//
//	MCH001 - Candidate not found: The catalog has no entry with that id
//	MCH002 - Catalog unavailable: The catalog service could not be reached
//	GRP001 - Group mismatch: Rows of one group disagree on a shared field
//	CMT001 - Commit failed: Writing the group to the catalog failed
//
// # Database, File and Rate Errors
//
//	DB001-DB007, FILE001-FILE002, RATE001, REQ001-REQ002 as listed in errorPatterns.
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches. Support staff should check
// application logs for the original technical error.
//
// Patterns are matched case-insensitively using strings.Contains and the
// first matching pattern wins, so specific patterns come before general ones.
package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins, so order matters.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Parse Errors (PRS001-PRS003, PRS000)
	// =========================================================================
	{
		pattern: "missing required column",
		msg: UserMessage{
			Message: "A required column is missing from the file",
			Action:  "Download the template and compare the header row",
			Code:    "PRS001",
		},
	},
	{
		pattern: "unterminated quoted field",
		msg: UserMessage{
			Message: "A quoted field is never closed",
			Action:  "Check for unbalanced double quotes near the reported line",
			Code:    "PRS002",
		},
	},
	{
		pattern: "bare quote",
		msg: UserMessage{
			Message: "A double quote appears inside an unquoted field",
			Action:  "Wrap the field in quotes and double any quotes inside it",
			Code:    "PRS002",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The file has no rows to import",
			Action:  "Upload a file with a header row and at least one data row",
			Code:    "PRS003",
		},
	},
	{
		pattern: "parse error",
		msg: UserMessage{
			Message: "The file could not be read",
			Action:  "Save the file as UTF-8 CSV and try again",
			Code:    "PRS000",
		},
	},

	// =========================================================================
	// Validation Errors (VAL001)
	// =========================================================================
	{
		pattern: "no rows passed validation",
		msg: UserMessage{
			Message: "Every row in the file failed validation",
			Action:  "Review the rejection report and fix the listed rows",
			Code:    "VAL001",
		},
	},

	// =========================================================================
	// Session Errors (SES001-SES011)
	// =========================================================================
	{
		pattern: "already has an active import session",
		msg: UserMessage{
			Message: "You already have an import in progress",
			Action:  "Resume or cancel the current import before starting a new one",
			Code:    "SES001",
		},
	},
	{
		pattern: "no active import session",
		msg: UserMessage{
			Message: "You have no import in progress",
			Action:  "Start a new import",
			Code:    "SES002",
		},
	},
	{
		pattern: "import session is not active",
		msg: UserMessage{
			Message: "This import is not running",
			Action:  "Resume the import and try again",
			Code:    "SES003",
		},
	},
	{
		pattern: "invalid session status transition",
		msg: UserMessage{
			Message: "The import cannot change to that state",
			Action:  "Check the import status first",
			Code:    "SES004",
		},
	},
	{
		pattern: "prompt is no longer pending",
		msg: UserMessage{
			Message: "This question was already answered",
			Action:  "Refresh to see the current question",
			Code:    "SES005",
		},
	},
	{
		pattern: "prompt expired",
		msg: UserMessage{
			Message: "This question timed out and the import was paused",
			Action:  "Resume the import to be asked again",
			Code:    "SES006",
		},
	},
	{
		pattern: "invalid prompt token",
		msg: UserMessage{
			Message: "The answer could not be matched to a question",
			Action:  "Answer from the latest prompt",
			Code:    "SES007",
		},
	},
	{
		pattern: "invalid prompt response",
		msg: UserMessage{
			Message: "That answer is not valid for this question",
			Action:  "Pick a listed candidate, enter a catalog id, search again or skip",
			Code:    "SES008",
		},
	},
	{
		pattern: "unknown import flavor",
		msg: UserMessage{
			Message: "Unknown import type",
			Action:  "Choose one of the listed import types",
			Code:    "SES009",
		},
	},
	{
		pattern: "too many concurrent import runs",
		msg: UserMessage{
			Message: "The system is busy with other imports",
			Action:  "Please wait a moment and try again",
			Code:    "SES010",
		},
	},
	{
		pattern: "import session is busy",
		msg: UserMessage{
			Message: "This import is already being processed",
			Action:  "Wait for the current step to finish and try again",
			Code:    "SES011",
		},
	},

	// =========================================================================
	// Matching, Group and Commit Errors
	// =========================================================================
	{
		pattern: "candidate not found",
		msg: UserMessage{
			Message: "No catalog entry has that id",
			Action:  "Check the id or search by title instead",
			Code:    "MCH001",
		},
	},
	{
		pattern: "catalog unavailable",
		msg: UserMessage{
			Message: "The catalog service could not be reached",
			Action:  "Please try again in a few moments",
			Code:    "MCH002",
		},
	},
	{
		pattern: "mismatched group fields",
		msg: UserMessage{
			Message: "Rows of one group disagree on a shared field",
			Action:  "Make the shared field identical on every row of the group",
			Code:    "GRP001",
		},
	},
	{
		pattern: "commit group",
		msg: UserMessage{
			Message: "Saving the group to the catalog failed",
			Action:  "Retry the group once the conflict is resolved",
			Code:    "CMT001",
		},
	},

	// =========================================================================
	// Database Errors (DB001-DB007)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this ID already exists",
			Action:  "Retry the group to repair the existing record",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "already exists",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Retry the group to repair the existing record",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Start a new import",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// =========================================================================
	// File and Request Errors
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV file to import",
			Code:    "FILE002",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ001",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Please try again",
			Code:    "REQ002",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Please try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "not found",
		msg: UserMessage{
			Message: "The requested record was not found",
			Action:  "Check the id and try again",
			Code:    "DB008",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, ERR000 is returned.
//
// Example:
//
//	msg := MapError(ErrActiveSessionExists)
//	// msg.Code == "SES001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than the
// generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	msg := MapError(err)
	return msg.Code != defaultMessage.Code
}

// UserError wraps a technical error with a user-friendly message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError creates a UserError by mapping a technical error.
// Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
