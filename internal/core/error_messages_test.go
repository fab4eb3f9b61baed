package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "missing column parse error",
			err:         ParseErrors{{Column: "title", Message: "missing required column"}},
			wantCode:    "PRS001",
			wantMessage: "A required column is missing from the file",
		},
		{
			name:        "unterminated quote",
			err:         &ParseError{Line: 4, Message: "unterminated quoted field"},
			wantCode:    "PRS002",
			wantMessage: "A quoted field is never closed",
		},
		{
			name:        "active session exists",
			err:         fmt.Errorf("start import: %w", ErrActiveSessionExists),
			wantCode:    "SES001",
			wantMessage: "You already have an import in progress",
		},
		{
			name:        "no active session",
			err:         ErrNoActiveSession,
			wantCode:    "SES002",
			wantMessage: "You have no import in progress",
		},
		{
			name:        "session not active",
			err:         ErrSessionNotActive,
			wantCode:    "SES003",
			wantMessage: "This import is not running",
		},
		{
			name:        "candidate not found beats generic not found",
			err:         &MatchError{Kind: MatchNotFound, Subject: "igdb:1"},
			wantCode:    "MCH001",
			wantMessage: "No catalog entry has that id",
		},
		{
			name:        "group mismatch",
			err:         &GroupConsistencyError{GroupKey: "3:main", Field: "label", Values: []string{"March 2024", "April 2024"}},
			wantCode:    "GRP001",
			wantMessage: "Rows of one group disagree on a shared field",
		},
		{
			name:        "commit error wins over wrapped duplicate key",
			err:         &CommitError{GroupKey: "g", Err: errors.New("duplicate key value violates unique constraint")},
			wantCode:    "CMT001",
			wantMessage: "Saving the group to the catalog failed",
		},
		{
			name:        "connection refused maps correctly",
			err:         errors.New("dial tcp: connection refused"),
			wantCode:    "DB004",
			wantMessage: "Unable to connect to database",
		},
		{
			name:        "rate limit maps correctly",
			err:         errors.New("rate limit exceeded"),
			wantCode:    "RATE001",
			wantMessage: "Too many requests",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
		{
			name:        "case insensitive matching",
			err:         errors.New("PROMPT EXPIRED"),
			wantCode:    "SES006",
			wantMessage: "This question timed out and the import was paused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	result := FormatUserError(ErrNoAcceptedRows)

	expected := "Every row in the file failed validation (Code: VAL001). Review the rejection report and fix the listed rows"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error is not user facing",
			err:  nil,
			want: false,
		},
		{
			name: "known error is user facing",
			err:  ErrStalePrompt,
			want: true,
		},
		{
			name: "unknown error is not user facing",
			err:  errors.New("random internal error xyz"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsUserFacing(tt.err)
			if got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := fmt.Errorf("respond: %w", ErrInvalidToken)
		userErr := NewUserError(techErr)

		if userErr.Error() != "The answer could not be matched to a question" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}

		if !errors.Is(userErr, ErrInvalidToken) {
			t.Error("Unwrap() should reach the original error")
		}
	})
}

func TestParseErrors_As(t *testing.T) {
	var err error = ParseErrors{
		{Column: "title", Message: "missing required column"},
		{Column: "round", Message: "missing required column"},
	}

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatal("errors.As(ParseErrors, *ParseError) = false, want true")
	}
	if pe.Column != "title" {
		t.Errorf("first parse error column = %q, want %q", pe.Column, "title")
	}
}
