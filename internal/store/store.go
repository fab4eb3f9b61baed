// Package store implements core.Store on PostgreSQL (pgx) and SQLite
// (modernc.org/sqlite). Both backends create their schema on open.
package store

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/Reconcile/internal/core"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Driver     string
	URL        string // Postgres connection string
	SQLitePath string // SQLite database file

	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Open connects to the configured backend and migrates its schema.
func Open(ctx context.Context, opts Options) (core.Store, error) {
	switch strings.ToLower(opts.Driver) {
	case DriverPostgres, "pgx", "postgresql":
		return OpenPostgres(ctx, opts)
	case DriverSQLite, "":
		return OpenSQLite(ctx, opts.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown database driver %q", opts.Driver)
	}
}

func readSchema(name string) (string, error) {
	b, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		return "", fmt.Errorf("read schema %s: %w", name, err)
	}
	return string(b), nil
}

func encodeFields(fields map[string]string) ([]byte, error) {
	if fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(fields)
}

func decodeFields(raw []byte) (map[string]string, error) {
	fields := make(map[string]string)
	if len(raw) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}

func encodePrompt(p *core.PendingPrompt) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func decodePrompt(raw []byte) (*core.PendingPrompt, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var p core.PendingPrompt
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode prompt: %w", err)
	}
	return &p, nil
}

func statusStrings(in []core.SessionStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
