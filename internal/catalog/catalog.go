package catalog

import (
	"errors"
	"log/slog"
	"time"

	"github.com/JonMunkholm/Reconcile/internal/core"
)

// Options selects and tunes a catalog source.
type Options struct {
	BaseURL      string
	SnapshotPath string
	Timeout      time.Duration
	CacheSize    int
	CacheTTL     time.Duration
}

// Open returns the HTTP catalog when BaseURL is set, otherwise the snapshot.
// A positive CacheSize wraps the source in a Cached.
func Open(opts Options) (core.Catalog, error) {
	var (
		src core.Catalog
		err error
	)
	switch {
	case opts.BaseURL != "":
		src, err = NewClient(opts.BaseURL, opts.Timeout)
		slog.Info("catalog configured", "source", "http", "url", opts.BaseURL)
	case opts.SnapshotPath != "":
		var st *Static
		st, err = LoadStatic(opts.SnapshotPath)
		if err == nil {
			src = st
			slog.Info("catalog configured", "source", "snapshot", "path", opts.SnapshotPath, "titles", st.Len())
		}
	default:
		return nil, errors.New("catalog: a base URL or snapshot path is required")
	}
	if err != nil {
		return nil, err
	}

	if opts.CacheSize > 0 {
		return NewCached(src, opts.CacheSize, opts.CacheTTL), nil
	}
	return src, nil
}
