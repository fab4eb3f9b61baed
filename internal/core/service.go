package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRunTimeout bounds one background run of a session.
const DefaultRunTimeout = 10 * time.Minute

// DefaultMaxFileSize is the source size limit when none is configured.
const DefaultMaxFileSize int64 = 50 << 20

// ServiceConfig holds the import engine settings.
type ServiceConfig struct {
	PromptTimeout     time.Duration // How long a prompt waits before the session pauses
	CandidateLimit    int           // Candidates shown per prompt (max MaxCandidates)
	MaxConcurrentRuns int           // Sessions driven in parallel
	RunWait           time.Duration // Wait for a free run slot before ErrTooManyRuns
	RunTimeout        time.Duration // Upper bound for one background run
	MaxFileSize       int64         // Source size limit in bytes
	Async             bool          // Drive sessions in the background
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.PromptTimeout <= 0 {
		c.PromptTimeout = DefaultPromptTimeout
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = DefaultRunTimeout
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	return c
}

// Service is the command surface of the import engine: start, status, pause,
// resume, cancel, respond and group retry. It serializes work per session and
// bounds concurrent runs.
type Service struct {
	store   Store
	driver  *Driver
	events  *Broadcaster
	limiter *RunLimiter
	audit   auditor
	cfg     ServiceConfig
	now     func() time.Time

	wg sync.WaitGroup
}

// NewService wires the engine over a store and a catalog. Driver options are
// applied after the service's own (prompt timeout, events).
func NewService(st Store, catalog Catalog, cfg ServiceConfig, opts ...DriverOption) *Service {
	cfg = cfg.withDefaults()
	events := NewBroadcaster()

	driverOpts := []DriverOption{
		WithPromptTimeout(cfg.PromptTimeout),
		WithEvents(events),
	}
	driverOpts = append(driverOpts, opts...)
	driver := NewDriver(st, NewMatcher(catalog, cfg.CandidateLimit), driverOpts...)

	return &Service{
		store:   st,
		driver:  driver,
		events:  events,
		limiter: NewRunLimiter(cfg.MaxConcurrentRuns, cfg.RunWait),
		audit:   auditor{store: st},
		cfg:     cfg,
		now:     driver.now,
	}
}

// Driver returns the session driver.
func (s *Service) Driver() *Driver {
	return s.driver
}

// Subscribe returns a channel of progress events for one session.
func (s *Service) Subscribe(importID uuid.UUID) (<-chan Event, func()) {
	return s.events.Subscribe(importID)
}

// LimiterStatus returns the run limiter state for monitoring.
func (s *Service) LimiterStatus() RunLimiterStatus {
	return s.limiter.Status()
}

// Shutdown waits for background runs and for runs started by callers
// (synchronous dispatch, responses, group retries) to release their slots,
// or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for import runs: %w", ctx.Err())
	}
	if err := s.limiter.WaitForDrain(ctx); err != nil {
		return fmt.Errorf("waiting for import runs: %w", err)
	}
	return nil
}

// dispatch drives the session now or in the background.
func (s *Service) dispatch(ctx context.Context, importID uuid.UUID) (Outcome, error) {
	if s.cfg.Async {
		s.launch(importID)
		return Outcome{State: RunQueued, Status: SessionActive}, nil
	}
	return s.advance(ctx, importID)
}

// advance runs the driver while holding the session's worker claim.
func (s *Service) advance(ctx context.Context, importID uuid.UUID) (Outcome, error) {
	release, err := s.limiter.Acquire(ctx, importID)
	if err != nil {
		return Outcome{}, err
	}
	defer release()
	return s.driver.Run(ctx, importID)
}

// launch starts a background run. A session that already has a worker is
// left to it.
func (s *Service) launch(importID uuid.UUID) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in import run",
					"import_id", importID,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
		defer cancel()

		out, err := s.advance(ctx, importID)
		if errors.Is(err, ErrSessionBusy) {
			return
		}
		if err != nil {
			slog.Error("import run failed", "import_id", importID, "error", err)
			return
		}
		slog.Debug("import run stopped",
			"import_id", importID,
			"state", out.State,
			"dispatched", out.Dispatched,
		)
	}()
}
