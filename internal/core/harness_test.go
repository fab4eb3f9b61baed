package core_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/Reconcile/internal/catalog"
	"github.com/JonMunkholm/Reconcile/internal/core"
	_ "github.com/JonMunkholm/Reconcile/internal/flavors"
	"github.com/JonMunkholm/Reconcile/internal/store"
)

const testOwner = "owner-1"

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyStore fails target writes while failInsert is set. With loseRace set,
// InsertEntity first stores a bare copy of the entity (no member fields, new
// id) as a concurrent writer would, then reports ErrAlreadyExists.
type flakyStore struct {
	core.Store
	failInsert atomic.Bool
	loseRace   atomic.Bool
	rivalID    uuid.UUID
}

func (f *flakyStore) InsertEntity(ctx context.Context, e *core.Entity) error {
	if f.failInsert.Load() {
		return errors.New("target catalog offline")
	}
	if f.loseRace.Load() {
		rival := *e
		rival.ID = uuid.New()
		rival.Members = make([]core.EntityMember, len(e.Members))
		for i, m := range e.Members {
			m.Fields = nil
			rival.Members[i] = m
		}
		if err := f.Store.InsertEntity(ctx, &rival); err != nil {
			return err
		}
		f.rivalID = rival.ID
		return core.ErrAlreadyExists
	}
	return f.Store.InsertEntity(ctx, e)
}

// downCatalog fails every lookup.
type downCatalog struct{}

func (downCatalog) Search(context.Context, string, int) ([]core.Candidate, error) {
	return nil, errors.New("connection refused")
}

func (downCatalog) Get(context.Context, string) (*core.Candidate, error) {
	return nil, errors.New("connection refused")
}

type harness struct {
	t       *testing.T
	path    string
	store   *flakyStore
	catalog core.Catalog
	clock   *fakeClock
	cfg     core.ServiceConfig
	svc     *core.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cat, err := catalog.LoadStatic("../catalog/testdata/snapshot.yaml")
	require.NoError(t, err)

	h := &harness{
		t:       t,
		path:    filepath.Join(t.TempDir(), "engine.db"),
		catalog: cat,
		clock:   newFakeClock(),
		cfg: core.ServiceConfig{
			PromptTimeout: 10 * time.Minute,
			RunWait:       time.Second,
		},
	}
	h.open()
	return h
}

// open (re)connects to the database file and builds a fresh service, as a
// restarted process would.
func (h *harness) open() {
	h.t.Helper()
	st, err := store.OpenSQLite(context.Background(), h.path)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { st.Close() })

	h.store = &flakyStore{Store: st}
	h.svc = core.NewService(h.store, h.catalog, h.cfg, core.WithClock(h.clock.Now))
}

func (h *harness) restart() {
	h.t.Helper()
	require.NoError(h.t, h.store.Close())
	h.open()
}

func (h *harness) start(flavor, csv string) (*core.StartResult, error) {
	return h.svc.Start(context.Background(), core.StartRequest{
		OwnerID:    testOwner,
		Flavor:     flavor,
		SourceName: flavor + ".csv",
		Body:       strings.NewReader(csv),
	})
}

func (h *harness) mustStart(flavor, csv string) *core.StartResult {
	h.t.Helper()
	res, err := h.start(flavor, csv)
	require.NoError(h.t, err)
	require.NotNil(h.t, res.Session)
	return res
}

func (h *harness) respond(token string, action core.ResponseAction, value string) (core.Outcome, error) {
	return h.svc.Respond(context.Background(), testOwner, core.Response{Token: token, Action: action, Value: value})
}

func (h *harness) items(importID uuid.UUID) []*core.Item {
	h.t.Helper()
	items, err := h.svc.Items(context.Background(), importID)
	require.NoError(h.t, err)
	return items
}

func (h *harness) session(importID uuid.UUID) *core.Session {
	h.t.Helper()
	view, err := h.svc.SessionStatus(context.Background(), importID)
	require.NoError(h.t, err)
	return view.Session
}

func (h *harness) entity(flavor, groupKey string) *core.Entity {
	h.t.Helper()
	e, err := h.store.FindEntity(context.Background(), core.EntityKey{OwnerID: testOwner, Flavor: flavor, GroupKey: groupKey})
	require.NoError(h.t, err)
	return e
}
