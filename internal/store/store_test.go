package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/Reconcile/internal/core"
)

func openSQLite(t *testing.T) *SQLite {
	t.Helper()
	st, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLite(t *testing.T) {
	runStoreTests(t, func(t *testing.T) core.Store { return openSQLite(t) })
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("RECONCILE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RECONCILE_TEST_DATABASE_URL not set")
	}
	runStoreTests(t, func(t *testing.T) core.Store {
		st, err := OpenPostgres(context.Background(), Options{Driver: DriverPostgres, URL: dsn})
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		return st
	})
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "oracle"})
	assert.ErrorContains(t, err, "unknown database driver")
}

func TestSQLite_ReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	st, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	s := newSession("owner-reopen")
	require.NoError(t, st.CreateSession(ctx, s))
	require.NoError(t, st.InsertItems(ctx, s.ID, newItems(s.ID, 2, "")))
	require.NoError(t, st.AdvanceCursor(ctx, s.ID, 0))
	require.NoError(t, st.Close())

	st, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer st.Close()

	got, err := st.ActiveSession(ctx, "owner-reopen")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, 0, got.CurrentIndex)

	next, err := st.NextPending(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, next.RowIndex)
}

func newSession(owner string) *core.Session {
	now := time.Now().UTC().Truncate(time.Microsecond)
	size := int64(128)
	return &core.Session{
		ID:           uuid.New(),
		OwnerID:      owner,
		Flavor:       "games",
		Status:       core.SessionActive,
		CurrentIndex: -1,
		TotalCount:   2,
		SourceName:   "games.csv",
		SourceSize:   &size,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func newItems(importID uuid.UUID, n int, groupKey string) []*core.Item {
	items := make([]*core.Item, n)
	for i := range items {
		items[i] = &core.Item{
			ID:        uuid.New(),
			ImportID:  importID,
			RowIndex:  i,
			Subject:   "Title " + string(rune('A'+i)),
			GroupKey:  groupKey,
			Fields:    map[string]string{"title": "Title " + string(rune('A'+i)), "platform": "SNES"},
			Status:    core.ItemPending,
			UpdatedAt: time.Now().UTC(),
		}
	}
	return items
}

func runStoreTests(t *testing.T, open func(t *testing.T) core.Store) {
	t.Run("sessions", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		owner := "owner-" + uuid.NewString()

		_, err := st.ActiveSession(ctx, owner)
		assert.ErrorIs(t, err, core.ErrNotFound)

		s := newSession(owner)
		require.NoError(t, st.CreateSession(ctx, s))
		assert.ErrorIs(t, st.CreateSession(ctx, s), core.ErrAlreadyExists)

		got, err := st.GetSession(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, owner, got.OwnerID)
		assert.Equal(t, core.SessionActive, got.Status)
		assert.Equal(t, -1, got.CurrentIndex)
		require.NotNil(t, got.SourceSize)
		assert.Equal(t, int64(128), *got.SourceSize)
		assert.Nil(t, got.Prompt)
		assert.True(t, s.CreatedAt.Equal(got.CreatedAt))

		active, err := st.ActiveSession(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, s.ID, active.ID)

		_, err = st.GetSession(ctx, uuid.New())
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("cursor is monotonic", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		s := newSession("owner-" + uuid.NewString())
		require.NoError(t, st.CreateSession(ctx, s))

		require.NoError(t, st.AdvanceCursor(ctx, s.ID, 3))
		require.NoError(t, st.AdvanceCursor(ctx, s.ID, 1))
		got, err := st.GetSession(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.CurrentIndex)

		assert.ErrorIs(t, st.AdvanceCursor(ctx, uuid.New(), 1), core.ErrNotFound)
	})

	t.Run("transitions", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		s := newSession("owner-" + uuid.NewString())
		require.NoError(t, st.CreateSession(ctx, s))

		prompt := &core.PendingPrompt{
			Token:     "tok",
			ItemID:    uuid.New(),
			Kind:      core.PromptChoose,
			Subject:   "Chrono",
			ExpiresAt: time.Now().Add(time.Hour).UTC(),
		}
		require.NoError(t, st.SetPrompt(ctx, s.ID, prompt))

		require.NoError(t, st.TransitionSession(ctx, s.ID,
			[]core.SessionStatus{core.SessionActive}, core.SessionPaused))
		got, err := st.GetSession(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, core.SessionPaused, got.Status)
		assert.Nil(t, got.Prompt, "leaving ACTIVE clears the prompt")
		assert.Nil(t, got.PromptExpiresAt)

		err = st.TransitionSession(ctx, s.ID, []core.SessionStatus{core.SessionActive}, core.SessionCompleted)
		assert.ErrorIs(t, err, core.ErrInvalidTransition)

		err = st.TransitionSession(ctx, uuid.New(), []core.SessionStatus{core.SessionActive}, core.SessionPaused)
		assert.ErrorIs(t, err, core.ErrNotFound)

		assert.ErrorIs(t, st.SetPrompt(ctx, s.ID, prompt), core.ErrSessionNotActive)

		require.NoError(t, st.TransitionSession(ctx, s.ID,
			[]core.SessionStatus{core.SessionActive, core.SessionPaused}, core.SessionCanceled))
		_, err = st.ActiveSession(ctx, s.OwnerID)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("prompts", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		s := newSession("owner-" + uuid.NewString())
		require.NoError(t, st.CreateSession(ctx, s))

		expires := time.Now().Add(-time.Minute).UTC().Truncate(time.Microsecond)
		prompt := &core.PendingPrompt{
			Token:      "tok-1",
			ItemID:     uuid.New(),
			RowIndex:   4,
			Kind:       core.PromptChoose,
			Subject:    "Chrono",
			Query:      "Chrono",
			Candidates: []core.Candidate{{ID: "ct-1995", Title: "Chrono Trigger"}, {ID: "cc-1999", Title: "Chrono Cross"}},
			ExpiresAt:  expires,
		}
		require.NoError(t, st.SetPrompt(ctx, s.ID, prompt))

		got, err := st.GetSession(ctx, s.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Prompt)
		assert.Equal(t, "tok-1", got.Prompt.Token)
		assert.Equal(t, prompt.ItemID, got.Prompt.ItemID)
		assert.Len(t, got.Prompt.Candidates, 2)
		require.NotNil(t, got.PromptExpiresAt)
		assert.True(t, expires.Equal(*got.PromptExpiresAt))

		expired, err := st.ExpiredPrompts(ctx, time.Now())
		require.NoError(t, err)
		var ids []uuid.UUID
		for _, e := range expired {
			ids = append(ids, e.ID)
		}
		assert.Contains(t, ids, s.ID)

		require.NoError(t, st.SetPrompt(ctx, s.ID, nil))
		got, err = st.GetSession(ctx, s.ID)
		require.NoError(t, err)
		assert.Nil(t, got.Prompt)

		// A prompt replaced after the expiry scan is not paused.
		fresh := *prompt
		fresh.Token = "tok-2"
		fresh.ExpiresAt = time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
		require.NoError(t, st.SetPrompt(ctx, s.ID, &fresh))
		assert.ErrorIs(t, st.PauseExpired(ctx, s.ID, time.Now()), core.ErrInvalidTransition)
		got, err = st.GetSession(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, core.SessionActive, got.Status)
		require.NotNil(t, got.Prompt)
		assert.Equal(t, "tok-2", got.Prompt.Token)

		require.NoError(t, st.PauseExpired(ctx, s.ID, fresh.ExpiresAt.Add(time.Second)))
		got, err = st.GetSession(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, core.SessionPaused, got.Status)
		assert.Nil(t, got.Prompt)
		assert.ErrorIs(t, st.PauseExpired(ctx, uuid.New(), time.Now()), core.ErrNotFound)

		require.NoError(t, st.TransitionSession(ctx, s.ID,
			[]core.SessionStatus{core.SessionPaused}, core.SessionActive))

		expired, err = st.ExpiredPrompts(ctx, time.Now())
		require.NoError(t, err)
		for _, e := range expired {
			assert.NotEqual(t, s.ID, e.ID)
		}
	})

	t.Run("items", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		s := newSession("owner-" + uuid.NewString())
		require.NoError(t, st.CreateSession(ctx, s))

		items := newItems(s.ID, 3, "march")
		require.NoError(t, st.InsertItems(ctx, s.ID, items))
		require.NoError(t, st.InsertItems(ctx, s.ID, nil))

		dup := newItems(s.ID, 1, "")
		assert.ErrorIs(t, st.InsertItems(ctx, s.ID, dup), core.ErrAlreadyExists, "row index is unique per session")

		next, err := st.NextPending(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, next.RowIndex)
		assert.Equal(t, "SNES", next.Fields["platform"])

		next.Status = core.ItemImported
		next.CatalogID = "ct-1995"
		next.CatalogTitle = "Chrono Trigger"
		next.Confidence = core.ConfidenceExact
		next.ResultReason = core.ReasonAutoMatched
		require.NoError(t, st.UpdateItem(ctx, next))

		got, err := st.GetItem(ctx, next.ID)
		require.NoError(t, err)
		assert.Equal(t, core.ItemImported, got.Status)
		assert.Equal(t, "ct-1995", got.CatalogID)
		assert.Equal(t, core.ConfidenceExact, got.Confidence)

		next, err = st.NextPending(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, next.RowIndex)

		group, err := st.GroupItems(ctx, s.ID, "march")
		require.NoError(t, err)
		require.Len(t, group, 3)
		for _, it := range group[1:] {
			it.Status = core.ItemSkipped
			it.ResultReason = core.ReasonOperatorSkipped
		}
		require.NoError(t, st.UpdateItems(ctx, group[1:]))
		require.NoError(t, st.UpdateItems(ctx, nil))

		_, err = st.NextPending(ctx, s.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)

		counts, err := st.CountByStatus(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[core.ItemImported])
		assert.Equal(t, 2, counts[core.ItemSkipped])
		assert.Equal(t, 100, counts.Percent())

		ghost := &core.Item{ID: uuid.New(), Status: core.ItemFailed}
		assert.ErrorIs(t, st.UpdateItems(ctx, []*core.Item{group[1], ghost}), core.ErrNotFound)

		require.NoError(t, st.DeleteItems(ctx, s.ID))
		all, err := st.ListItems(ctx, s.ID)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("entities", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		key := core.EntityKey{OwnerID: "owner-" + uuid.NewString(), Flavor: "collections", GroupKey: "top rpgs"}

		_, err := st.FindEntity(ctx, key)
		assert.ErrorIs(t, err, core.ErrNotFound)

		e := &core.Entity{
			ID:    uuid.New(),
			Key:   key,
			Label: "",
			Members: []core.EntityMember{
				{Position: 1, CatalogID: "ct-1995", Title: "Chrono Trigger", Fields: map[string]string{"platform": "SNES"}},
				{Position: 2, CatalogID: "cc-1999", Title: "Chrono Cross"},
			},
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, st.InsertEntity(ctx, e))

		again := *e
		again.ID = uuid.New()
		assert.ErrorIs(t, st.InsertEntity(ctx, &again), core.ErrAlreadyExists)

		found, err := st.FindEntity(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, e.ID, found.ID)
		require.Len(t, found.Members, 2)
		assert.Equal(t, "ct-1995", found.Members[0].CatalogID)
		assert.Equal(t, "SNES", found.Members[0].Fields["platform"])

		require.NoError(t, st.RepairEntity(ctx, e.ID, "Top RPGs", []core.EntityMember{
			{Position: 2, CatalogID: "cc-1999", Title: "Chrono Cross", Fields: map[string]string{"platform": "PS1"}},
			{Position: 3, CatalogID: "celeste-2018", Title: "Celeste"},
		}))
		require.NoError(t, st.RepairEntity(ctx, e.ID, "Ignored", nil))

		found, err = st.FindEntity(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "Top RPGs", found.Label, "label is only filled when empty")
		require.Len(t, found.Members, 3)
		assert.Equal(t, "PS1", found.Member("cc-1999").Fields["platform"])
		assert.NotNil(t, found.Member("celeste-2018"))

		assert.ErrorIs(t, st.RepairEntity(ctx, uuid.New(), "x", nil), core.ErrNotFound)
	})

	t.Run("audit", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		importID := uuid.New()
		base := time.Now().UTC()

		for i, action := range []core.AuditAction{core.ActionSessionStart, core.ActionGroupCommit, core.ActionSessionComplete} {
			require.NoError(t, st.AppendAudit(ctx, core.AuditEntry{
				ID:        uuid.New(),
				ImportID:  importID,
				OwnerID:   "owner",
				Action:    action,
				Severity:  core.SeverityLow,
				CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
			}))
		}

		entries, err := st.ListAudit(ctx, importID)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, core.ActionSessionStart, entries[0].Action)
		assert.Equal(t, core.ActionSessionComplete, entries[2].Action)
	})
}
