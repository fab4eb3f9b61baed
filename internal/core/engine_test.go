package core_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/Reconcile/internal/core"
)

func TestStart_AutoMatchesExactTitles(t *testing.T) {
	h := newHarness(t)
	res := h.mustStart("games", "Title,Platform,Ownership\nChrono Trigger,SNES,owned\nceleste,PC,wishlist\nHades,,\n")

	assert.Equal(t, core.RunCompleted, res.Outcome.State)
	assert.Equal(t, 3, res.Outcome.Dispatched)
	assert.Equal(t, core.SessionCompleted, res.Session.Status)
	assert.Equal(t, 2, res.Session.CurrentIndex)
	assert.Equal(t, 3, res.Report.Accepted)

	items := h.items(res.Session.ID)
	require.Len(t, items, 3)
	for _, it := range items {
		assert.Equal(t, core.ItemAdded, it.Status, it.Subject)
		assert.Equal(t, core.ConfidenceExact, it.Confidence)
		assert.Equal(t, core.ReasonEntityCreated, it.ResultReason)
	}
	assert.Equal(t, "hades-2020", items[2].CatalogID)

	ent := h.entity("games", core.ResolvedGroupKey("ct-1995"))
	assert.Equal(t, "Chrono Trigger", ent.Label)
	require.Len(t, ent.Members, 1)
	assert.Equal(t, "SNES", ent.Members[0].Fields["platform"])
	assert.Equal(t, "owned", ent.Members[0].Fields["ownership_type"])

	trail, err := h.svc.AuditTrail(context.Background(), res.Session.ID)
	require.NoError(t, err)
	require.NotEmpty(t, trail)
	assert.Equal(t, core.ActionSessionStart, trail[0].Action)
	assert.Equal(t, core.ActionSessionComplete, trail[len(trail)-1].Action)
}

func TestStart_ValidationExcludesRows(t *testing.T) {
	h := newHarness(t)
	csv := "title,platform,ownership_type,igdb_id,steam_app_id\n" +
		"Celeste,PC,owned,,\n" +
		"Hades,PC,stolen,,\n" +
		"Hades II,PC,owned,1,2\n"
	res := h.mustStart("games", csv)

	assert.Equal(t, 1, res.Report.Accepted)
	assert.Equal(t, 2, res.Report.RejectedRows())
	assert.Equal(t, 1, res.Session.TotalCount)

	items := h.items(res.Session.ID)
	require.Len(t, items, 1)
	assert.Equal(t, "Celeste", items[0].Subject)
	assert.Equal(t, 0, items[0].RowIndex)
}

func TestStart_NothingStoredOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		wantErr error
	}{
		{name: "every row rejected", csv: "title,ownership_type\nHades,stolen\n,owned\n", wantErr: core.ErrNoAcceptedRows},
		{name: "missing required column", csv: "platform\nPC\n"},
		{name: "unterminated quote", csv: "title\n\"Chrono Trigger\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			res, err := h.start("games", tt.csv)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				require.NotNil(t, res)
				assert.Nil(t, res.Session)
			} else {
				var perr *core.ParseError
				assert.ErrorAs(t, err, &perr)
			}

			_, err = h.svc.Status(context.Background(), testOwner)
			assert.ErrorIs(t, err, core.ErrNoActiveSession)
		})
	}
}

func TestStart_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.start("movies", "title\nAlien\n")
	assert.ErrorIs(t, err, core.ErrUnknownFlavor)

	_, err = h.svc.Start(ctx, core.StartRequest{Flavor: "games", Body: strings.NewReader("title\nHades\n")})
	assert.ErrorContains(t, err, "owner id is required")

	small := newHarness(t)
	small.cfg.MaxFileSize = 16
	small.restart()
	_, err = small.start("games", "title\nChrono Trigger\nCeleste\n")
	assert.ErrorIs(t, err, core.ErrFileTooLarge)
}

func TestStart_OneOpenSessionPerOwner(t *testing.T) {
	h := newHarness(t)
	res := h.mustStart("games", "title\nChrono\n")
	require.Equal(t, core.RunSuspended, res.Outcome.State)

	_, err := h.start("games", "title\nCeleste\n")
	assert.ErrorIs(t, err, core.ErrActiveSessionExists)

	_, err = h.svc.Pause(context.Background(), testOwner)
	require.NoError(t, err)
	_, err = h.start("games", "title\nCeleste\n")
	assert.ErrorIs(t, err, core.ErrActiveSessionExists, "a paused session still counts")

	_, err = h.svc.Cancel(context.Background(), testOwner, false)
	require.NoError(t, err)
	h.mustStart("games", "title\nCeleste\n")
}

func TestPrompt_ChooseCandidate(t *testing.T) {
	h := newHarness(t)
	res := h.mustStart("games", "title\nChrono\n")

	require.Equal(t, core.RunSuspended, res.Outcome.State)
	p := res.Outcome.Prompt
	require.NotNil(t, p)
	assert.Equal(t, core.PromptChoose, p.Kind)
	assert.Equal(t, "Chrono", p.Subject)
	require.Len(t, p.Candidates, 2)
	assert.Equal(t, h.clock.Now().Add(10*time.Minute), p.ExpiresAt)

	sess, pending, err := h.svc.Prompt(context.Background(), testOwner)
	require.NoError(t, err)
	assert.Equal(t, res.Session.ID, sess.ID)
	assert.Equal(t, p.Token, pending.Token)
	assert.Equal(t, 0, sess.CurrentIndex)

	out, err := h.respond(p.Token, core.ActionChoose, "ct-1995")
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, out.State)

	items := h.items(res.Session.ID)
	assert.Equal(t, core.ItemAdded, items[0].Status)
	assert.Equal(t, core.ConfidenceManual, items[0].Confidence)
	assert.Equal(t, "Chrono Trigger", items[0].CatalogTitle)

	_, err = h.respond(p.Token, core.ActionChoose, "ct-1995")
	assert.ErrorIs(t, err, core.ErrSessionNotActive, "answering twice")
}

func TestPrompt_ManualIDNotFoundReprompts(t *testing.T) {
	h := newHarness(t)
	res := h.mustStart("games", "title\nChrono\n")
	p := res.Outcome.Prompt
	require.NotNil(t, p)

	out, err := h.respond(p.Token, core.ActionManualID, "nope-404")
	require.NoError(t, err)
	assert.Equal(t, core.RunSuspended, out.State)
	require.NotNil(t, out.Prompt)
	assert.Equal(t, p.Token, out.Prompt.Token)
	assert.Equal(t, `No catalog entry has id "nope-404".`, out.Prompt.Message)
	assert.Equal(t, p.Candidates, out.Prompt.Candidates)

	out, err = h.respond(p.Token, core.ActionManualID, "steam:613830")
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, out.State)
	assert.Equal(t, "ct-1995", h.items(res.Session.ID)[0].CatalogID)
}

func TestPrompt_RequeryFreeText(t *testing.T) {
	h := newHarness(t)
	res := h.mustStart("games", "title\nZelda\n")
	p := res.Outcome.Prompt
	require.NotNil(t, p)
	assert.Equal(t, core.PromptFreeText, p.Kind)
	assert.Empty(t, p.Candidates)
	assert.Contains(t, p.Message, `"Zelda"`)

	out, err := h.respond(p.Token, core.ActionRequery, "Metroid")
	require.NoError(t, err)
	assert.Equal(t, core.RunSuspended, out.State)
	assert.Equal(t, `No catalog entries matched "Metroid".`, out.Prompt.Message)

	out, err = h.respond(p.Token, core.ActionRequery, "Pokemon")
	require.NoError(t, err)
	assert.Equal(t, core.RunSuspended, out.State)
	assert.Equal(t, core.PromptChoose, out.Prompt.Kind)
	assert.Len(t, out.Prompt.Candidates, 2)

	out, err = h.respond(p.Token, core.ActionRequery, "pokemon red")
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, out.State)

	it := h.items(res.Session.ID)[0]
	assert.Equal(t, "pokemon-red-1996", it.CatalogID)
	assert.Equal(t, core.ConfidenceFuzzy, it.Confidence)
	assert.Equal(t, core.ItemAdded, it.Status)
}

func TestPrompt_Skip(t *testing.T) {
	h := newHarness(t)
	res := h.mustStart("games", "title\nZelda\nCeleste\n")
	p := res.Outcome.Prompt
	require.NotNil(t, p)

	out, err := h.respond(p.Token, core.ActionSkip, "not in catalog yet")
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, out.State)

	items := h.items(res.Session.ID)
	assert.Equal(t, core.ItemSkipped, items[0].Status)
	assert.Equal(t, core.ReasonOperatorSkipped, items[0].ResultReason)
	assert.Equal(t, "not in catalog yet", items[0].ErrorText)
	assert.Equal(t, core.ItemAdded, items[1].Status)
}

func TestPrompt_RejectedResponses(t *testing.T) {
	h := newHarness(t)
	res := h.mustStart("games", "title\nChrono\nHades\n")
	p := res.Outcome.Prompt
	require.NotNil(t, p)

	_, err := h.respond(p.Token, core.ActionChoose, "")
	assert.ErrorIs(t, err, core.ErrInvalidResponse)

	_, err = h.respond(p.Token, "shrug", "x")
	assert.ErrorIs(t, err, core.ErrInvalidResponse)

	_, err = h.respond("garbage", core.ActionSkip, "")
	assert.ErrorIs(t, err, core.ErrInvalidToken)

	items := h.items(res.Session.ID)
	stale := core.EncodeToken(res.Session.ID, items[1].ID)
	_, err = h.respond(stale, core.ActionSkip, "")
	assert.ErrorIs(t, err, core.ErrStalePrompt)

	_, err = h.svc.Respond(context.Background(), "someone-else", core.Response{Token: p.Token, Action: core.ActionSkip})
	assert.ErrorIs(t, err, core.ErrInvalidToken)

	// The prompt survives every rejected answer.
	_, pending, err := h.svc.Prompt(context.Background(), testOwner)
	require.NoError(t, err)
	assert.Equal(t, p.Token, pending.Token)
}

func TestPrompt_ExpiryPausesSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.mustStart("games", "title\nChrono\n")
	p := res.Outcome.Prompt
	require.NotNil(t, p)

	n, err := h.svc.ExpirePrompts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(11 * time.Minute)
	n, err = h.svc.ExpirePrompts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sess := h.session(res.Session.ID)
	assert.Equal(t, core.SessionPaused, sess.Status)
	assert.Nil(t, sess.Prompt)
	assert.Equal(t, core.ItemPending, h.items(res.Session.ID)[0].Status)

	_, err = h.respond(p.Token, core.ActionChoose, "ct-1995")
	assert.ErrorIs(t, err, core.ErrSessionNotActive)

	out, err := h.svc.Resume(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, core.RunSuspended, out.State)
	require.NotNil(t, out.Prompt)
	assert.Equal(t, p.ItemID, out.Prompt.ItemID)
	assert.True(t, out.Prompt.ExpiresAt.After(h.clock.Now()))
}

func TestPrompt_ExpiryKeepsReplacedPrompt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.mustStart("games", "title\nChrono\n")
	p := res.Outcome.Prompt
	require.NotNil(t, p)

	h.clock.Advance(11 * time.Minute)
	expired, err := h.store.ExpiredPrompts(ctx, h.clock.Now())
	require.NoError(t, err)
	require.Len(t, expired, 1)

	// The operator is prompted again before the sweeper acts on its scan.
	fresh := *p
	fresh.ExpiresAt = h.clock.Now().Add(10 * time.Minute)
	require.NoError(t, h.store.SetPrompt(ctx, res.Session.ID, &fresh))

	paused, err := h.svc.Driver().Expire(ctx, expired[0])
	require.NoError(t, err)
	assert.False(t, paused)

	sess := h.session(res.Session.ID)
	assert.Equal(t, core.SessionActive, sess.Status)
	require.NotNil(t, sess.Prompt)
	assert.True(t, fresh.ExpiresAt.Equal(sess.Prompt.ExpiresAt))

	out, err := h.respond(p.Token, core.ActionChoose, "ct-1995")
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, out.State)
}

func TestPrompt_LateAnswerExpiresEagerly(t *testing.T) {
	h := newHarness(t)
	res := h.mustStart("games", "title\nChrono\n")
	p := res.Outcome.Prompt
	require.NotNil(t, p)

	h.clock.Advance(time.Hour)
	out, err := h.respond(p.Token, core.ActionChoose, "ct-1995")
	assert.ErrorIs(t, err, core.ErrPromptExpired)
	assert.Equal(t, core.SessionPaused, out.Status)

	sess := h.session(res.Session.ID)
	assert.Equal(t, core.SessionPaused, sess.Status)
	assert.Equal(t, core.ItemPending, h.items(res.Session.ID)[0].Status)
}

func TestPauseResume_SurvivesRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.mustStart("games", "title\nChrono Trigger\nChrono\nCeleste\n")
	importID := res.Session.ID
	require.Equal(t, core.RunSuspended, res.Outcome.State)
	assert.Equal(t, 1, res.Session.CurrentIndex)

	paused, err := h.svc.Pause(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, core.SessionPaused, paused.Status)
	assert.Nil(t, paused.Prompt)

	_, err = h.svc.Pause(ctx, testOwner)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	h.restart()

	view, err := h.svc.Status(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, importID, view.Session.ID)
	assert.Equal(t, 1, view.Counts[core.ItemAdded])
	assert.Equal(t, 2, view.Counts[core.ItemPending])
	assert.Equal(t, 33, view.Percent)

	out, err := h.svc.Resume(ctx, testOwner)
	require.NoError(t, err)
	require.Equal(t, core.RunSuspended, out.State)
	assert.Equal(t, 1, out.Prompt.RowIndex)
	assert.Equal(t, 1, h.session(importID).CurrentIndex)

	out, err = h.respond(out.Prompt.Token, core.ActionChoose, "cc-1999")
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, out.State)

	sess := h.session(importID)
	assert.Equal(t, core.SessionCompleted, sess.Status)
	assert.Equal(t, 2, sess.CurrentIndex)
	for _, it := range h.items(importID) {
		assert.Equal(t, core.ItemAdded, it.Status, it.Subject)
	}

	_, err = h.svc.Resume(ctx, testOwner)
	assert.ErrorIs(t, err, core.ErrNoActiveSession)
}

func TestCancel_Purge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.mustStart("games", "title\nChrono\nCeleste\n")
	p := res.Outcome.Prompt
	require.NotNil(t, p)

	sess, err := h.svc.Cancel(ctx, testOwner, true)
	require.NoError(t, err)
	assert.Equal(t, core.SessionCanceled, sess.Status)
	assert.Nil(t, sess.Prompt)
	assert.Empty(t, h.items(res.Session.ID))

	_, err = h.respond(p.Token, core.ActionSkip, "")
	assert.ErrorIs(t, err, core.ErrSessionNotActive)

	_, err = h.svc.Cancel(ctx, testOwner, false)
	assert.ErrorIs(t, err, core.ErrNoActiveSession)
}

func TestMatchFailures(t *testing.T) {
	h := newHarness(t)
	res := h.mustStart("games", "title,igdb_id\nSomething Else,1234\nChrono Trigger,999999\n")
	require.Equal(t, core.RunCompleted, res.Outcome.State)

	items := h.items(res.Session.ID)
	assert.Equal(t, core.ItemAdded, items[0].Status)
	assert.Equal(t, "ct-1995", items[0].CatalogID, "a pre-supplied id wins over the title")
	assert.Equal(t, core.ItemFailed, items[1].Status)
	assert.Equal(t, core.ReasonCandidateNotFound, items[1].ResultReason)
	assert.Contains(t, items[1].ErrorText, "igdb:999999")

	down := newHarness(t)
	down.catalog = downCatalog{}
	down.restart()
	res = down.mustStart("games", "title\nCeleste\n")
	require.Equal(t, core.RunCompleted, res.Outcome.State)
	it := down.items(res.Session.ID)[0]
	assert.Equal(t, core.ItemFailed, it.Status)
	assert.Equal(t, core.ReasonCatalogDown, it.ResultReason)
}

func TestGroups_CommitWhenComplete(t *testing.T) {
	h := newHarness(t)
	csv := "round,kind,label,title,position\n" +
		"3,main,March,Chrono Cross,2\n" +
		"3,main,March,Chrono,1\n" +
		"4,,April,Celeste,1\n"
	res := h.mustStart("history", csv)
	importID := res.Session.ID
	require.Equal(t, core.RunSuspended, res.Outcome.State)

	items := h.items(importID)
	assert.Equal(t, "3:main", items[0].GroupKey)
	assert.Equal(t, core.ItemImported, items[0].Status, "waits for the rest of its group")
	assert.Equal(t, "4:main", items[2].GroupKey)

	_, err := h.store.FindEntity(context.Background(), core.EntityKey{OwnerID: testOwner, Flavor: "history", GroupKey: "3:main"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	out, err := h.respond(res.Outcome.Prompt.Token, core.ActionChoose, "ct-1995")
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, out.State)

	for _, it := range h.items(importID) {
		assert.Equal(t, core.ItemAdded, it.Status, it.Subject)
	}

	march := h.entity("history", "3:main")
	assert.Equal(t, "March", march.Label)
	require.Len(t, march.Members, 2)
	assert.Equal(t, "ct-1995", march.Members[0].CatalogID, "ordered by position")
	assert.Equal(t, 1, march.Members[0].Position)
	assert.Equal(t, "cc-1999", march.Members[1].CatalogID)

	april := h.entity("history", "4:main")
	assert.Equal(t, "April", april.Label)
}

func TestGroups_SharedFieldMismatch(t *testing.T) {
	h := newHarness(t)
	csv := "round,label,title\n" +
		"5,May,Celeste\n" +
		"5,Mya,Hades\n"
	res := h.mustStart("history", csv)
	require.Equal(t, core.RunCompleted, res.Outcome.State)

	for _, it := range h.items(res.Session.ID) {
		assert.Equal(t, core.ItemFailed, it.Status)
		assert.Equal(t, core.ReasonGroupMismatch, it.ResultReason)
		assert.Contains(t, it.ErrorText, `"May"`)
		assert.Contains(t, it.ErrorText, `"Mya"`)
	}
	_, err := h.store.FindEntity(context.Background(), core.EntityKey{OwnerID: testOwner, Flavor: "history", GroupKey: "5:main"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestGroups_LabelMismatchWithCommittedEntity(t *testing.T) {
	h := newHarness(t)
	key := core.EntityKey{OwnerID: testOwner, Flavor: "history", GroupKey: "12:main"}

	first := h.mustStart("history", "round,label,title\n"+
		"12,March 2024,Celeste\n"+
		"12,March 2024,Chrono Cross\n")
	require.Equal(t, core.RunCompleted, first.Outcome.State)
	ent := h.entity("history", "12:main")
	require.Len(t, ent.Members, 2)

	second := h.mustStart("history", "round,label,title\n12,April 2024,Chrono Trigger\n")
	require.Equal(t, core.RunCompleted, second.Outcome.State)

	it := h.items(second.Session.ID)[0]
	assert.Equal(t, core.ItemFailed, it.Status)
	assert.Equal(t, core.ReasonGroupMismatch, it.ResultReason)
	assert.Contains(t, it.ErrorText, "mismatched group fields")
	assert.Contains(t, it.ErrorText, `"March 2024"`)
	assert.Contains(t, it.ErrorText, `"April 2024"`)

	after, err := h.store.FindEntity(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, ent.ID, after.ID)
	assert.Equal(t, "March 2024", after.Label)
	assert.Len(t, after.Members, 2, "no member is written for a mismatched group")
}

func TestGroups_NormalizedCollectionNames(t *testing.T) {
	h := newHarness(t)
	csv := "collection,title,rank\n" +
		"Top RPGs!,Chrono Trigger,1\n" +
		"top rpgs,Chrono Cross,2\n"
	res := h.mustStart("collections", csv)
	require.Equal(t, core.RunCompleted, res.Outcome.State)

	items := h.items(res.Session.ID)
	assert.Equal(t, items[0].GroupKey, items[1].GroupKey)
	for _, it := range items {
		assert.Equal(t, core.ReasonGroupMismatch, it.ResultReason)
	}
}

func TestGroups_SkippedMemberBlocksCommit(t *testing.T) {
	h := newHarness(t)
	csv := "round,label,title\n" +
		"6,June,Celeste\n" +
		"6,June,Zelda\n"
	res := h.mustStart("history", csv)
	require.Equal(t, core.RunSuspended, res.Outcome.State)

	out, err := h.respond(res.Outcome.Prompt.Token, core.ActionSkip, "")
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, out.State)

	items := h.items(res.Session.ID)
	assert.Equal(t, core.ItemFailed, items[0].Status)
	assert.Equal(t, core.ReasonGroupIncomplete, items[0].ResultReason)
	assert.Contains(t, items[0].ErrorText, "row 1")
	assert.Equal(t, core.ItemSkipped, items[1].Status)
}

func TestCommit_IdempotentAndRepairs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.mustStart("games", "title,platform\nChrono Trigger,SNES\n")
	require.Equal(t, core.RunCompleted, first.Outcome.State)
	ent := h.entity("games", core.ResolvedGroupKey("ct-1995"))
	assert.Empty(t, ent.Members[0].Fields["note"])

	// Committing a finished group again writes nothing.
	out, err := h.svc.Driver().Committer().TryCommitGroup(ctx, first.Session, core.ResolvedGroupKey("ct-1995"))
	require.NoError(t, err)
	assert.Equal(t, core.CommitUnchanged, out.Status)
	assert.Equal(t, ent.ID, out.EntityID)

	second := h.mustStart("games", "title,platform,note\nChrono Trigger,PlayStation,favorite\n")
	require.Equal(t, core.RunCompleted, second.Outcome.State)
	it := h.items(second.Session.ID)[0]
	assert.Equal(t, core.ItemUpdated, it.Status)
	assert.Equal(t, core.ReasonEntityRepaired, it.ResultReason)

	repaired := h.entity("games", core.ResolvedGroupKey("ct-1995"))
	assert.Equal(t, ent.ID, repaired.ID)
	require.Len(t, repaired.Members, 1)
	assert.Equal(t, "SNES", repaired.Members[0].Fields["platform"], "populated values are kept")
	assert.Equal(t, "favorite", repaired.Members[0].Fields["note"])

	third := h.mustStart("games", "title,note\nChrono Trigger,favorite\n")
	require.Equal(t, core.RunCompleted, third.Outcome.State)
	it = h.items(third.Session.ID)[0]
	assert.Equal(t, core.ItemImported, it.Status)
	assert.Equal(t, core.ReasonAlreadyPresent, it.ResultReason)
}

func TestCommit_LostInsertRaceRepairs(t *testing.T) {
	h := newHarness(t)
	h.store.loseRace.Store(true)

	res := h.mustStart("games", "title,platform\nCeleste,PC\n")
	require.Equal(t, core.RunCompleted, res.Outcome.State)

	it := h.items(res.Session.ID)[0]
	assert.Equal(t, core.ItemUpdated, it.Status)
	assert.Equal(t, core.ReasonEntityRepaired, it.ResultReason)
	assert.Empty(t, it.ErrorText)

	ent := h.entity("games", core.ResolvedGroupKey("celeste-2018"))
	assert.Equal(t, h.store.rivalID, ent.ID, "the concurrent writer's entity is kept")
	require.Len(t, ent.Members, 1)
	assert.Equal(t, "PC", ent.Members[0].Fields["platform"])

	again := h.mustStart("games", "title,platform\nCeleste,PC\n")
	require.Equal(t, core.RunCompleted, again.Outcome.State)
	it = h.items(again.Session.ID)[0]
	assert.Equal(t, core.ItemImported, it.Status)
	assert.Equal(t, core.ReasonAlreadyPresent, it.ResultReason)
	assert.Equal(t, ent.ID, h.entity("games", core.ResolvedGroupKey("celeste-2018")).ID)
}

func TestCommit_FailureAndRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.failInsert.Store(true)

	res := h.mustStart("games", "title\nCeleste\nHades\n")
	assert.Equal(t, core.RunCompleted, res.Outcome.State, "commit failures do not stop the session")

	items := h.items(res.Session.ID)
	for _, it := range items {
		assert.Equal(t, core.ItemFailed, it.Status)
		assert.Equal(t, core.ReasonCommitFailed, it.ResultReason)
		assert.Contains(t, it.ErrorText, "target catalog offline")
	}

	out, err := h.svc.RetryGroup(ctx, res.Session.ID, items[0].GroupKey)
	var cerr *core.CommitError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, core.CommitFailed, out.Status)

	h.store.failInsert.Store(false)
	out, err = h.svc.RetryGroup(ctx, res.Session.ID, items[0].GroupKey)
	require.NoError(t, err)
	assert.Equal(t, core.CommitInserted, out.Status)

	items = h.items(res.Session.ID)
	assert.Equal(t, core.ItemAdded, items[0].Status)
	assert.Equal(t, core.ItemFailed, items[1].Status, "other groups are untouched")

	_, err = h.svc.RetryGroup(ctx, res.Session.ID, "catalog:unknown")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAsyncRuns(t *testing.T) {
	h := newHarness(t)
	h.cfg.Async = true
	h.restart()
	ctx := context.Background()

	res := h.mustStart("games", "title\nCeleste\nChrono\n")
	assert.Equal(t, core.RunQueued, res.Outcome.State)

	events, unsubscribe := h.svc.Subscribe(res.Session.ID)
	defer unsubscribe()

	var prompt *core.PendingPrompt
	require.Eventually(t, func() bool {
		_, p, err := h.svc.Prompt(ctx, testOwner)
		prompt = p
		return err == nil && h.svc.LimiterStatus().Sessions == 0
	}, 5*time.Second, 10*time.Millisecond)

	out, err := h.respond(prompt.Token, core.ActionChoose, "cc-1999")
	require.NoError(t, err)
	assert.Equal(t, core.RunQueued, out.State)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Shutdown(shutdownCtx))

	assert.Equal(t, core.SessionCompleted, h.session(res.Session.ID).Status)

	var sawComplete bool
	for done := false; !done; {
		select {
		case e := <-events:
			if e.Kind == core.EventSession && e.Status == string(core.SessionCompleted) {
				sawComplete = true
			}
		default:
			done = true
		}
	}
	assert.True(t, sawComplete)
}
