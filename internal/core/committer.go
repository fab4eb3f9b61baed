package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// CommitStatus describes what TryCommitGroup did.
type CommitStatus string

const (
	CommitWaiting    CommitStatus = "waiting"
	CommitInserted   CommitStatus = "inserted"
	CommitRepaired   CommitStatus = "repaired"
	CommitUnchanged  CommitStatus = "unchanged"
	CommitMismatch   CommitStatus = "mismatch"
	CommitIncomplete CommitStatus = "incomplete"
	CommitFailed     CommitStatus = "failed"
)

// CommitOutcome is the result of one group commit attempt.
type CommitOutcome struct {
	GroupKey string       `json:"groupKey"`
	Status   CommitStatus `json:"status"`
	EntityID uuid.UUID    `json:"entityId,omitempty"`
	Members  int          `json:"members"`
	Changed  int          `json:"changed"`
	Err      error        `json:"-"`
}

// Committer writes fully resolved groups into the target catalog.
type Committer struct {
	items  ItemStore
	target Target
	audit  auditor
	now    func() time.Time
}

// NewCommitter creates a committer. audit may be nil.
func NewCommitter(items ItemStore, target Target, audit AuditStore) *Committer {
	return &Committer{
		items:  items,
		target: target,
		audit:  auditor{store: audit},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// TryCommitGroup commits the group if every member has reached a success
// state. It is safe to call repeatedly: an existing entity is only ever
// link-repaired. A target write failure is returned as *CommitError after the
// members have been marked FAILED; other errors come from the item store.
func (c *Committer) TryCommitGroup(ctx context.Context, s *Session, groupKey string) (CommitOutcome, error) {
	out := CommitOutcome{GroupKey: groupKey, Status: CommitWaiting}
	if groupKey == "" {
		return out, nil
	}

	f, err := Lookup(s.Flavor)
	if err != nil {
		return out, err
	}

	members, err := c.items.GroupItems(ctx, s.ID, groupKey)
	if err != nil {
		return out, fmt.Errorf("load group %q: %w", groupKey, err)
	}
	out.Members = len(members)
	if len(members) == 0 {
		return out, nil
	}

	var blocker *Item
	for _, m := range members {
		if m.Status == ItemPending {
			return out, nil
		}
		if !m.Status.Success() && blocker == nil {
			blocker = m
		}
	}

	if blocker != nil {
		return c.markIncomplete(ctx, s, members, blocker, out)
	}

	if gerr := checkShared(f, groupKey, members); gerr != nil {
		return c.markMismatch(ctx, s, members, gerr, out)
	}

	key := EntityKey{OwnerID: s.OwnerID, Flavor: s.Flavor, GroupKey: groupKey}
	existing, err := c.target.FindEntity(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		ent := buildEntity(key, f, members, c.now())
		err = c.target.InsertEntity(ctx, ent)
		if err == nil {
			return c.markInserted(ctx, s, members, ent, out)
		}
		if !errors.Is(err, ErrAlreadyExists) {
			return c.markCommitFailed(ctx, s, members, err, out)
		}
		// Another writer created the entity first.
		existing, err = c.target.FindEntity(ctx, key)
		if err != nil {
			return c.markCommitFailed(ctx, s, members, err, out)
		}
	case err != nil:
		return c.markCommitFailed(ctx, s, members, err, out)
	}

	return c.repair(ctx, s, f, members, existing, out)
}

// RetryGroup re-opens COMMIT_FAILED members and runs the commit again.
func (c *Committer) RetryGroup(ctx context.Context, s *Session, groupKey string) (CommitOutcome, error) {
	members, err := c.items.GroupItems(ctx, s.ID, groupKey)
	if err != nil {
		return CommitOutcome{GroupKey: groupKey}, fmt.Errorf("load group %q: %w", groupKey, err)
	}
	if len(members) == 0 {
		return CommitOutcome{GroupKey: groupKey}, fmt.Errorf("group %q: %w", groupKey, ErrNotFound)
	}

	var reopened []*Item
	for _, m := range members {
		if m.Status != ItemFailed || m.ResultReason != ReasonCommitFailed {
			continue
		}
		m.Status = ItemImported
		m.ResultReason = ReasonAutoMatched
		if m.Confidence == ConfidenceManual || m.Confidence == ConfidenceFuzzy {
			m.ResultReason = ReasonOperatorChosen
		}
		m.ErrorText = ""
		reopened = append(reopened, m)
	}
	if len(reopened) > 0 {
		if err := c.items.UpdateItems(ctx, reopened); err != nil {
			return CommitOutcome{GroupKey: groupKey}, fmt.Errorf("reopen group %q: %w", groupKey, err)
		}
		c.audit.log(ctx, s, ActionGroupRetry, groupKey, fmt.Sprintf("%d members reopened", len(reopened)))
	}

	return c.TryCommitGroup(ctx, s, groupKey)
}

func (c *Committer) markIncomplete(ctx context.Context, s *Session, members []*Item, blocker *Item, out CommitOutcome) (CommitOutcome, error) {
	out.Status = CommitIncomplete
	diag := fmt.Sprintf("group %q not committed: row %d is %s", out.GroupKey, blocker.RowIndex, blocker.Status)

	var flipped []*Item
	for _, m := range members {
		if m.Status.Success() {
			m.fail(ReasonGroupIncomplete, diag)
			flipped = append(flipped, m)
		}
	}
	if len(flipped) == 0 {
		return out, nil
	}
	if err := c.items.UpdateItems(ctx, flipped); err != nil {
		return out, fmt.Errorf("fail incomplete group %q: %w", out.GroupKey, err)
	}
	out.Changed = len(flipped)
	c.audit.log(ctx, s, ActionGroupFailed, out.GroupKey, diag)
	return out, nil
}

func (c *Committer) markMismatch(ctx context.Context, s *Session, members []*Item, gerr *GroupConsistencyError, out CommitOutcome) (CommitOutcome, error) {
	out.Status = CommitMismatch
	out.Err = gerr
	for _, m := range members {
		m.fail(ReasonGroupMismatch, gerr.Error())
	}
	if err := c.items.UpdateItems(ctx, members); err != nil {
		return out, fmt.Errorf("fail mismatched group %q: %w", out.GroupKey, err)
	}
	out.Changed = len(members)
	c.audit.log(ctx, s, ActionGroupFailed, out.GroupKey, gerr.Error())
	return out, nil
}

func (c *Committer) markInserted(ctx context.Context, s *Session, members []*Item, ent *Entity, out CommitOutcome) (CommitOutcome, error) {
	out.Status = CommitInserted
	out.EntityID = ent.ID

	var changed []*Item
	for _, m := range members {
		if m.Status == ItemImported {
			m.Status = ItemAdded
			m.ResultReason = ReasonEntityCreated
			changed = append(changed, m)
		}
	}
	if err := c.items.UpdateItems(ctx, changed); err != nil {
		return out, fmt.Errorf("mark group %q added: %w", out.GroupKey, err)
	}
	out.Changed = len(changed)
	c.audit.log(ctx, s, ActionGroupCommit, out.GroupKey,
		fmt.Sprintf("entity %s created with %d members", ent.ID, len(ent.Members)))
	return out, nil
}

func (c *Committer) markCommitFailed(ctx context.Context, s *Session, members []*Item, cause error, out CommitOutcome) (CommitOutcome, error) {
	cerr := &CommitError{GroupKey: out.GroupKey, Err: cause}
	out.Status = CommitFailed
	out.Err = cerr

	var failed []*Item
	for _, m := range members {
		if m.Status == ItemImported {
			m.fail(ReasonCommitFailed, cerr.Error())
			failed = append(failed, m)
		}
	}
	if len(failed) > 0 {
		if err := c.items.UpdateItems(ctx, failed); err != nil {
			return out, errors.Join(cerr, fmt.Errorf("mark group %q failed: %w", out.GroupKey, err))
		}
	}
	out.Changed = len(failed)
	c.audit.log(ctx, s, ActionGroupFailed, out.GroupKey, cerr.Error())
	slog.Warn("group commit failed",
		"import_id", s.ID,
		"group_key", out.GroupKey,
		"error", cause,
	)
	return out, cerr
}

// repair fills gaps on an existing entity without touching populated values.
func (c *Committer) repair(ctx context.Context, s *Session, f *Flavor, members []*Item, existing *Entity, out CommitOutcome) (CommitOutcome, error) {
	out.EntityID = existing.ID

	label := ""
	if existing.Label == "" {
		label = groupLabel(f, members)
	} else if want := groupLabel(f, members); f.SharedField != "" && want != existing.Label {
		gerr := &GroupConsistencyError{
			GroupKey: out.GroupKey,
			Field:    f.SharedField,
			Values:   []string{existing.Label, want},
		}
		return c.markMismatch(ctx, s, members, gerr, out)
	}

	var upserts []EntityMember
	contributed := make(map[uuid.UUID]bool)
	pending := make(map[string]int) // catalog id -> index in upserts

	for i, m := range ordered(f, members) {
		want := memberFor(f, m, i+1)

		if idx, ok := pending[m.CatalogID]; ok {
			if fillMember(&upserts[idx], want) {
				contributed[m.ID] = true
			}
			continue
		}

		cur := existing.Member(m.CatalogID)
		if cur == nil {
			pending[m.CatalogID] = len(upserts)
			upserts = append(upserts, want)
			contributed[m.ID] = true
			continue
		}

		merged := cloneMember(*cur)
		if fillMember(&merged, want) {
			pending[m.CatalogID] = len(upserts)
			upserts = append(upserts, merged)
			contributed[m.ID] = true
		}
	}

	if len(upserts) == 0 && label == "" {
		out.Status = CommitUnchanged
		return c.settle(ctx, members, contributed, out)
	}

	if err := c.target.RepairEntity(ctx, existing.ID, label, upserts); err != nil {
		return c.markCommitFailed(ctx, s, members, err, out)
	}
	out.Status = CommitRepaired
	c.audit.log(ctx, s, ActionGroupRepair, out.GroupKey,
		fmt.Sprintf("entity %s: %d members written", existing.ID, len(upserts)))
	return c.settle(ctx, members, contributed, out)
}

// settle records the final status of members still IMPORTED after a repair pass.
func (c *Committer) settle(ctx context.Context, members []*Item, contributed map[uuid.UUID]bool, out CommitOutcome) (CommitOutcome, error) {
	var changed []*Item
	for _, m := range members {
		if m.Status != ItemImported {
			continue
		}
		switch {
		case contributed[m.ID]:
			m.Status = ItemUpdated
			m.ResultReason = ReasonEntityRepaired
		case m.ResultReason != ReasonAlreadyPresent:
			m.ResultReason = ReasonAlreadyPresent
		default:
			continue
		}
		changed = append(changed, m)
	}
	if len(changed) == 0 {
		return out, nil
	}
	if err := c.items.UpdateItems(ctx, changed); err != nil {
		return out, fmt.Errorf("settle group %q: %w", out.GroupKey, err)
	}
	out.Changed = len(changed)
	return out, nil
}

// checkShared verifies members agree on the flavor's shared field.
func checkShared(f *Flavor, groupKey string, members []*Item) *GroupConsistencyError {
	if f.SharedField == "" {
		return nil
	}
	var values []string
	seen := make(map[string]bool)
	for _, m := range members {
		if !seen[m.SharedLabel] {
			seen[m.SharedLabel] = true
			values = append(values, m.SharedLabel)
		}
	}
	if len(values) <= 1 {
		return nil
	}
	return &GroupConsistencyError{GroupKey: groupKey, Field: f.SharedField, Values: values}
}

// buildEntity creates the entity for a group from its ordered members.
// Rows resolving to the same catalog id collapse into one member.
func buildEntity(key EntityKey, f *Flavor, members []*Item, now time.Time) *Entity {
	ent := &Entity{
		ID:        uuid.New(),
		Key:       key,
		Label:     groupLabel(f, members),
		CreatedAt: now,
	}
	index := make(map[string]int)
	for i, m := range ordered(f, members) {
		em := memberFor(f, m, i+1)
		if idx, ok := index[m.CatalogID]; ok {
			fillMember(&ent.Members[idx], em)
			continue
		}
		index[m.CatalogID] = len(ent.Members)
		ent.Members = append(ent.Members, em)
	}
	return ent
}

// ordered sorts members by the flavor's position field, falling back to row order.
func ordered(f *Flavor, members []*Item) []*Item {
	out := make([]*Item, len(members))
	copy(out, members)
	sort.SliceStable(out, func(i, j int) bool {
		pi, iok := position(f, out[i])
		pj, jok := position(f, out[j])
		switch {
		case iok && jok && pi != pj:
			return pi < pj
		case iok != jok:
			return iok
		default:
			return out[i].RowIndex < out[j].RowIndex
		}
	})
	return out
}

func position(f *Flavor, it *Item) (int, bool) {
	if f.PositionField == "" {
		return 0, false
	}
	return ParsePositiveInt(it.Fields[f.PositionField])
}

func memberFor(f *Flavor, it *Item, fallback int) EntityMember {
	pos, ok := position(f, it)
	if !ok {
		pos = fallback
	}
	fields := make(map[string]string, len(f.MemberFields))
	for _, name := range f.MemberFields {
		if v := it.Fields[name]; v != "" {
			fields[name] = v
		}
	}
	return EntityMember{
		Position:  pos,
		CatalogID: it.CatalogID,
		Title:     it.CatalogTitle,
		Fields:    fields,
	}
}

func groupLabel(f *Flavor, members []*Item) string {
	if len(members) == 0 {
		return ""
	}
	if f.SharedField != "" {
		return members[0].SharedLabel
	}
	return members[0].CatalogTitle
}

// fillMember copies values from src into empty slots of dst.
func fillMember(dst *EntityMember, src EntityMember) bool {
	filled := false
	if dst.Title == "" && src.Title != "" {
		dst.Title = src.Title
		filled = true
	}
	if dst.Fields == nil {
		dst.Fields = make(map[string]string)
	}
	for k, v := range src.Fields {
		if v != "" && dst.Fields[k] == "" {
			dst.Fields[k] = v
			filled = true
		}
	}
	return filled
}

func cloneMember(m EntityMember) EntityMember {
	fields := make(map[string]string, len(m.Fields))
	for k, v := range m.Fields {
		fields[k] = v
	}
	m.Fields = fields
	return m
}
