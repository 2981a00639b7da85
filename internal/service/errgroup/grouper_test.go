package errgroup

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/plugboard/analytics/internal/domain"
	"github.com/plugboard/analytics/internal/repository"
)

type groupRepoStub struct {
	groups map[string]*domain.ErrorGroup
}

func newGroupRepoStub() *groupRepoStub {
	return &groupRepoStub{groups: make(map[string]*domain.ErrorGroup)}
}

func (s *groupRepoStub) key(componentID, fingerprint string) string {
	return componentID + "/" + fingerprint
}

func (s *groupRepoStub) UpsertOccurrence(_ context.Context, occ domain.ErrorOccurrence) (*domain.ErrorGroup, error) {
	key := s.key(occ.ComponentID, occ.Fingerprint)
	if existing, ok := s.groups[key]; ok {
		existing.ApplyOccurrence(occ)
		copied := *existing
		return &copied, nil
	}
	group := domain.NewErrorGroup("group-"+occ.Fingerprint, occ)
	s.groups[key] = &group
	copied := group
	return &copied, nil
}

func (s *groupRepoStub) GetErrorGroup(_ context.Context, componentID, fingerprint string) (*domain.ErrorGroup, error) {
	if group, ok := s.groups[s.key(componentID, fingerprint)]; ok {
		copied := *group
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (s *groupRepoStub) ListErrorGroups(_ context.Context, componentID, status, priority string, _, _ int) ([]domain.ErrorGroup, error) {
	out := make([]domain.ErrorGroup, 0)
	for _, group := range s.groups {
		if group.ComponentID != componentID {
			continue
		}
		if status != "" && string(group.Status) != status {
			continue
		}
		if priority != "" && string(group.Priority) != priority {
			continue
		}
		out = append(out, *group)
	}
	return out, nil
}

func (s *groupRepoStub) UpdateErrorGroup(_ context.Context, update domain.ErrorGroupUpdate) (*domain.ErrorGroup, error) {
	group, ok := s.groups[s.key(update.ComponentID, update.Fingerprint)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if update.Status != nil {
		group.Status = *update.Status
	}
	if update.Priority != nil {
		group.Priority = *update.Priority
	}
	if update.AssignedTo != nil {
		group.AssignedTo = update.AssignedTo
	}
	if update.ResolutionNotes != nil {
		group.ResolutionNotes = update.ResolutionNotes
	}
	copied := *group
	return &copied, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIngestCreatesThenIncrements(t *testing.T) {
	repo := newGroupRepoStub()
	svc := New(repo, testLogger())
	base := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	event := domain.ErrorEvent{
		ComponentID: "comp-1",
		VersionID:   "v1",
		SiteID:      "site-1",
		Type:        "TypeError",
		Name:        "undefined_read",
		Message:     "cannot read property of undefined",
		Stack:       "at render (widget.js:10:5)",
		OccurredAt:  base,
	}

	first, err := svc.Ingest(context.Background(), event)
	if err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	if first.Occurrences != 1 {
		t.Fatalf("expected count 1, got %d", first.Occurrences)
	}
	if first.Status != domain.ErrorGroupOpen {
		t.Fatalf("expected new group to be open, got %s", first.Status)
	}

	event.OccurredAt = base.Add(time.Minute)
	event.Stack = "at render (widget.js:99:2)"
	event.VersionID = "v2"
	second, err := svc.Ingest(context.Background(), event)
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if second.Fingerprint != first.Fingerprint {
		t.Fatalf("expected stable fingerprint, got %s and %s", first.Fingerprint, second.Fingerprint)
	}
	if second.Occurrences != 2 {
		t.Fatalf("expected count 2, got %d", second.Occurrences)
	}
	if !second.LastSeen.Equal(base.Add(time.Minute)) {
		t.Fatalf("expected last seen to advance, got %s", second.LastSeen)
	}
	if len(second.AffectedVersions) != 2 {
		t.Fatalf("expected both versions recorded, got %v", second.AffectedVersions)
	}
}

func TestIngestReopensResolvedGroup(t *testing.T) {
	repo := newGroupRepoStub()
	svc := New(repo, testLogger())
	base := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	event := domain.ErrorEvent{
		ComponentID: "comp-1",
		Type:        "Error",
		Name:        "boom",
		OccurredAt:  base,
	}
	group, err := svc.Ingest(context.Background(), event)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	resolved := domain.ErrorGroupResolved
	if _, err := svc.Update(context.Background(), domain.ErrorGroupUpdate{
		ComponentID: group.ComponentID,
		Fingerprint: group.Fingerprint,
		Status:      &resolved,
	}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	event.OccurredAt = base.Add(time.Hour)
	reopened, err := svc.Ingest(context.Background(), event)
	if err != nil {
		t.Fatalf("recurrence ingest failed: %v", err)
	}
	if reopened.Status != domain.ErrorGroupOpen {
		t.Fatalf("expected resolved group to reopen, got %s", reopened.Status)
	}
}

func TestIngestKeepsIgnoredGroupIgnored(t *testing.T) {
	repo := newGroupRepoStub()
	svc := New(repo, testLogger())
	base := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	event := domain.ErrorEvent{
		ComponentID: "comp-1",
		Type:        "Error",
		Name:        "noisy",
		OccurredAt:  base,
	}
	group, err := svc.Ingest(context.Background(), event)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	ignored := domain.ErrorGroupIgnored
	if _, err := svc.Update(context.Background(), domain.ErrorGroupUpdate{
		ComponentID: group.ComponentID,
		Fingerprint: group.Fingerprint,
		Status:      &ignored,
	}); err != nil {
		t.Fatalf("ignore failed: %v", err)
	}

	event.OccurredAt = base.Add(time.Hour)
	after, err := svc.Ingest(context.Background(), event)
	if err != nil {
		t.Fatalf("recurrence ingest failed: %v", err)
	}
	if after.Status != domain.ErrorGroupIgnored {
		t.Fatalf("expected ignored group to stay ignored, got %s", after.Status)
	}
	if after.Occurrences != 2 {
		t.Fatalf("expected count to keep growing, got %d", after.Occurrences)
	}
}

func TestIngestMissingStackStillGroups(t *testing.T) {
	repo := newGroupRepoStub()
	svc := New(repo, testLogger())

	event := domain.ErrorEvent{
		ComponentID: "comp-1",
		Type:        "Error",
		Name:        "boom",
	}
	first, err := svc.Ingest(context.Background(), event)
	if err != nil {
		t.Fatalf("ingest without stack failed: %v", err)
	}
	second, err := svc.Ingest(context.Background(), event)
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if first.Fingerprint != second.Fingerprint {
		t.Fatalf("expected stackless errors to group together")
	}
}

func TestUpdateRejectsUnknownStatus(t *testing.T) {
	svc := New(newGroupRepoStub(), testLogger())
	bad := domain.ErrorGroupStatus("archived")
	if _, err := svc.Update(context.Background(), domain.ErrorGroupUpdate{
		ComponentID: "comp-1",
		Fingerprint: "fp",
		Status:      &bad,
	}); err == nil {
		t.Fatalf("expected unknown status to be rejected")
	}
}
