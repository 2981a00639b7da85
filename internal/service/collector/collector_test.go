package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/plugboard/analytics/internal/domain"
)

type eventRepoStub struct {
	mu       sync.Mutex
	inserted [][]domain.Event
	failNext int
}

func (s *eventRepoStub) InsertEvents(_ context.Context, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return errors.New("store unavailable")
	}
	batch := make([]domain.Event, len(events))
	copy(batch, events)
	s.inserted = append(s.inserted, batch)
	return nil
}

func (s *eventRepoStub) ListEventsRange(context.Context, string, time.Time, time.Time) ([]domain.Event, error) {
	return nil, nil
}

func (s *eventRepoStub) ListRecentEvents(context.Context, string, string, int, int) ([]domain.Event, error) {
	return nil, nil
}

func (s *eventRepoStub) ListActiveComponents(context.Context, time.Time, time.Time) ([]string, error) {
	return nil, nil
}

func (s *eventRepoStub) batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

func (s *eventRepoStub) totalEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, batch := range s.inserted {
		total += len(batch)
	}
	return total
}

type grouperStub struct {
	groups map[string]*domain.ErrorGroup
}

func (g *grouperStub) Ingest(_ context.Context, event domain.ErrorEvent) (*domain.ErrorGroup, error) {
	if g.groups == nil {
		g.groups = make(map[string]*domain.ErrorGroup)
	}
	key := event.ComponentID + "/" + event.Name
	if existing, ok := g.groups[key]; ok {
		existing.Occurrences++
		copied := *existing
		return &copied, nil
	}
	group := &domain.ErrorGroup{
		ComponentID: event.ComponentID,
		Fingerprint: "fp-" + event.Name,
		Occurrences: 1,
		Status:      domain.ErrorGroupOpen,
	}
	g.groups[key] = group
	copied := *group
	return &copied, nil
}

type publisherStub struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *publisherStub) PublishEvent(event domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *publisherStub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent(componentID string) domain.Event {
	return domain.Event{
		ComponentID: componentID,
		SiteID:      "site-1",
		Type:        domain.EventRender,
		Name:        "render",
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached before deadline")
}

func TestRecordFlushesOnBatchSize(t *testing.T) {
	repo := &eventRepoStub{}
	c := New(repo, &grouperStub{}, nil, testLogger(), Options{BatchSize: 5, FlushEvery: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	for i := 0; i < 4; i++ {
		if err := c.Record(testEvent("comp-1")); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
	time.Sleep(50 * time.Millisecond)
	if repo.batches() != 0 {
		t.Fatalf("expected no flush below batch size, got %d batches", repo.batches())
	}
	if c.BufferedEvents() != 4 {
		t.Fatalf("expected 4 buffered events, got %d", c.BufferedEvents())
	}

	if err := c.Record(testEvent("comp-1")); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	waitFor(t, func() bool { return repo.totalEvents() == 5 })
	if c.BufferedEvents() != 0 {
		t.Fatalf("expected empty buffer after flush, got %d", c.BufferedEvents())
	}
}

func TestFlushRequeuesFailedBatch(t *testing.T) {
	repo := &eventRepoStub{failNext: 1}
	c := New(repo, &grouperStub{}, nil, testLogger(), Options{BatchSize: 10, FlushEvery: time.Hour})

	for i := 0; i < 3; i++ {
		if err := c.Record(testEvent("comp-1")); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
	c.Flush(context.Background())
	if repo.batches() != 0 {
		t.Fatalf("expected failed write, got %d batches", repo.batches())
	}
	if c.BufferedEvents() != 3 {
		t.Fatalf("expected requeued batch, got %d buffered", c.BufferedEvents())
	}

	c.Flush(context.Background())
	if repo.totalEvents() != 3 {
		t.Fatalf("expected retry to deliver 3 events, got %d", repo.totalEvents())
	}
}

func TestRequeueDropsOldestAtCap(t *testing.T) {
	repo := &eventRepoStub{failNext: 1}
	c := New(repo, &grouperStub{}, nil, testLogger(), Options{BatchSize: 100, MaxBuffer: 4, FlushEvery: time.Hour})

	first := testEvent("comp-1")
	first.Name = "oldest"
	if err := c.Record(first); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := c.Record(testEvent("comp-1")); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
	c.Flush(context.Background())
	if err := c.Record(testEvent("comp-1")); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	if got := c.BufferedEvents(); got != 4 {
		t.Fatalf("expected buffer capped at 4, got %d", got)
	}
	c.Flush(context.Background())
	for _, batch := range repo.inserted {
		for _, event := range batch {
			if event.Name == "oldest" {
				t.Fatalf("expected oldest event to be dropped at cap")
			}
		}
	}
}

func TestRunFinalFlushOnCancel(t *testing.T) {
	repo := &eventRepoStub{}
	c := New(repo, &grouperStub{}, nil, testLogger(), Options{BatchSize: 100, FlushEvery: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	if err := c.Record(testEvent("comp-1")); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	cancel()
	<-done
	if repo.totalEvents() != 1 {
		t.Fatalf("expected shutdown flush to deliver the event, got %d", repo.totalEvents())
	}
}

func TestRecordErrorWritesSynchronouslyAndGroups(t *testing.T) {
	repo := &eventRepoStub{}
	grouper := &grouperStub{}
	pub := &publisherStub{}
	c := New(repo, grouper, pub, testLogger(), Options{BatchSize: 100, FlushEvery: time.Hour})

	errEvent := domain.ErrorEvent{
		ComponentID: "comp-1",
		SiteID:      "site-1",
		Type:        "TypeError",
		Name:        "undefined_read",
		Message:     "boom",
	}
	group, err := c.RecordError(context.Background(), errEvent)
	if err != nil {
		t.Fatalf("record error failed: %v", err)
	}
	if group.Occurrences != 1 {
		t.Fatalf("expected first occurrence, got %d", group.Occurrences)
	}
	if repo.totalEvents() != 1 {
		t.Fatalf("expected synchronous event write, got %d", repo.totalEvents())
	}
	if pub.count() != 1 {
		t.Fatalf("expected error event published to stream, got %d", pub.count())
	}

	again, err := c.RecordError(context.Background(), errEvent)
	if err != nil {
		t.Fatalf("second record error failed: %v", err)
	}
	if again.Occurrences != 2 {
		t.Fatalf("expected occurrence count 2, got %d", again.Occurrences)
	}
}

func TestRecordHashesIPMetadata(t *testing.T) {
	repo := &eventRepoStub{}
	c := New(repo, &grouperStub{}, nil, testLogger(), Options{BatchSize: 100, FlushEvery: time.Hour, IPHashSalt: "pepper"})

	event := testEvent("comp-1")
	event.Metadata = map[string]string{"ip": "203.0.113.9", "client_ip": "203.0.113.9", "browser": "firefox"}
	if err := c.Record(event); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	c.Flush(context.Background())

	stored := repo.inserted[0][0]
	if stored.Metadata["ip"] == "203.0.113.9" {
		t.Fatalf("expected ip to be hashed")
	}
	if stored.Metadata["ip"] != stored.Metadata["client_ip"] {
		t.Fatalf("expected identical addresses to hash identically")
	}
	if len(stored.Metadata["ip"]) != 64 {
		t.Fatalf("expected sha-256 hex digest, got %q", stored.Metadata["ip"])
	}
	if stored.Metadata["browser"] != "firefox" {
		t.Fatalf("expected non-address metadata untouched, got %q", stored.Metadata["browser"])
	}
}

func TestRecordRejectsInvalidEvents(t *testing.T) {
	c := New(&eventRepoStub{}, &grouperStub{}, nil, testLogger(), Options{})

	if err := c.Record(domain.Event{SiteID: "site-1", Type: domain.EventRender}); err == nil {
		t.Fatalf("expected missing component id to be rejected")
	}
	if err := c.Record(domain.Event{ComponentID: "comp-1", Type: domain.EventRender}); err == nil {
		t.Fatalf("expected missing site id to be rejected")
	}
	if err := c.Record(domain.Event{ComponentID: "comp-1", SiteID: "site-1", Type: "bogus"}); err == nil {
		t.Fatalf("expected unknown event type to be rejected")
	}
}
