package ws

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/plugboard/analytics/internal/domain"
)

type subscriberStub struct {
	mu       sync.Mutex
	received [][]byte
	failSend bool
	closed   bool
}

func (s *subscriberStub) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSend {
		return errors.New("send failed")
	}
	s.received = append(s.received, payload)
	return nil
}

func (s *subscriberStub) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *subscriberStub) frames(t *testing.T) []streamFrame {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]streamFrame, 0, len(s.received))
	for _, raw := range s.received {
		var frame streamFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		out = append(out, frame)
	}
	return out
}

func (s *subscriberStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
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
	t.Fatal("condition not met in time")
}

func TestHubDeliversToSiteSubscribers(t *testing.T) {
	hub := testHub()
	siteA := &subscriberStub{}
	siteB := &subscriberStub{}
	hub.Register("site-a", siteA, "", "")
	hub.Register("site-b", siteB, "", "")

	hub.PublishEvent(domain.Event{
		ID:          "e1",
		ComponentID: "comp-1",
		SiteID:      "site-a",
		Type:        domain.EventRender,
		Name:        "render",
	})

	waitFor(t, func() bool { return siteA.count() == 1 })
	frames := siteA.frames(t)
	if frames[0].ID != "e1" || frames[0].ComponentID != "comp-1" || frames[0].Type != "render" {
		t.Fatalf("unexpected frame: %+v", frames[0])
	}
	if siteB.count() != 0 {
		t.Fatalf("site-b should not receive site-a events, got %d", siteB.count())
	}
}

func TestHubSubscriptionFilters(t *testing.T) {
	hub := testHub()
	byComponent := &subscriberStub{}
	byType := &subscriberStub{}
	all := &subscriberStub{}
	hub.Register("site-1", byComponent, "comp-1", "")
	hub.Register("site-1", byType, "", domain.EventError)
	hub.Register("site-1", all, "", "")

	hub.PublishEvent(domain.Event{ID: "e1", ComponentID: "comp-1", SiteID: "site-1", Type: domain.EventRender})
	hub.PublishEvent(domain.Event{ID: "e2", ComponentID: "comp-2", SiteID: "site-1", Type: domain.EventError})

	waitFor(t, func() bool { return all.count() == 2 })
	if byComponent.count() != 1 {
		t.Fatalf("component filter expected 1 frame, got %d", byComponent.count())
	}
	if byComponent.frames(t)[0].ID != "e1" {
		t.Fatalf("component filter got wrong frame: %+v", byComponent.frames(t)[0])
	}
	if byType.count() != 1 {
		t.Fatalf("type filter expected 1 frame, got %d", byType.count())
	}
	if byType.frames(t)[0].ID != "e2" {
		t.Fatalf("type filter got wrong frame: %+v", byType.frames(t)[0])
	}
}

func TestHubDropsFailedSubscriber(t *testing.T) {
	hub := testHub()
	broken := &subscriberStub{failSend: true}
	healthy := &subscriberStub{}
	hub.Register("site-1", broken, "", "")
	hub.Register("site-1", healthy, "", "")

	hub.PublishEvent(domain.Event{ID: "e1", SiteID: "site-1", Type: domain.EventRender})
	waitFor(t, func() bool { return healthy.count() == 1 })
	waitFor(t, func() bool {
		broken.mu.Lock()
		defer broken.mu.Unlock()
		return broken.closed
	})

	hub.PublishEvent(domain.Event{ID: "e2", SiteID: "site-1", Type: domain.EventRender})
	waitFor(t, func() bool { return healthy.count() == 2 })
	if broken.count() != 0 {
		t.Fatalf("broken subscriber should receive nothing, got %d", broken.count())
	}
}

func TestHubUnregisterStopsDelivery(t *testing.T) {
	hub := testHub()
	sub := &subscriberStub{}
	hub.Register("site-1", sub, "", "")

	hub.PublishEvent(domain.Event{ID: "e1", SiteID: "site-1", Type: domain.EventRender})
	waitFor(t, func() bool { return sub.count() == 1 })

	hub.Unregister("site-1", sub)
	hub.PublishEvent(domain.Event{ID: "e2", SiteID: "site-1", Type: domain.EventRender})

	time.Sleep(20 * time.Millisecond)
	if sub.count() != 1 {
		t.Fatalf("expected no delivery after unregister, got %d", sub.count())
	}
}
