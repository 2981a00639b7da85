package aggregate

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/plugboard/analytics/internal/domain"
)

type eventRepoStub struct {
	events []domain.Event
}

func (s *eventRepoStub) InsertEvents(context.Context, []domain.Event) error { return nil }

func (s *eventRepoStub) ListEventsRange(_ context.Context, componentID string, from, to time.Time) ([]domain.Event, error) {
	out := make([]domain.Event, 0)
	for _, event := range s.events {
		if event.ComponentID != componentID {
			continue
		}
		if event.CreatedAt.Before(from) || !event.CreatedAt.Before(to) {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

func (s *eventRepoStub) ListRecentEvents(context.Context, string, string, int, int) ([]domain.Event, error) {
	return nil, nil
}

func (s *eventRepoStub) ListActiveComponents(_ context.Context, from, to time.Time) ([]string, error) {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, event := range s.events {
		if event.CreatedAt.Before(from) || !event.CreatedAt.Before(to) {
			continue
		}
		if _, ok := seen[event.ComponentID]; ok {
			continue
		}
		seen[event.ComponentID] = struct{}{}
		out = append(out, event.ComponentID)
	}
	return out, nil
}

type aggRepoStub struct {
	hourly map[string]domain.HourlyAggregate
	daily  map[string]domain.DailyAggregate
}

func newAggRepoStub() *aggRepoStub {
	return &aggRepoStub{
		hourly: make(map[string]domain.HourlyAggregate),
		daily:  make(map[string]domain.DailyAggregate),
	}
}

func (s *aggRepoStub) UpsertHourly(_ context.Context, aggs []domain.HourlyAggregate) error {
	for _, agg := range aggs {
		s.hourly[agg.ComponentID+"/"+agg.VersionID+"/"+agg.HourStart.Format(time.RFC3339)] = agg
	}
	return nil
}

func (s *aggRepoStub) ListHourlyRange(_ context.Context, componentID string, from, to time.Time) ([]domain.HourlyAggregate, error) {
	out := make([]domain.HourlyAggregate, 0)
	for _, agg := range s.hourly {
		if agg.ComponentID != componentID {
			continue
		}
		if agg.HourStart.Before(from) || !agg.HourStart.Before(to) {
			continue
		}
		out = append(out, agg)
	}
	return out, nil
}

func (s *aggRepoStub) UpsertDaily(_ context.Context, aggs []domain.DailyAggregate) error {
	for _, agg := range aggs {
		s.daily[agg.ComponentID+"/"+agg.VersionID+"/"+agg.Date.Format(time.RFC3339)] = agg
	}
	return nil
}

func (s *aggRepoStub) ListDailyRange(_ context.Context, componentID string, from, to time.Time) ([]domain.DailyAggregate, error) {
	out := make([]domain.DailyAggregate, 0)
	for _, agg := range s.daily {
		if agg.ComponentID != componentID {
			continue
		}
		if agg.Date.Before(from) || !agg.Date.Before(to) {
			continue
		}
		out = append(out, agg)
	}
	return out, nil
}

func TestRunHourRollsUpActiveComponents(t *testing.T) {
	hour := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)
	events := &eventRepoStub{events: []domain.Event{
		renderEvent("comp-a", "site-1", "sess-1", 50, hour.Add(10*time.Minute)),
		renderEvent("comp-b", "site-2", "sess-2", 80, hour.Add(20*time.Minute)),
		renderEvent("comp-a", "site-1", "sess-1", 90, hour.Add(2*time.Hour)),
	}}
	aggs := newAggRepoStub()
	svc := New(events, aggs, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Minute)
	svc.now = func() time.Time { return hour.Add(time.Hour) }

	if err := svc.RunHour(context.Background(), hour); err != nil {
		t.Fatalf("hourly pass failed: %v", err)
	}
	if len(aggs.hourly) != 2 {
		t.Fatalf("expected rollups for 2 components, got %d", len(aggs.hourly))
	}
	rows, err := svc.ListHourly(context.Background(), "comp-a", hour, hour.Add(time.Hour))
	if err != nil {
		t.Fatalf("list hourly failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Renders != 1 {
		t.Fatalf("unexpected comp-a rollup %v", rows)
	}
}

func TestRunDayDerivesFromHourlyRows(t *testing.T) {
	day := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	events := &eventRepoStub{events: []domain.Event{
		renderEvent("comp-a", "site-1", "sess-1", 50, day.Add(9*time.Hour)),
	}}
	aggs := newAggRepoStub()
	svc := New(events, aggs, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Minute)
	svc.now = func() time.Time { return day.Add(26 * time.Hour) }

	if err := svc.RunHour(context.Background(), day.Add(9*time.Hour)); err != nil {
		t.Fatalf("hourly pass failed: %v", err)
	}
	if err := svc.RunDay(context.Background(), day); err != nil {
		t.Fatalf("daily pass failed: %v", err)
	}
	rows, err := svc.ListDaily(context.Background(), "comp-a", day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("list daily failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Renders != 1 {
		t.Fatalf("unexpected daily rollup %v", rows)
	}
	if rows[0].HourlyPoints[9].Renders != 1 {
		t.Fatalf("expected hour 9 point populated, got %v", rows[0].HourlyPoints[9])
	}
}
