package alerting

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/plugboard/analytics/internal/domain"
)

type hourlyRepoStub struct {
	hourlies []domain.HourlyAggregate
}

func (s *hourlyRepoStub) UpsertHourly(context.Context, []domain.HourlyAggregate) error { return nil }

func (s *hourlyRepoStub) ListHourlyRange(_ context.Context, componentID string, _, _ time.Time) ([]domain.HourlyAggregate, error) {
	out := make([]domain.HourlyAggregate, 0)
	for _, hourly := range s.hourlies {
		if hourly.ComponentID == componentID {
			out = append(out, hourly)
		}
	}
	return out, nil
}

func (s *hourlyRepoStub) UpsertDaily(context.Context, []domain.DailyAggregate) error { return nil }

func (s *hourlyRepoStub) ListDailyRange(context.Context, string, time.Time, time.Time) ([]domain.DailyAggregate, error) {
	return nil, nil
}

type activeComponentsStub struct {
	eventRepoStub
	components []string
}

func (s *activeComponentsStub) ListActiveComponents(context.Context, time.Time, time.Time) ([]string, error) {
	return s.components, nil
}

func TestRefreshComputesComponentWideBaseline(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	avgFast := 100.0
	avgSlow := 200.0
	hourlies := []domain.HourlyAggregate{
		{ComponentID: "comp-1", VersionID: "v1", HourStart: now.Add(-2 * time.Hour), Renders: 10, RenderAvgMS: &avgFast},
		{ComponentID: "comp-1", VersionID: "v2", HourStart: now.Add(-time.Hour), Renders: 10, RenderAvgMS: &avgSlow},
	}
	events := &activeComponentsStub{components: []string{"comp-1"}}
	baselines := newBaselineRepoStub()
	refresher := NewBaselineRefresher(events, &hourlyRepoStub{hourlies: hourlies}, baselines, testLogger(), 7, time.Hour)
	refresher.now = func() time.Time { return now }

	if err := refresher.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	wide, err := baselines.GetBaseline(context.Background(), "comp-1", "", domain.MetricAvgRenderTime)
	if err != nil {
		t.Fatalf("expected component-wide baseline: %v", err)
	}
	if wide.Mean != 150 {
		t.Fatalf("expected mean 150, got %f", wide.Mean)
	}
	if math.Abs(wide.StdDev-50) > 1e-9 {
		t.Fatalf("expected stddev 50, got %f", wide.StdDev)
	}
	if wide.P95 != 200 {
		t.Fatalf("expected p95 200, got %f", wide.P95)
	}
	if wide.SampleCount != 2 || wide.WindowDays != 7 {
		t.Fatalf("unexpected sample metadata %+v", wide)
	}

	perVersion, err := baselines.GetBaseline(context.Background(), "comp-1", "v1", domain.MetricAvgRenderTime)
	if err != nil {
		t.Fatalf("expected per-version baseline: %v", err)
	}
	if perVersion.Mean != 100 {
		t.Fatalf("expected v1 mean 100, got %f", perVersion.Mean)
	}
}

func TestRefreshSkipsComponentsWithoutRollups(t *testing.T) {
	events := &activeComponentsStub{components: []string{"comp-quiet"}}
	baselines := newBaselineRepoStub()
	refresher := NewBaselineRefresher(events, &hourlyRepoStub{}, baselines, testLogger(), 7, time.Hour)

	if err := refresher.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if len(baselines.baselines) != 0 {
		t.Fatalf("expected no baselines written, got %d", len(baselines.baselines))
	}
}
