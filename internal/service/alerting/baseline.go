package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/plugboard/analytics/internal/domain"
	"github.com/plugboard/analytics/internal/repository"
)

const (
	defaultBaselineWindowDays = 7
	defaultRefreshEvery       = 6 * time.Hour
)

// BaselineRefresher periodically recomputes per-metric rolling statistics
// from the trailing window of hourly rollups. Spike rules compare live
// values against these rather than a fixed threshold.
type BaselineRefresher struct {
	events     repository.EventRepository
	aggregates repository.AggregateRepository
	baselines  repository.BaselineRepository
	logger     *slog.Logger
	windowDays int
	every      time.Duration
	now        func() time.Time
}

// NewBaselineRefresher constructs a baseline refresher.
func NewBaselineRefresher(
	events repository.EventRepository,
	aggregates repository.AggregateRepository,
	baselines repository.BaselineRepository,
	logger *slog.Logger,
	windowDays int,
	every time.Duration,
) *BaselineRefresher {
	if windowDays <= 0 {
		windowDays = defaultBaselineWindowDays
	}
	if every <= 0 {
		every = defaultRefreshEvery
	}
	return &BaselineRefresher{
		events:     events,
		aggregates: aggregates,
		baselines:  baselines,
		logger:     logger.With("component", "baseline-refresher"),
		windowDays: windowDays,
		every:      every,
		now:        time.Now,
	}
}

// Run executes the refresh loop until the context is cancelled.
func (b *BaselineRefresher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.every)
	defer ticker.Stop()

	b.logger.Info("baseline refresher started", "window_days", b.windowDays, "every", b.every)
	if err := b.Refresh(ctx); err != nil {
		b.logger.Warn("baseline refresh failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("baseline refresher stopped")
			return
		case <-ticker.C:
			if err := b.Refresh(ctx); err != nil {
				b.logger.Warn("baseline refresh failed", "error", err)
			}
		}
	}
}

// Refresh recomputes baselines for every component active in the window.
// Each component gets per-version rows plus a component-wide row under an
// empty version id, which is the one spike rules read.
func (b *BaselineRefresher) Refresh(ctx context.Context) error {
	now := b.now().UTC()
	from := now.AddDate(0, 0, -b.windowDays)

	components, err := b.events.ListActiveComponents(ctx, from, now)
	if err != nil {
		return fmt.Errorf("list active components: %w", err)
	}
	for _, componentID := range components {
		if err := b.refreshComponent(ctx, componentID, from, now); err != nil {
			b.logger.Warn("component baseline refresh failed", "component_id", componentID, "error", err)
		}
	}
	return nil
}

func (b *BaselineRefresher) refreshComponent(ctx context.Context, componentID string, from, now time.Time) error {
	hourlies, err := b.aggregates.ListHourlyRange(ctx, componentID, from, now)
	if err != nil {
		return fmt.Errorf("load hourly rows: %w", err)
	}
	if len(hourlies) == 0 {
		return nil
	}

	samples := make(map[string]map[string][]float64)
	record := func(versionID, metric string, value float64) {
		if samples[versionID] == nil {
			samples[versionID] = make(map[string][]float64)
		}
		samples[versionID][metric] = append(samples[versionID][metric], value)
	}
	for _, hourly := range hourlies {
		for _, versionID := range []string{hourly.VersionID, ""} {
			record(versionID, domain.MetricRenderCount, float64(hourly.Renders))
			record(versionID, domain.MetricErrorCount, float64(hourly.Errors))
			if hourly.Renders > 0 {
				record(versionID, domain.MetricErrorRate, float64(hourly.Errors)/float64(hourly.Renders))
			}
			if hourly.RenderAvgMS != nil {
				record(versionID, domain.MetricAvgRenderTime, *hourly.RenderAvgMS)
			}
		}
	}

	baselines := make([]domain.PerformanceBaseline, 0)
	for versionID, metrics := range samples {
		for metric, values := range metrics {
			mean, stdDev := meanStdDev(values)
			baselines = append(baselines, domain.PerformanceBaseline{
				ComponentID: componentID,
				VersionID:   versionID,
				Metric:      metric,
				Mean:        mean,
				StdDev:      stdDev,
				P95:         samplePercentile(values, 95),
				SampleCount: int64(len(values)),
				WindowDays:  b.windowDays,
				ComputedAt:  now,
			})
		}
	}
	if err := b.baselines.UpsertBaselines(ctx, baselines); err != nil {
		return fmt.Errorf("upsert baselines: %w", err)
	}
	return nil
}

func meanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

func samplePercentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
