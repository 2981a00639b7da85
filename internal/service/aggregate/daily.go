package aggregate

import (
	"sort"
	"time"

	"github.com/plugboard/analytics/internal/domain"
)

// BuildDaily derives one day's rollups for a component from that day's
// hourly rows, one output row per version id. It never touches raw events,
// which keeps the daily pass O(24) per version.
//
// Aggregation rules: additive fields are summed; unique site and session
// counts take the maximum across hours since visitors repeat; the average
// render time is weighted by each hour's render count (nil when no hour
// rendered); the daily p95 is the maximum of the hourly p95 values, a
// deliberate approximation rather than a recomputation from raw samples.
func BuildDaily(componentID string, date time.Time, hourlies []domain.HourlyAggregate, builtAt time.Time) []domain.DailyAggregate {
	day := date.UTC().Truncate(24 * time.Hour)

	byVersion := make(map[string][]domain.HourlyAggregate)
	for _, hourly := range hourlies {
		if hourly.ComponentID != componentID {
			continue
		}
		if !hourly.HourStart.UTC().Truncate(24 * time.Hour).Equal(day) {
			continue
		}
		byVersion[hourly.VersionID] = append(byVersion[hourly.VersionID], hourly)
	}

	versions := make([]string, 0, len(byVersion))
	for version := range byVersion {
		versions = append(versions, version)
	}
	sort.Strings(versions)

	aggs := make([]domain.DailyAggregate, 0, len(byVersion))
	for _, version := range versions {
		aggs = append(aggs, buildDailyVersion(componentID, version, day, byVersion[version], builtAt))
	}
	return aggs
}

func buildDailyVersion(componentID, versionID string, day time.Time, hourlies []domain.HourlyAggregate, builtAt time.Time) domain.DailyAggregate {
	agg := domain.DailyAggregate{
		ComponentID: componentID,
		VersionID:   versionID,
		Date:        day,
		UpdatedAt:   builtAt.UTC(),
	}

	var (
		weightedSum float64
		totalWeight int64
		p95Max      *float64
		errNames    = make(map[string]int64)
		interNames  = make(map[string]int64)
		countries   = make(map[string]int64)
		points      = make([]domain.HourlyPoint, 24)
	)
	for i := range points {
		points[i].Hour = i
	}

	for _, hourly := range hourlies {
		agg.Renders += hourly.Renders
		agg.APICalls += hourly.APICalls
		agg.APISuccesses += hourly.APISuccesses
		agg.APIErrors += hourly.APIErrors
		agg.Errors += hourly.Errors
		agg.Interactions += hourly.Interactions
		if hourly.UniqueSites > agg.UniqueSites {
			agg.UniqueSites = hourly.UniqueSites
		}
		if hourly.UniqueSessions > agg.UniqueSessions {
			agg.UniqueSessions = hourly.UniqueSessions
		}
		if hourly.RenderAvgMS != nil && hourly.Renders > 0 {
			weightedSum += *hourly.RenderAvgMS * float64(hourly.Renders)
			totalWeight += hourly.Renders
		}
		if hourly.RenderP95MS != nil && (p95Max == nil || *hourly.RenderP95MS > *p95Max) {
			value := *hourly.RenderP95MS
			p95Max = &value
		}
		mergeCounts(errNames, hourly.ErrorBreakdown)
		mergeCounts(interNames, hourly.InteractionBreakdown)
		mergeCounts(countries, hourly.CountryBreakdown)

		hour := hourly.HourStart.UTC().Hour()
		points[hour].Renders += hourly.Renders
		points[hour].Errors += hourly.Errors
		points[hour].AvgRenderMS = hourly.RenderAvgMS
	}

	if totalWeight > 0 {
		value := weightedSum / float64(totalWeight)
		agg.AvgRenderMS = &value
	}
	agg.P95RenderMS = p95Max
	if agg.Renders > 0 {
		agg.ErrorRate = float64(agg.Errors) / float64(agg.Renders)
	}
	agg.APISuccessRate = 1
	if agg.APICalls > 0 {
		agg.APISuccessRate = float64(agg.APISuccesses) / float64(agg.APICalls)
	}
	agg.ErrorBreakdown = emptyAsNil(errNames)
	agg.InteractionBreakdown = emptyAsNil(interNames)
	agg.CountryBreakdown = emptyAsNil(countries)
	agg.HourlyPoints = points
	return agg
}

func mergeCounts(dst, src map[string]int64) {
	for key, count := range src {
		dst[key] += count
	}
}
