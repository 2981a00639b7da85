package aggregate

import (
	"sort"
	"strings"
	"time"

	"github.com/plugboard/analytics/internal/domain"
)

// hourlyAccumulator gathers one (component, version, hour) bucket while a
// build pass walks the raw events.
type hourlyAccumulator struct {
	renders          int64
	sites            map[string]struct{}
	sessions         map[string]struct{}
	apiCalls         int64
	apiSuccesses     int64
	apiErrors        int64
	apiLatencies     []float64
	errors           int64
	interactions     int64
	durations        []float64
	memory           []float64
	errorNames       map[string]int64
	interactionNames map[string]int64
	countries        map[string]int64
}

func newHourlyAccumulator() *hourlyAccumulator {
	return &hourlyAccumulator{
		sites:            make(map[string]struct{}),
		sessions:         make(map[string]struct{}),
		errorNames:       make(map[string]int64),
		interactionNames: make(map[string]int64),
		countries:        make(map[string]int64),
	}
}

// isAPIError classifies an api_call event by its name: names ending in
// "_error" (or exactly "error") count against the success rate; everything
// else is a success. Payload contents are never inspected.
func isAPIError(name string) bool {
	return name == "error" || strings.HasSuffix(name, "_error")
}

// BuildHourly computes the hour's rollups for one component from its raw
// events, one row per version id seen. It is a pure function of the input
// event set: running it twice over the same events yields identical rows, so
// the replace-style upsert downstream stays idempotent.
func BuildHourly(componentID string, hourStart time.Time, events []domain.Event, builtAt time.Time) []domain.HourlyAggregate {
	buckets := make(map[string]*hourlyAccumulator)
	for _, event := range events {
		if event.ComponentID != componentID {
			continue
		}
		acc := buckets[event.VersionID]
		if acc == nil {
			acc = newHourlyAccumulator()
			buckets[event.VersionID] = acc
		}
		acc.observe(event)
	}

	versions := make([]string, 0, len(buckets))
	for version := range buckets {
		versions = append(versions, version)
	}
	sort.Strings(versions)

	aggs := make([]domain.HourlyAggregate, 0, len(buckets))
	for _, version := range versions {
		aggs = append(aggs, buckets[version].finish(componentID, version, hourStart, builtAt))
	}
	return aggs
}

func (a *hourlyAccumulator) observe(event domain.Event) {
	if event.SiteID != "" {
		a.sites[event.SiteID] = struct{}{}
	}
	if event.SessionID != "" {
		a.sessions[event.SessionID] = struct{}{}
	}
	if event.Country != "" {
		a.countries[event.Country]++
	}
	if event.MemoryKB != nil {
		a.memory = append(a.memory, *event.MemoryKB)
	}

	switch event.Type {
	case domain.EventRender:
		a.renders++
		if event.DurationMS != nil {
			a.durations = append(a.durations, *event.DurationMS)
		}
	case domain.EventAPICall:
		a.apiCalls++
		if isAPIError(event.Name) {
			a.apiErrors++
		} else {
			a.apiSuccesses++
		}
		if event.DurationMS != nil {
			a.apiLatencies = append(a.apiLatencies, *event.DurationMS)
		}
	case domain.EventError:
		a.errors++
		if event.Name != "" {
			a.errorNames[event.Name]++
		}
	case domain.EventUserInteraction:
		a.interactions++
		if event.Name != "" {
			a.interactionNames[event.Name]++
		}
	}
}

func (a *hourlyAccumulator) finish(componentID, versionID string, hourStart, builtAt time.Time) domain.HourlyAggregate {
	sorted := sortedCopy(a.durations)
	var renderMax *float64
	if len(sorted) > 0 {
		value := sorted[len(sorted)-1]
		renderMax = &value
	}

	var memMin, memMax *float64
	if len(a.memory) > 0 {
		sortedMem := sortedCopy(a.memory)
		minValue := sortedMem[0]
		maxValue := sortedMem[len(sortedMem)-1]
		memMin = &minValue
		memMax = &maxValue
	}

	return domain.HourlyAggregate{
		ComponentID:          componentID,
		VersionID:            versionID,
		HourStart:            hourStart.UTC(),
		Renders:              a.renders,
		UniqueSites:          int64(len(a.sites)),
		UniqueSessions:       int64(len(a.sessions)),
		APICalls:             a.apiCalls,
		APISuccesses:         a.apiSuccesses,
		APIErrors:            a.apiErrors,
		APIAvgMS:             mean(a.apiLatencies),
		Errors:               a.errors,
		Interactions:         a.interactions,
		RenderAvgMS:          mean(a.durations),
		RenderP50MS:          percentile(sorted, 50),
		RenderP95MS:          percentile(sorted, 95),
		RenderP99MS:          percentile(sorted, 99),
		RenderMaxMS:          renderMax,
		MemoryMinKB:          memMin,
		MemoryAvgKB:          mean(a.memory),
		MemoryMaxKB:          memMax,
		ErrorBreakdown:       emptyAsNil(a.errorNames),
		InteractionBreakdown: emptyAsNil(a.interactionNames),
		CountryBreakdown:     emptyAsNil(a.countries),
		UpdatedAt:            builtAt.UTC(),
	}
}

func emptyAsNil(m map[string]int64) map[string]int64 {
	if len(m) == 0 {
		return nil
	}
	return m
}
