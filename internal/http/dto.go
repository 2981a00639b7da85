package httpx

import (
	"time"

	"github.com/plugboard/analytics/internal/domain"
)

type eventDTO struct {
	ID          string            `json:"id"`
	ComponentID string            `json:"component_id"`
	VersionID   string            `json:"version_id,omitempty"`
	SiteID      string            `json:"site_id"`
	Type        string            `json:"type"`
	Name        string            `json:"name"`
	Category    string            `json:"category,omitempty"`
	Payload     map[string]any    `json:"payload,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	DurationMS  *float64          `json:"duration_ms,omitempty"`
	MemoryKB    *float64          `json:"memory_kb,omitempty"`
	PagePath    string            `json:"page_path,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	Country     string            `json:"country,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func marshalEvents(events []domain.Event) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	for _, e := range events {
		out = append(out, eventDTO{
			ID:          e.ID,
			ComponentID: e.ComponentID,
			VersionID:   e.VersionID,
			SiteID:      e.SiteID,
			Type:        string(e.Type),
			Name:        e.Name,
			Category:    e.Category,
			Payload:     e.Payload,
			Metadata:    e.Metadata,
			DurationMS:  e.DurationMS,
			MemoryKB:    e.MemoryKB,
			PagePath:    e.PagePath,
			SessionID:   e.SessionID,
			Country:     e.Country,
			CreatedAt:   e.CreatedAt,
		})
	}
	return out
}

type hourlyAggregateDTO struct {
	ComponentID          string           `json:"component_id"`
	VersionID            string           `json:"version_id,omitempty"`
	HourStart            time.Time        `json:"hour_start"`
	Renders              int64            `json:"renders"`
	UniqueSites          int64            `json:"unique_sites"`
	UniqueSessions       int64            `json:"unique_sessions"`
	APICalls             int64            `json:"api_calls"`
	APISuccesses         int64            `json:"api_successes"`
	APIErrors            int64            `json:"api_errors"`
	APIAvgMS             *float64         `json:"api_avg_ms,omitempty"`
	Errors               int64            `json:"errors"`
	Interactions         int64            `json:"interactions"`
	RenderAvgMS          *float64         `json:"render_avg_ms,omitempty"`
	RenderP50MS          *float64         `json:"render_p50_ms,omitempty"`
	RenderP95MS          *float64         `json:"render_p95_ms,omitempty"`
	RenderP99MS          *float64         `json:"render_p99_ms,omitempty"`
	RenderMaxMS          *float64         `json:"render_max_ms,omitempty"`
	MemoryMinKB          *float64         `json:"memory_min_kb,omitempty"`
	MemoryAvgKB          *float64         `json:"memory_avg_kb,omitempty"`
	MemoryMaxKB          *float64         `json:"memory_max_kb,omitempty"`
	ErrorBreakdown       map[string]int64 `json:"error_breakdown,omitempty"`
	InteractionBreakdown map[string]int64 `json:"interaction_breakdown,omitempty"`
	CountryBreakdown     map[string]int64 `json:"country_breakdown,omitempty"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

func marshalHourly(rows []domain.HourlyAggregate) []hourlyAggregateDTO {
	out := make([]hourlyAggregateDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, hourlyAggregateDTO{
			ComponentID:          row.ComponentID,
			VersionID:            row.VersionID,
			HourStart:            row.HourStart,
			Renders:              row.Renders,
			UniqueSites:          row.UniqueSites,
			UniqueSessions:       row.UniqueSessions,
			APICalls:             row.APICalls,
			APISuccesses:         row.APISuccesses,
			APIErrors:            row.APIErrors,
			APIAvgMS:             row.APIAvgMS,
			Errors:               row.Errors,
			Interactions:         row.Interactions,
			RenderAvgMS:          row.RenderAvgMS,
			RenderP50MS:          row.RenderP50MS,
			RenderP95MS:          row.RenderP95MS,
			RenderP99MS:          row.RenderP99MS,
			RenderMaxMS:          row.RenderMaxMS,
			MemoryMinKB:          row.MemoryMinKB,
			MemoryAvgKB:          row.MemoryAvgKB,
			MemoryMaxKB:          row.MemoryMaxKB,
			ErrorBreakdown:       row.ErrorBreakdown,
			InteractionBreakdown: row.InteractionBreakdown,
			CountryBreakdown:     row.CountryBreakdown,
			UpdatedAt:            row.UpdatedAt,
		})
	}
	return out
}

type dailyAggregateDTO struct {
	ComponentID          string               `json:"component_id"`
	VersionID            string               `json:"version_id,omitempty"`
	Date                 string               `json:"date"`
	Renders              int64                `json:"renders"`
	UniqueSites          int64                `json:"unique_sites"`
	UniqueSessions       int64                `json:"unique_sessions"`
	APICalls             int64                `json:"api_calls"`
	APISuccesses         int64                `json:"api_successes"`
	APIErrors            int64                `json:"api_errors"`
	Errors               int64                `json:"errors"`
	Interactions         int64                `json:"interactions"`
	AvgRenderMS          *float64             `json:"avg_render_ms,omitempty"`
	P95RenderMS          *float64             `json:"p95_render_ms,omitempty"`
	ErrorRate            float64              `json:"error_rate"`
	APISuccessRate       float64              `json:"api_success_rate"`
	ErrorBreakdown       map[string]int64     `json:"error_breakdown,omitempty"`
	InteractionBreakdown map[string]int64     `json:"interaction_breakdown,omitempty"`
	CountryBreakdown     map[string]int64     `json:"country_breakdown,omitempty"`
	HourlyPoints         []domain.HourlyPoint `json:"hourly_points"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

func marshalDaily(rows []domain.DailyAggregate) []dailyAggregateDTO {
	out := make([]dailyAggregateDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, dailyAggregateDTO{
			ComponentID:          row.ComponentID,
			VersionID:            row.VersionID,
			Date:                 row.Date.Format("2006-01-02"),
			Renders:              row.Renders,
			UniqueSites:          row.UniqueSites,
			UniqueSessions:       row.UniqueSessions,
			APICalls:             row.APICalls,
			APISuccesses:         row.APISuccesses,
			APIErrors:            row.APIErrors,
			Errors:               row.Errors,
			Interactions:         row.Interactions,
			AvgRenderMS:          row.AvgRenderMS,
			P95RenderMS:          row.P95RenderMS,
			ErrorRate:            row.ErrorRate,
			APISuccessRate:       row.APISuccessRate,
			ErrorBreakdown:       row.ErrorBreakdown,
			InteractionBreakdown: row.InteractionBreakdown,
			CountryBreakdown:     row.CountryBreakdown,
			HourlyPoints:         row.HourlyPoints,
			UpdatedAt:            row.UpdatedAt,
		})
	}
	return out
}

type errorGroupDTO struct {
	ID               string    `json:"id"`
	ComponentID      string    `json:"component_id"`
	Fingerprint      string    `json:"fingerprint"`
	Type             string    `json:"type"`
	Name             string    `json:"name"`
	Message          string    `json:"message"`
	SampleStack      string    `json:"sample_stack,omitempty"`
	Occurrences      int64     `json:"occurrences"`
	AffectedSites    []string  `json:"affected_sites,omitempty"`
	AffectedSessions []string  `json:"affected_sessions,omitempty"`
	AffectedVersions []string  `json:"affected_versions,omitempty"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	Status           string    `json:"status"`
	Priority         string    `json:"priority"`
	AssignedTo       *string   `json:"assigned_to,omitempty"`
	ResolutionNotes  *string   `json:"resolution_notes,omitempty"`
}

func marshalErrorGroup(g domain.ErrorGroup) errorGroupDTO {
	return errorGroupDTO{
		ID:               g.ID,
		ComponentID:      g.ComponentID,
		Fingerprint:      g.Fingerprint,
		Type:             g.Type,
		Name:             g.Name,
		Message:          g.Message,
		SampleStack:      g.SampleStack,
		Occurrences:      g.Occurrences,
		AffectedSites:    g.AffectedSites,
		AffectedSessions: g.AffectedSessions,
		AffectedVersions: g.AffectedVersions,
		FirstSeen:        g.FirstSeen,
		LastSeen:         g.LastSeen,
		Status:           string(g.Status),
		Priority:         string(g.Priority),
		AssignedTo:       g.AssignedTo,
		ResolutionNotes:  g.ResolutionNotes,
	}
}

func marshalErrorGroups(groups []domain.ErrorGroup) []errorGroupDTO {
	out := make([]errorGroupDTO, 0, len(groups))
	for _, g := range groups {
		out = append(out, marshalErrorGroup(g))
	}
	return out
}

type alertDTO struct {
	ID               string     `json:"id"`
	RuleID           string     `json:"rule_id"`
	ComponentID      string     `json:"component_id"`
	AlertType        string     `json:"alert_type"`
	Metric           string     `json:"metric"`
	Severity         string     `json:"severity"`
	CurrentValue     float64    `json:"current_value"`
	ExpectedValue    *float64   `json:"expected_value,omitempty"`
	Threshold        float64    `json:"threshold"`
	AffectedSites    int64      `json:"affected_sites"`
	AffectedSessions int64      `json:"affected_sessions"`
	Status           string     `json:"status"`
	AutoResolved     bool       `json:"auto_resolved"`
	TriggeredAt      time.Time  `json:"triggered_at"`
	AcknowledgedAt   *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

func marshalAlerts(alerts []domain.Alert) []alertDTO {
	out := make([]alertDTO, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, alertDTO{
			ID:               a.ID,
			RuleID:           a.RuleID,
			ComponentID:      a.ComponentID,
			AlertType:        a.AlertType,
			Metric:           a.Metric,
			Severity:         a.Severity,
			CurrentValue:     a.CurrentValue,
			ExpectedValue:    a.ExpectedValue,
			Threshold:        a.Threshold,
			AffectedSites:    a.AffectedSites,
			AffectedSessions: a.AffectedSessions,
			Status:           string(a.Status),
			AutoResolved:     a.AutoResolved,
			TriggeredAt:      a.TriggeredAt,
			AcknowledgedAt:   a.AcknowledgedAt,
			ResolvedAt:       a.ResolvedAt,
		})
	}
	return out
}
