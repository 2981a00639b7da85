package domain

import "time"

// HourlyAggregate is the rollup of one component version's raw events for a
// single hour bucket. Rows are keyed by (component id, version id, hour) and
// fully replaced on recomputation so late-arriving events can be folded in by
// simply running the hour again.
type HourlyAggregate struct {
	ComponentID          string
	VersionID            string
	HourStart            time.Time
	Renders              int64
	UniqueSites          int64
	UniqueSessions       int64
	APICalls             int64
	APISuccesses         int64
	APIErrors            int64
	APIAvgMS             *float64
	Errors               int64
	Interactions         int64
	RenderAvgMS          *float64
	RenderP50MS          *float64
	RenderP95MS          *float64
	RenderP99MS          *float64
	RenderMaxMS          *float64
	MemoryMinKB          *float64
	MemoryAvgKB          *float64
	MemoryMaxKB          *float64
	ErrorBreakdown       map[string]int64
	InteractionBreakdown map[string]int64
	CountryBreakdown     map[string]int64
	UpdatedAt            time.Time
}

// HourlyPoint is one chart sample embedded in a daily rollup.
type HourlyPoint struct {
	Hour        int      `json:"hour"`
	Renders     int64    `json:"renders"`
	Errors      int64    `json:"errors"`
	AvgRenderMS *float64 `json:"avg_render_time"`
}

// DailyAggregate is derived purely from a day's hourly rollups, never from
// raw events. P95RenderMS is the maximum of the hourly p95 values, an
// approximation of the true daily p95.
type DailyAggregate struct {
	ComponentID          string
	VersionID            string
	Date                 time.Time
	Renders              int64
	UniqueSites          int64
	UniqueSessions       int64
	APICalls             int64
	APISuccesses         int64
	APIErrors            int64
	Errors               int64
	Interactions         int64
	AvgRenderMS          *float64
	P95RenderMS          *float64
	ErrorRate            float64
	APISuccessRate       float64
	ErrorBreakdown       map[string]int64
	InteractionBreakdown map[string]int64
	CountryBreakdown     map[string]int64
	HourlyPoints         []HourlyPoint
	UpdatedAt            time.Time
}
