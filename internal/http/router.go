package httpx

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/plugboard/analytics/internal/domain"
	"github.com/plugboard/analytics/internal/repository"
	"github.com/plugboard/analytics/internal/service/aggregate"
	"github.com/plugboard/analytics/internal/service/alerting"
	"github.com/plugboard/analytics/internal/service/collector"
	"github.com/plugboard/analytics/internal/service/errgroup"
	"github.com/plugboard/analytics/internal/ws"
)

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitIngest    = 1200
	rateLimitQuery     = 120
	rateLimitStream    = 30
	healthCheckTimeout = 2 * time.Second
	maxIngestBatch     = 500
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	collector *collector.Collector
	groups    *errgroup.Service
	rollups   *aggregate.Service
	alerts    *alerting.Evaluator
	events    repository.EventRepository
	hub       *ws.Hub
	upgrader  websocket.Upgrader
	limiter   RateLimiter

	ingestToken string
	dbHealth    func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(
	logger *slog.Logger,
	coll *collector.Collector,
	groups *errgroup.Service,
	rollups *aggregate.Service,
	alerts *alerting.Evaluator,
	events repository.EventRepository,
	hub *ws.Hub,
	limiter RateLimiter,
	ingestToken string,
	dbHealth func(context.Context) error,
) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		collector: coll,
		groups:    groups,
		rollups:   rollups,
		alerts:    alerts,
		events:    events,
		hub:       hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:     limiter,
		ingestToken: strings.TrimSpace(ingestToken),
		dbHealth:    dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/ingest/events", r.audit(r.handleIngestEvents))
	r.mux.HandleFunc("/ingest/errors", r.audit(r.handleIngestErrors))
	r.mux.HandleFunc("/components/", r.audit(r.withRateLimit("components", rateLimitQuery, rateWindowDefault, rateLimitKeyIP, r.handleComponentSubroutes)))
	r.mux.HandleFunc("/sites/", r.audit(r.withRateLimit("sites", rateLimitQuery, rateWindowDefault, rateLimitKeyIP, r.handleSiteSubroutes)))
	r.mux.HandleFunc("/alerts", r.audit(r.withRateLimit("alerts", rateLimitQuery, rateWindowDefault, rateLimitKeyIP, r.handleAlerts)))
	r.mux.HandleFunc("/alerts/", r.audit(r.withRateLimit("alerts", rateLimitQuery, rateWindowDefault, rateLimitKeyIP, r.handleAlertByID)))
	r.mux.HandleFunc("/ws/events", r.audit(r.withRateLimit("ws", rateLimitStream, rateWindowRealtime, rateLimitKeyIP, r.handleEventsWS)))
	r.mux.HandleFunc("/sse/events", r.audit(r.withRateLimit("sse", rateLimitStream, rateWindowRealtime, rateLimitKeyIP, r.handleEventsSSE)))
}

type eventPayload struct {
	ComponentID string            `json:"component_id"`
	VersionID   string            `json:"version_id"`
	SiteID      string            `json:"site_id"`
	Type        string            `json:"type"`
	Name        string            `json:"name"`
	Category    string            `json:"category"`
	Payload     map[string]any    `json:"payload"`
	Metadata    map[string]string `json:"metadata"`
	DurationMS  *float64          `json:"duration_ms"`
	MemoryKB    *float64          `json:"memory_kb"`
	PagePath    string            `json:"page_path"`
	SessionID   string            `json:"session_id"`
	Country     string            `json:"country"`
	CreatedAt   string            `json:"created_at"`
}

func (p eventPayload) toDomain() (domain.Event, error) {
	event := domain.Event{
		ComponentID: strings.TrimSpace(p.ComponentID),
		VersionID:   strings.TrimSpace(p.VersionID),
		SiteID:      strings.TrimSpace(p.SiteID),
		Type:        domain.EventType(strings.TrimSpace(p.Type)),
		Name:        strings.TrimSpace(p.Name),
		Category:    strings.TrimSpace(p.Category),
		Payload:     p.Payload,
		Metadata:    p.Metadata,
		DurationMS:  p.DurationMS,
		MemoryKB:    p.MemoryKB,
		PagePath:    p.PagePath,
		SessionID:   p.SessionID,
		Country:     strings.ToUpper(strings.TrimSpace(p.Country)),
	}
	if p.CreatedAt != "" {
		parsed, err := time.Parse(time.RFC3339Nano, p.CreatedAt)
		if err != nil {
			return domain.Event{}, errors.New("invalid created_at format")
		}
		event.CreatedAt = parsed.UTC()
	}
	return event, nil
}

func (r *Router) handleIngestEvents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyIngestToken(w, req) {
		return
	}
	var payload struct {
		Events []eventPayload `json:"events"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(payload.Events) == 0 {
		writeError(w, http.StatusBadRequest, "events are required")
		return
	}
	if len(payload.Events) > maxIngestBatch {
		writeError(w, http.StatusBadRequest, "too many events in one batch")
		return
	}

	siteKey := "site:" + payload.Events[0].SiteID
	decision := r.limiter.Allow(siteKey, rateLimitIngest, rateWindowDefault)
	r.applyRateHeaders(w, rateLimitIngest, decision)
	if !decision.allowed {
		r.recordRateLimitHit("ingest", "site")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	accepted := 0
	for _, item := range payload.Events {
		event, err := item.toDomain()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := r.collector.Record(event); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		accepted++
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "accepted": accepted})
}

func (r *Router) handleIngestErrors(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyIngestToken(w, req) {
		return
	}
	var payload struct {
		ComponentID string            `json:"component_id"`
		VersionID   string            `json:"version_id"`
		SiteID      string            `json:"site_id"`
		ErrorType   string            `json:"error_type"`
		ErrorName   string            `json:"error_name"`
		Message     string            `json:"message"`
		Stack       string            `json:"stack"`
		Source      string            `json:"source"`
		Environment map[string]string `json:"environment"`
		SessionID   string            `json:"session_id"`
		PagePath    string            `json:"page_path"`
		State       map[string]any    `json:"state"`
		OccurredAt  string            `json:"occurred_at"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	siteKey := "site:" + payload.SiteID
	decision := r.limiter.Allow(siteKey, rateLimitIngest, rateWindowDefault)
	r.applyRateHeaders(w, rateLimitIngest, decision)
	if !decision.allowed {
		r.recordRateLimitHit("ingest", "site")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	errEvent := domain.ErrorEvent{
		ComponentID: strings.TrimSpace(payload.ComponentID),
		VersionID:   strings.TrimSpace(payload.VersionID),
		SiteID:      strings.TrimSpace(payload.SiteID),
		Type:        strings.TrimSpace(payload.ErrorType),
		Name:        strings.TrimSpace(payload.ErrorName),
		Message:     payload.Message,
		Stack:       payload.Stack,
		Source:      payload.Source,
		Environment: payload.Environment,
		SessionID:   payload.SessionID,
		PagePath:    payload.PagePath,
		State:       payload.State,
	}
	if payload.OccurredAt != "" {
		parsed, err := time.Parse(time.RFC3339Nano, payload.OccurredAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid occurred_at format")
			return
		}
		errEvent.OccurredAt = parsed.UTC()
	}

	group, err := r.collector.RecordError(req.Context(), errEvent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":      "recorded",
		"fingerprint": group.Fingerprint,
		"occurrences": group.Occurrences,
	})
}

func (r *Router) handleComponentSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/components/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 || parts[0] == "" {
		r.notFound(w)
		return
	}
	componentID := parts[0]
	switch {
	case len(parts) == 3 && parts[1] == "aggregates" && parts[2] == "hourly":
		r.handleHourlyAggregates(w, req, componentID)
	case len(parts) == 3 && parts[1] == "aggregates" && parts[2] == "daily":
		r.handleDailyAggregates(w, req, componentID)
	case len(parts) == 2 && parts[1] == "errors":
		r.handleErrorGroups(w, req, componentID)
	case len(parts) == 3 && parts[1] == "errors" && parts[2] != "":
		r.handleErrorGroupByFingerprint(w, req, componentID, parts[2])
	case len(parts) == 2 && parts[1] == "alerts":
		r.handleComponentAlerts(w, req, componentID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleHourlyAggregates(w http.ResponseWriter, req *http.Request, componentID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	from, to, err := parseRange(req, 24*time.Hour)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := r.rollups.ListHourly(req.Context(), componentID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"aggregates": marshalHourly(rows)})
}

func (r *Router) handleDailyAggregates(w http.ResponseWriter, req *http.Request, componentID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	from, to, err := parseRange(req, 7*24*time.Hour)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := r.rollups.ListDaily(req.Context(), componentID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"aggregates": marshalDaily(rows)})
}

func (r *Router) handleErrorGroups(w http.ResponseWriter, req *http.Request, componentID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit, offset := parsePage(req)
	groups, err := r.groups.List(req.Context(), componentID,
		req.URL.Query().Get("status"),
		req.URL.Query().Get("priority"),
		limit, offset)
	if err != nil {
		writeError(w, statusFromError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"error_groups": marshalErrorGroups(groups)})
}

func (r *Router) handleErrorGroupByFingerprint(w http.ResponseWriter, req *http.Request, componentID, fingerprint string) {
	switch req.Method {
	case http.MethodGet:
		group, err := r.groups.Get(req.Context(), componentID, fingerprint)
		if err != nil {
			writeError(w, statusFromError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, marshalErrorGroup(*group))
	case http.MethodPatch:
		var payload struct {
			Status          *string `json:"status"`
			Priority        *string `json:"priority"`
			AssignedTo      *string `json:"assigned_to"`
			ResolutionNotes *string `json:"resolution_notes"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		update := domain.ErrorGroupUpdate{
			ComponentID:     componentID,
			Fingerprint:     fingerprint,
			AssignedTo:      payload.AssignedTo,
			ResolutionNotes: payload.ResolutionNotes,
		}
		if payload.Status != nil {
			status := domain.ErrorGroupStatus(*payload.Status)
			update.Status = &status
		}
		if payload.Priority != nil {
			priority := domain.ErrorPriority(*payload.Priority)
			update.Priority = &priority
		}
		group, err := r.groups.Update(req.Context(), update)
		if err != nil {
			writeError(w, statusFromError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, marshalErrorGroup(*group))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleComponentAlerts(w http.ResponseWriter, req *http.Request, componentID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit, offset := parsePage(req)
	alerts, err := r.alerts.ListByComponent(req.Context(), componentID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": marshalAlerts(alerts)})
}

func (r *Router) handleSiteSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/sites/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "events" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	siteID := parts[0]
	eventType := strings.TrimSpace(req.URL.Query().Get("type"))
	if eventType != "" && !domain.EventType(eventType).Valid() {
		writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}
	limit, offset := parsePage(req)
	events, err := r.events.ListRecentEvents(req.Context(), siteID, eventType, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": marshalEvents(events)})
}

func (r *Router) handleAlerts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	alerts, err := r.alerts.ListUnresolved(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": marshalAlerts(alerts)})
}

func (r *Router) handleAlertByID(w http.ResponseWriter, req *http.Request) {
	alertID := strings.TrimPrefix(req.URL.Path, "/alerts/")
	if alertID == "" || strings.Contains(alertID, "/") {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodPatch {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var err error
	switch payload.Action {
	case "acknowledge":
		err = r.alerts.Acknowledge(req.Context(), alertID)
	case "resolve":
		err = r.alerts.Resolve(req.Context(), alertID)
	default:
		writeError(w, http.StatusBadRequest, "action must be acknowledge or resolve")
		return
	}
	if err != nil {
		writeError(w, statusFromError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": payload.Action + "d"})
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	siteID := req.URL.Query().Get("site_id")
	if siteID == "" {
		writeError(w, http.StatusBadRequest, "site_id query parameter required")
		return
	}
	componentID := req.URL.Query().Get("component_id")
	eventType := domain.EventType(req.URL.Query().Get("type"))
	if eventType != "" && !eventType.Valid() {
		writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(siteID, client, componentID, eventType)
	go func() {
		defer func() {
			r.hub.Unregister(siteID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleEventsSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	siteID := req.URL.Query().Get("site_id")
	if siteID == "" {
		writeError(w, http.StatusBadRequest, "site_id query parameter required")
		return
	}
	componentID := req.URL.Query().Get("component_id")
	eventType := domain.EventType(req.URL.Query().Get("type"))
	if eventType != "" && !eventType.Valid() {
		writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(siteID, client, componentID, eventType)
	defer func() {
		r.hub.Unregister(siteID, client)
		client.Close()
	}()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-heartbeat.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	if r.collector != nil {
		components["collector"] = map[string]any{
			"status":          "up",
			"buffered_events": r.collector.BufferedEvents(),
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		actor := "dashboard"
		if strings.HasPrefix(req.URL.Path, "/ingest/") {
			actor = "ingest"
		}
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"actor", actor,
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		r.recordRequestMetrics(req.Method, routeLabel(req.URL.Path), status, duration)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

// routeLabel collapses paths with embedded identifiers so metric label
// cardinality stays bounded.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 {
		return path
	}
	switch parts[0] {
	case "components":
		if len(parts) == 4 && parts[2] == "errors" {
			return "/components/{id}/errors/{fingerprint}"
		}
		if len(parts) >= 3 {
			return "/components/{id}/" + strings.Join(parts[2:], "/")
		}
		return "/components/{id}"
	case "sites":
		return "/sites/{id}/events"
	case "alerts":
		if len(parts) == 2 {
			return "/alerts/{id}"
		}
	}
	return path
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// verifyIngestToken ensures ingestion requests carry the shared token.
func (r *Router) verifyIngestToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.ingestToken
	if expected == "" {
		r.logger.Error("ingest token not configured", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "ingest authentication misconfigured")
		return false
	}
	token := strings.TrimSpace(req.Header.Get("X-Ingest-Token"))
	if token == "" {
		token = strings.TrimSpace(req.URL.Query().Get("ingest_token"))
	}
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("ingest token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid ingest token")
		return false
	}
	return true
}

func parseRange(req *http.Request, span time.Duration) (time.Time, time.Time, error) {
	query := req.URL.Query()
	to := time.Now().UTC()
	if raw := query.Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid to format")
		}
		to = parsed.UTC()
	}
	from := to.Add(-span)
	if raw := query.Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid from format")
		}
		from = parsed.UTC()
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}

func parsePage(req *http.Request) (int, int) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
