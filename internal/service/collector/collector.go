package collector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plugboard/analytics/internal/domain"
	"github.com/plugboard/analytics/internal/repository"
)

const (
	defaultBatchSize  = 100
	defaultMaxBuffer  = 10000
	defaultFlushEvery = 5 * time.Second
	flushTimeout      = 10 * time.Second
)

// Grouper merges error events into deduplicated groups. It is invoked
// synchronously from the error path.
type Grouper interface {
	Ingest(ctx context.Context, event domain.ErrorEvent) (*domain.ErrorGroup, error)
}

// Publisher receives committed events for live streaming.
type Publisher interface {
	PublishEvent(event domain.Event)
}

// Options tune the collector's buffering.
type Options struct {
	BatchSize  int
	MaxBuffer  int
	FlushEvery time.Duration
	IPHashSalt string
}

// Collector buffers telemetry from many concurrent producers and writes it
// to the store in batches. Record and RecordError never block a producer on
// the database: the general path only appends to an in-memory buffer, and
// the error path performs one small synchronous write because failure data
// is worth the latency.
type Collector struct {
	repo    repository.EventRepository
	grouper Grouper
	pub     Publisher
	logger  *slog.Logger

	batchSize  int
	maxBuffer  int
	flushEvery time.Duration
	salt       string

	mu     sync.Mutex
	buffer []domain.Event
	kick   chan struct{}

	now func() time.Time
}

// New constructs a collector. The publisher may be nil when no live stream
// is attached.
func New(repo repository.EventRepository, grouper Grouper, pub Publisher, logger *slog.Logger, opts Options) *Collector {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxBuffer <= 0 {
		opts.MaxBuffer = defaultMaxBuffer
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = defaultFlushEvery
	}
	initMetrics()
	return &Collector{
		repo:       repo,
		grouper:    grouper,
		pub:        pub,
		logger:     logger.With("component", "collector"),
		batchSize:  opts.BatchSize,
		maxBuffer:  opts.MaxBuffer,
		flushEvery: opts.FlushEvery,
		salt:       opts.IPHashSalt,
		buffer:     make([]domain.Event, 0, opts.BatchSize),
		kick:       make(chan struct{}, 1),
		now:        time.Now,
	}
}

// Record validates and buffers one event. It returns immediately; the store
// write happens on the flush task. Reaching the batch size nudges the flush
// task instead of flushing inline, so producers never carry the write.
func (c *Collector) Record(event domain.Event) error {
	if event.ComponentID == "" {
		return errors.New("component id is required")
	}
	if event.SiteID == "" {
		return errors.New("site id is required")
	}
	if !event.Type.Valid() {
		return errors.New("unknown event type")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = c.now().UTC()
	} else {
		event.CreatedAt = event.CreatedAt.UTC()
	}
	c.hashAddressMetadata(event.Metadata)

	c.mu.Lock()
	if len(c.buffer) >= c.maxBuffer {
		c.buffer = c.buffer[1:]
		droppedEventsTotal.Inc()
		c.logger.Warn("event buffer full, dropping oldest event")
	}
	c.buffer = append(c.buffer, event)
	full := len(c.buffer) >= c.batchSize
	bufferDepthGauge.Set(float64(len(c.buffer)))
	c.mu.Unlock()

	if full {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// RecordError groups the error and writes its event row synchronously, then
// returns the group so callers can surface the fingerprint.
func (c *Collector) RecordError(ctx context.Context, errEvent domain.ErrorEvent) (*domain.ErrorGroup, error) {
	if errEvent.ComponentID == "" {
		return nil, errors.New("component id is required")
	}
	if errEvent.SiteID == "" {
		return nil, errors.New("site id is required")
	}
	if errEvent.OccurredAt.IsZero() {
		errEvent.OccurredAt = c.now().UTC()
	} else {
		errEvent.OccurredAt = errEvent.OccurredAt.UTC()
	}
	c.hashAddressMetadata(errEvent.Environment)

	group, err := c.grouper.Ingest(ctx, errEvent)
	if err != nil {
		return nil, err
	}

	event := domain.Event{
		ID:          uuid.NewString(),
		ComponentID: errEvent.ComponentID,
		VersionID:   errEvent.VersionID,
		SiteID:      errEvent.SiteID,
		Type:        domain.EventError,
		Name:        errEvent.Name,
		Category:    errEvent.Type,
		Payload:     errorPayload(errEvent, group.Fingerprint),
		Metadata:    errEvent.Environment,
		PagePath:    errEvent.PagePath,
		SessionID:   errEvent.SessionID,
		CreatedAt:   errEvent.OccurredAt,
	}
	if err := c.repo.InsertEvents(ctx, []domain.Event{event}); err != nil {
		c.logger.Warn("error event write failed", "component_id", event.ComponentID, "error", err)
	} else if c.pub != nil {
		c.pub.PublishEvent(event)
	}
	return group, nil
}

// Run owns the flush schedule until the context is cancelled, then performs
// one final synchronous flush so clean shutdown loses nothing.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.flushEvery)
	defer ticker.Stop()

	c.logger.Info("collector started", "batch_size", c.batchSize, "flush_every", c.flushEvery)
	for {
		select {
		case <-ctx.Done():
			c.finalFlush()
			c.logger.Info("collector stopped")
			return
		case <-ticker.C:
			c.Flush(ctx)
		case <-c.kick:
			c.Flush(ctx)
		}
	}
}

// Flush swaps the buffer reference under the lock and writes the taken
// batch. A failed write requeues the batch at the front of the new buffer,
// bounded by the overall cap with oldest events dropped first. Producers are
// never told about flush failures.
func (c *Collector) Flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]domain.Event, 0, c.batchSize)
	bufferDepthGauge.Set(0)
	c.mu.Unlock()

	opCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	if err := c.repo.InsertEvents(opCtx, batch); err != nil {
		flushFailuresTotal.Inc()
		c.logger.Warn("event flush failed, requeueing batch", "events", len(batch), "error", err)
		c.requeue(batch)
		return
	}
	if c.pub != nil {
		for _, event := range batch {
			c.pub.PublishEvent(event)
		}
	}
}

// BufferedEvents reports the current buffer depth.
func (c *Collector) BufferedEvents() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

func (c *Collector) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	c.Flush(ctx)
}

func (c *Collector) requeue(batch []domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	combined := append(batch, c.buffer...)
	if overflow := len(combined) - c.maxBuffer; overflow > 0 {
		combined = combined[overflow:]
		droppedEventsTotal.Add(float64(overflow))
		c.logger.Warn("event buffer overflow after requeue", "dropped", overflow)
	}
	c.buffer = combined
	bufferDepthGauge.Set(float64(len(c.buffer)))
}

// hashAddressMetadata replaces IP-like metadata values with a salted hash so
// raw addresses never reach the store.
func (c *Collector) hashAddressMetadata(metadata map[string]string) {
	for key, value := range metadata {
		if value == "" {
			continue
		}
		lower := strings.ToLower(key)
		if lower == "ip" || lower == "remote_addr" || strings.HasSuffix(lower, "_ip") {
			sum := sha256.Sum256([]byte(c.salt + value))
			metadata[key] = hex.EncodeToString(sum[:])
		}
	}
}

func errorPayload(errEvent domain.ErrorEvent, fingerprint string) map[string]any {
	payload := map[string]any{
		"fingerprint": fingerprint,
		"message":     errEvent.Message,
	}
	if errEvent.Stack != "" {
		payload["stack"] = errEvent.Stack
	}
	if errEvent.Source != "" {
		payload["source"] = errEvent.Source
	}
	if len(errEvent.State) > 0 {
		payload["state"] = errEvent.State
	}
	return payload
}
