package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/plugboard/analytics/internal/domain"
)

// InsertEvents persists a batch of telemetry events in a single round trip.
func (r *Repository) InsertEvents(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	const query = `INSERT INTO events (
		id,
		component_id,
		version_id,
		site_id,
		event_type,
		event_name,
		category,
		payload,
		metadata,
		duration_ms,
		memory_kb,
		page_path,
		session_id,
		country,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	batch := &pgx.Batch{}
	for _, event := range events {
		payload, err := marshalMap(event.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		metadata, err := marshalMap(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal event metadata: %w", err)
		}
		batch.Queue(query,
			event.ID,
			event.ComponentID,
			emptyToNil(event.VersionID),
			event.SiteID,
			string(event.Type),
			event.Name,
			emptyToNil(event.Category),
			payload,
			metadata,
			floatPtrToNil(event.DurationMS),
			floatPtrToNil(event.MemoryKB),
			emptyToNil(event.PagePath),
			emptyToNil(event.SessionID),
			emptyToNil(event.Country),
			event.CreatedAt.UTC(),
		)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range events {
		if _, err := br.Exec(); err != nil {
			return mapPgError(err)
		}
	}
	return nil
}

const eventColumns = `id, component_id, version_id, site_id, event_type, event_name, category,
	payload, metadata, duration_ms, memory_kb, page_path, session_id, country, created_at`

// ListEventsRange returns a component's events within [from, to).
func (r *Repository) ListEventsRange(ctx context.Context, componentID string, from, to time.Time) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE component_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, componentID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListRecentEvents returns a site's newest events for the live view.
func (r *Repository) ListRecentEvents(ctx context.Context, siteID string, eventType string, limit, offset int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE site_id = $1 AND ($2 = '' OR event_type = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`
	rows, err := r.pool.Query(ctx, query, siteID, eventType, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListActiveComponents returns component ids that produced events in [from, to).
func (r *Repository) ListActiveComponents(ctx context.Context, from, to time.Time) ([]string, error) {
	const query = `SELECT DISTINCT component_id FROM events
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY component_id`
	rows, err := r.pool.Query(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	events := make([]domain.Event, 0)
	for rows.Next() {
		var (
			e         domain.Event
			eventType string
			versionID sql.NullString
			category  sql.NullString
			payload   []byte
			metadata  []byte
			duration  sql.NullFloat64
			memory    sql.NullFloat64
			pagePath  sql.NullString
			sessionID sql.NullString
			country   sql.NullString
		)
		if err := rows.Scan(
			&e.ID,
			&e.ComponentID,
			&versionID,
			&e.SiteID,
			&eventType,
			&e.Name,
			&category,
			&payload,
			&metadata,
			&duration,
			&memory,
			&pagePath,
			&sessionID,
			&country,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.Type = domain.EventType(eventType)
		if versionID.Valid {
			e.VersionID = versionID.String
		}
		if category.Valid {
			e.Category = category.String
		}
		if duration.Valid {
			value := duration.Float64
			e.DurationMS = &value
		}
		if memory.Valid {
			value := memory.Float64
			e.MemoryKB = &value
		}
		if pagePath.Valid {
			e.PagePath = pagePath.String
		}
		if sessionID.Valid {
			e.SessionID = sessionID.String
		}
		if country.Valid {
			e.Country = country.String
		}
		var err error
		if e.Payload, err = unmarshalMap[any](payload); err != nil {
			return nil, err
		}
		if e.Metadata, err = unmarshalMap[string](metadata); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
