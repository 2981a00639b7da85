package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/plugboard/analytics/internal/domain"
	"github.com/plugboard/analytics/internal/repository"
)

const errorGroupColumns = `id, component_id, fingerprint, error_type, error_name, message, sample_stack,
	occurrences, affected_sites, affected_sessions, affected_versions,
	first_seen, last_seen, status, priority, assigned_to, resolution_notes`

// UpsertOccurrence merges one error sighting into its group in a single
// statement: a new fingerprint creates the group, a recurrence increments the
// count, advances last_seen, unions the affected sets, and reopens a resolved
// group. Concurrent recurrences of the same fingerprint converge to one row.
func (r *Repository) UpsertOccurrence(ctx context.Context, occ domain.ErrorOccurrence) (*domain.ErrorGroup, error) {
	if occ.ComponentID == "" || occ.Fingerprint == "" {
		return nil, fmt.Errorf("component id and fingerprint required: %w", repository.ErrInvalidArgument)
	}
	query := `INSERT INTO error_groups (
		id, component_id, fingerprint, error_type, error_name, message, sample_stack,
		occurrences, affected_sites, affected_sessions, affected_versions,
		first_seen, last_seen, status, priority
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7,
		1,
		CASE WHEN $8 = '' THEN '{}'::text[] ELSE ARRAY[$8::text] END,
		CASE WHEN $9 = '' THEN '{}'::text[] ELSE ARRAY[$9::text] END,
		CASE WHEN $10 = '' THEN '{}'::text[] ELSE ARRAY[$10::text] END,
		$11, $11, 'open', 'medium'
	)
	ON CONFLICT (component_id, fingerprint) DO UPDATE SET
		occurrences = error_groups.occurrences + 1,
		last_seen = GREATEST(error_groups.last_seen, EXCLUDED.last_seen),
		affected_sites = CASE
			WHEN $8 = '' OR $8 = ANY(error_groups.affected_sites) THEN error_groups.affected_sites
			ELSE array_append(error_groups.affected_sites, $8::text) END,
		affected_sessions = CASE
			WHEN $9 = '' OR $9 = ANY(error_groups.affected_sessions) THEN error_groups.affected_sessions
			ELSE array_append(error_groups.affected_sessions, $9::text) END,
		affected_versions = CASE
			WHEN $10 = '' OR $10 = ANY(error_groups.affected_versions) THEN error_groups.affected_versions
			ELSE array_append(error_groups.affected_versions, $10::text) END,
		status = CASE WHEN error_groups.status = 'resolved' THEN 'open' ELSE error_groups.status END
	RETURNING ` + errorGroupColumns
	row := r.pool.QueryRow(ctx, query,
		uuid.NewString(),
		occ.ComponentID,
		occ.Fingerprint,
		occ.Type,
		occ.Name,
		occ.Message,
		occ.SampleStack,
		occ.SiteID,
		occ.SessionID,
		occ.VersionID,
		occ.SeenAt.UTC(),
	)
	group, err := scanErrorGroup(row)
	if err != nil {
		return nil, mapPgError(err)
	}
	return group, nil
}

// GetErrorGroup loads one group by its unique key.
func (r *Repository) GetErrorGroup(ctx context.Context, componentID, fingerprint string) (*domain.ErrorGroup, error) {
	query := `SELECT ` + errorGroupColumns + ` FROM error_groups
		WHERE component_id = $1 AND fingerprint = $2`
	row := r.pool.QueryRow(ctx, query, componentID, fingerprint)
	group, err := scanErrorGroup(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return group, nil
}

// ListErrorGroups returns a component's groups, optionally filtered by
// status and priority, newest activity first.
func (r *Repository) ListErrorGroups(ctx context.Context, componentID, status, priority string, limit, offset int) ([]domain.ErrorGroup, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + errorGroupColumns + ` FROM error_groups
		WHERE component_id = $1
			AND ($2 = '' OR status = $2)
			AND ($3 = '' OR priority = $3)
		ORDER BY last_seen DESC
		LIMIT $4 OFFSET $5`
	rows, err := r.pool.Query(ctx, query, componentID, status, priority, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make([]domain.ErrorGroup, 0)
	for rows.Next() {
		group, err := scanErrorGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *group)
	}
	return groups, rows.Err()
}

// UpdateErrorGroup mutates triage fields; nil fields keep their value.
func (r *Repository) UpdateErrorGroup(ctx context.Context, update domain.ErrorGroupUpdate) (*domain.ErrorGroup, error) {
	var status, priority any
	if update.Status != nil {
		status = string(*update.Status)
	}
	if update.Priority != nil {
		priority = string(*update.Priority)
	}
	query := `UPDATE error_groups SET
		status = COALESCE($3, status),
		priority = COALESCE($4, priority),
		assigned_to = COALESCE($5, assigned_to),
		resolution_notes = COALESCE($6, resolution_notes)
	WHERE component_id = $1 AND fingerprint = $2
	RETURNING ` + errorGroupColumns
	row := r.pool.QueryRow(ctx, query,
		update.ComponentID,
		update.Fingerprint,
		status,
		priority,
		stringPtrToNil(update.AssignedTo),
		stringPtrToNil(update.ResolutionNotes),
	)
	group, err := scanErrorGroup(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, mapPgError(err)
	}
	return group, nil
}

func scanErrorGroup(row pgx.Row) (*domain.ErrorGroup, error) {
	var (
		g          domain.ErrorGroup
		status     string
		priority   string
		assignedTo sql.NullString
		notes      sql.NullString
	)
	if err := row.Scan(
		&g.ID,
		&g.ComponentID,
		&g.Fingerprint,
		&g.Type,
		&g.Name,
		&g.Message,
		&g.SampleStack,
		&g.Occurrences,
		&g.AffectedSites,
		&g.AffectedSessions,
		&g.AffectedVersions,
		&g.FirstSeen,
		&g.LastSeen,
		&status,
		&priority,
		&assignedTo,
		&notes,
	); err != nil {
		return nil, err
	}
	g.Status = domain.ErrorGroupStatus(status)
	g.Priority = domain.ErrorPriority(priority)
	if assignedTo.Valid {
		value := assignedTo.String
		g.AssignedTo = &value
	}
	if notes.Valid {
		value := notes.String
		g.ResolutionNotes = &value
	}
	return &g, nil
}
