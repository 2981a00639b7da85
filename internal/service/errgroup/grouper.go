package errgroup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/plugboard/analytics/internal/domain"
	"github.com/plugboard/analytics/internal/repository"
)

// Service merges raw error events into deduplicated groups and serves the
// triage queries the dashboard issues against them.
type Service struct {
	repo   repository.ErrorGroupRepository
	logger *slog.Logger
	now    func() time.Time
}

// New constructs an error grouping service.
func New(repo repository.ErrorGroupRepository, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With("component", "error-grouper"),
		now:    time.Now,
	}
}

// Ingest fingerprints one error and merges it into its group. The store
// performs the merge atomically, so concurrent recurrences of the same
// fingerprint never lose counts.
func (s *Service) Ingest(ctx context.Context, event domain.ErrorEvent) (*domain.ErrorGroup, error) {
	if event.ComponentID == "" {
		return nil, fmt.Errorf("%w: component id is required", repository.ErrInvalidArgument)
	}
	seenAt := event.OccurredAt
	if seenAt.IsZero() {
		seenAt = s.now().UTC()
	}
	occ := domain.ErrorOccurrence{
		ComponentID: event.ComponentID,
		Fingerprint: Fingerprint(event.Type, event.Name, event.Stack),
		Type:        event.Type,
		Name:        event.Name,
		Message:     event.Message,
		SampleStack: event.Stack,
		VersionID:   event.VersionID,
		SiteID:      event.SiteID,
		SessionID:   event.SessionID,
		SeenAt:      seenAt,
	}
	group, err := s.repo.UpsertOccurrence(ctx, occ)
	if err != nil {
		return nil, err
	}
	if group.Occurrences == 1 {
		s.logger.Info("new error group",
			"component_id", group.ComponentID,
			"fingerprint", group.Fingerprint,
			"error_name", group.Name)
	}
	return group, nil
}

// Get loads one group by component and fingerprint.
func (s *Service) Get(ctx context.Context, componentID, fingerprint string) (*domain.ErrorGroup, error) {
	return s.repo.GetErrorGroup(ctx, componentID, fingerprint)
}

// List returns a component's groups filtered by optional status and
// priority.
func (s *Service) List(ctx context.Context, componentID, status, priority string, limit, offset int) ([]domain.ErrorGroup, error) {
	if status != "" && !domain.ErrorGroupStatus(status).Valid() {
		return nil, fmt.Errorf("%w: unknown status filter", repository.ErrInvalidArgument)
	}
	if priority != "" && !domain.ErrorPriority(priority).Valid() {
		return nil, fmt.Errorf("%w: unknown priority filter", repository.ErrInvalidArgument)
	}
	return s.repo.ListErrorGroups(ctx, componentID, status, priority, limit, offset)
}

// Update applies triage changes to a group. Unset fields keep their value.
func (s *Service) Update(ctx context.Context, update domain.ErrorGroupUpdate) (*domain.ErrorGroup, error) {
	if update.ComponentID == "" || update.Fingerprint == "" {
		return nil, fmt.Errorf("%w: component id and fingerprint are required", repository.ErrInvalidArgument)
	}
	if update.Status != nil && !update.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status", repository.ErrInvalidArgument)
	}
	if update.Priority != nil && !update.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority", repository.ErrInvalidArgument)
	}
	if update.Status == nil && update.Priority == nil && update.AssignedTo == nil && update.ResolutionNotes == nil {
		return nil, fmt.Errorf("%w: no fields to update", repository.ErrInvalidArgument)
	}
	return s.repo.UpdateErrorGroup(ctx, update)
}
