// Package ingest converts batches of fetched raw records into persisted
// hazard events exactly once per external id, and emits domain events for
// every new persistence.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/quake-monitor/internal/domain"
	"github.com/couchcryptid/quake-monitor/internal/observability"
)

// Repository is the keyed record store the use case persists into.
type Repository interface {
	Exists(ctx context.Context, externalID string) (bool, error)
	Save(ctx context.Context, event domain.HazardEvent) error
}

// Publisher receives the domain events emitted for newly persisted records.
type Publisher interface {
	Publish(event domain.DomainEvent)
}

// Service is the deduplicating ingestion use case. Safe for concurrent use:
// runs serialize through an internal mutex so the exists-check-then-insert
// sequence stays atomic across overlapping scheduled and manual triggers.
// The repository's uniqueness guarantee on external_id covers races this
// process cannot see (another writer between check and insert): a save that
// fails with domain.ErrDuplicateEvent counts as a duplicate, not an error.
type Service struct {
	repo       Repository
	publisher  Publisher
	logger     *slog.Logger
	metrics    *observability.Metrics
	maxRecords int

	mu    sync.Mutex
	ready atomic.Bool
}

// New creates the ingestion service. maxRecords caps how many records a
// single run processes; zero means no cap.
func New(repo Repository, publisher Publisher, logger *slog.Logger, metrics *observability.Metrics, maxRecords int) *Service {
	return &Service{
		repo:       repo,
		publisher:  publisher,
		logger:     logger,
		metrics:    metrics,
		maxRecords: maxRecords,
	}
}

// CheckReadiness returns nil once at least one ingestion run has completed.
func (s *Service) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("no ingestion run has completed yet")
	}
	return nil
}

// Ingest processes records in input order. Per-record failures are counted
// and never abort the batch; a record that fails to save stays eligible for
// the next run. Event publication is best-effort relative to persistence.
func (s *Service) Ingest(ctx context.Context, records []domain.RawRecord) domain.IngestionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result := domain.IngestionResult{RecordsFetched: len(records)}

	if s.maxRecords > 0 && len(records) > s.maxRecords {
		s.logger.Warn("feed returned more records than the ingestion cap, truncating",
			"returned", len(records), "cap", s.maxRecords)
		records = records[:s.maxRecords]
	}

	for _, record := range records {
		event, err := domain.BuildEvent(record)
		if err != nil {
			result.Errors++
			s.metrics.IngestErrors.Inc()
			s.logger.Warn("skipping invalid record", "error", err)
			continue
		}

		exists, err := s.repo.Exists(ctx, event.ExternalID)
		if err != nil {
			result.Errors++
			s.metrics.IngestErrors.Inc()
			s.logger.Error("existence check failed", "external_id", event.ExternalID, "error", err)
			continue
		}
		if exists {
			result.RecordsDuplicate++
			s.metrics.RecordsDuplicate.Inc()
			continue
		}

		if err := s.repo.Save(ctx, event); err != nil {
			if errors.Is(err, domain.ErrDuplicateEvent) {
				// Lost the race to another writer; the event is stored.
				result.RecordsDuplicate++
				s.metrics.RecordsDuplicate.Inc()
				continue
			}
			result.Errors++
			s.metrics.IngestErrors.Inc()
			s.logger.Error("save failed", "external_id", event.ExternalID, "error", err)
			continue
		}

		result.RecordsNew++
		s.metrics.RecordsNew.Inc()

		s.publisher.Publish(domain.NewEventDetected(event))
		if event.Severity.IsSignificant() {
			s.publisher.Publish(domain.NewSignificantAlert(event))
		}
	}

	s.metrics.RecordsFetched.Add(float64(result.RecordsFetched))
	s.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	s.ready.Store(true)

	s.logger.Info("ingestion run completed",
		"fetched", result.RecordsFetched,
		"new", result.RecordsNew,
		"duplicate", result.RecordsDuplicate,
		"errors", result.Errors,
	)
	return result
}
