package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/quake-monitor/internal/domain"
)

// FeedFetcher pulls raw records from the external provider for one feed
// window. Fails with a transport error the caller must treat as transient.
type FeedFetcher interface {
	Fetch(ctx context.Context, period, minMagnitude string) ([]domain.RawRecord, error)
}

// Runner is the fetch-then-ingest step shared by scheduler ticks and the
// manual trigger endpoint.
type Runner struct {
	fetcher FeedFetcher
	service *Service
	logger  *slog.Logger
}

func NewRunner(fetcher FeedFetcher, service *Service, logger *slog.Logger) *Runner {
	return &Runner{fetcher: fetcher, service: service, logger: logger}
}

// Run fetches one feed window and hands the records to the ingestion use
// case. A fetch failure returns before any record is touched.
func (r *Runner) Run(ctx context.Context, period, minMagnitude string) (domain.IngestionResult, error) {
	records, err := r.fetcher.Fetch(ctx, period, minMagnitude)
	if err != nil {
		return domain.IngestionResult{}, fmt.Errorf("fetch feed %s_%s: %w", minMagnitude, period, err)
	}
	return r.service.Ingest(ctx, records), nil
}
