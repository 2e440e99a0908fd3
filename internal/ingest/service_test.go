package ingest_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-monitor/internal/adapter/memory"
	"github.com/couchcryptid/quake-monitor/internal/domain"
	"github.com/couchcryptid/quake-monitor/internal/ingest"
	"github.com/couchcryptid/quake-monitor/internal/observability"
)

// --- mocks ---

type capturingPublisher struct {
	mu     sync.Mutex
	events []domain.DomainEvent
}

func (p *capturingPublisher) Publish(ev domain.DomainEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind()
	}
	return out
}

// failingRepo wraps the in-memory repository and fails selected saves.
type failingRepo struct {
	*memory.Repository
	failSaves map[string]error
}

func (r *failingRepo) Save(ctx context.Context, ev domain.HazardEvent) error {
	if err, ok := r.failSaves[ev.ExternalID]; ok {
		return err
	}
	return r.Repository.Save(ctx, ev)
}

func floatPtr(v float64) *float64 { return &v }

func record(id string, magnitude float64) domain.RawRecord {
	return domain.RawRecord{
		ExternalID: id,
		Magnitude:  floatPtr(magnitude),
		Scale:      "ml",
		Latitude:   35.0,
		Longitude:  -118.0,
		Depth:      10,
		OccurredAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		Source:     "USGS",
	}
}

func newService(t *testing.T, repo ingest.Repository, pub ingest.Publisher) *ingest.Service {
	t.Helper()
	return ingest.New(repo, pub, slog.Default(), observability.NewMetricsForTesting(), 0)
}

// --- tests ---

func TestIngest_NewRecords(t *testing.T) {
	repo := memory.NewRepository()
	pub := &capturingPublisher{}
	svc := newService(t, repo, pub)

	res := svc.Ingest(context.Background(), []domain.RawRecord{
		record("ev-1", 3.0),
		record("ev-2", 4.2),
	})

	assert.Equal(t, domain.IngestionResult{RecordsFetched: 2, RecordsNew: 2}, res)
	assert.Equal(t, []string{domain.KindEventDetected, domain.KindEventDetected}, pub.kinds())
}

func TestIngest_Idempotence(t *testing.T) {
	repo := memory.NewRepository()
	pub := &capturingPublisher{}
	svc := newService(t, repo, pub)

	batch := []domain.RawRecord{record("ev-1", 3.0), record("ev-2", 4.0), record("ev-3", 5.1)}

	first := svc.Ingest(context.Background(), batch)
	assert.Equal(t, 3, first.RecordsNew)
	assert.Equal(t, 0, first.RecordsDuplicate)

	second := svc.Ingest(context.Background(), batch)
	assert.Equal(t, 0, second.RecordsNew)
	assert.Equal(t, 3, second.RecordsDuplicate)
	assert.Equal(t, 0, second.Errors)
}

func TestIngest_MixedBatch(t *testing.T) {
	repo := memory.NewRepository()
	pub := &capturingPublisher{}
	svc := newService(t, repo, pub)

	// Pre-persist one id, then ingest a batch of 3 containing it.
	svc.Ingest(context.Background(), []domain.RawRecord{record("dup-1", 2.5)})

	res := svc.Ingest(context.Background(), []domain.RawRecord{
		record("new-1", 3.1),
		record("dup-1", 2.5),
		record("new-2", 3.9),
	})

	assert.Equal(t, domain.IngestionResult{
		RecordsFetched:   3,
		RecordsNew:       2,
		RecordsDuplicate: 1,
		Errors:           0,
	}, res)
}

func TestIngest_SignificantEmitsAlert(t *testing.T) {
	repo := memory.NewRepository()
	pub := &capturingPublisher{}
	svc := newService(t, repo, pub)

	res := svc.Ingest(context.Background(), []domain.RawRecord{record("big", 6.0)})
	require.Equal(t, 1, res.RecordsNew)
	assert.Equal(t, []string{domain.KindEventDetected, domain.KindSignificantAlert}, pub.kinds())

	pub.events = nil
	res = svc.Ingest(context.Background(), []domain.RawRecord{record("small", 3.0)})
	require.Equal(t, 1, res.RecordsNew)
	assert.Equal(t, []string{domain.KindEventDetected}, pub.kinds())
}

func TestIngest_InvalidRecordCountedNotFatal(t *testing.T) {
	repo := memory.NewRepository()
	pub := &capturingPublisher{}
	svc := newService(t, repo, pub)

	bad := record("bad", 3.0)
	bad.Magnitude = nil

	res := svc.Ingest(context.Background(), []domain.RawRecord{bad, record("good", 3.0)})

	assert.Equal(t, domain.IngestionResult{RecordsFetched: 2, RecordsNew: 1, Errors: 1}, res)
}

func TestIngest_SaveFailureLeavesRecordEligible(t *testing.T) {
	repo := &failingRepo{
		Repository: memory.NewRepository(),
		failSaves:  map[string]error{"flaky": errors.New("storage down")},
	}
	pub := &capturingPublisher{}
	svc := newService(t, repo, pub)

	res := svc.Ingest(context.Background(), []domain.RawRecord{record("flaky", 3.0)})
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 0, res.RecordsNew)
	assert.Empty(t, pub.kinds())

	// Next run retries the same record successfully.
	repo.failSaves = nil
	res = svc.Ingest(context.Background(), []domain.RawRecord{record("flaky", 3.0)})
	assert.Equal(t, 1, res.RecordsNew)
}

func TestIngest_LostRaceCountsAsDuplicate(t *testing.T) {
	repo := &failingRepo{
		Repository: memory.NewRepository(),
		failSaves:  map[string]error{"raced": domain.ErrDuplicateEvent},
	}
	pub := &capturingPublisher{}
	svc := newService(t, repo, pub)

	res := svc.Ingest(context.Background(), []domain.RawRecord{record("raced", 3.0)})
	assert.Equal(t, domain.IngestionResult{RecordsFetched: 1, RecordsDuplicate: 1}, res)
	assert.Empty(t, pub.kinds())
}

func TestIngest_ConcurrentRunsPersistOnce(t *testing.T) {
	repo := memory.NewRepository()
	pub := &capturingPublisher{}
	svc := newService(t, repo, pub)

	shared := record("shared", 5.5)

	var wg sync.WaitGroup
	results := make([]domain.IngestionResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Ingest(context.Background(), []domain.RawRecord{shared})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, results[0].RecordsNew+results[1].RecordsNew)
	assert.Equal(t, 1, results[0].RecordsDuplicate+results[1].RecordsDuplicate)

	stored, err := repo.FindByExternalID(context.Background(), "shared")
	require.NoError(t, err)
	assert.Equal(t, "shared", stored.ExternalID)
}

func TestIngest_TruncatesOversizedBatch(t *testing.T) {
	repo := memory.NewRepository()
	pub := &capturingPublisher{}
	svc := ingest.New(repo, pub, slog.Default(), observability.NewMetricsForTesting(), 2)

	res := svc.Ingest(context.Background(), []domain.RawRecord{
		record("a", 3.0), record("b", 3.0), record("c", 3.0),
	})

	assert.Equal(t, 3, res.RecordsFetched)
	assert.Equal(t, 2, res.RecordsNew)
}

func TestIngest_EmptyBatch(t *testing.T) {
	svc := newService(t, memory.NewRepository(), &capturingPublisher{})

	res := svc.Ingest(context.Background(), nil)
	assert.Equal(t, domain.IngestionResult{}, res)
	assert.NoError(t, svc.CheckReadiness(context.Background()))
}

func TestCheckReadiness_BeforeFirstRun(t *testing.T) {
	svc := newService(t, memory.NewRepository(), &capturingPublisher{})
	assert.Error(t, svc.CheckReadiness(context.Background()))
}
