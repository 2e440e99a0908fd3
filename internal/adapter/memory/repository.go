// Package memory is the in-memory hazard event repository, used when no
// DATABASE_URL is configured and throughout the test suite. It mirrors the
// Postgres adapter's contract, including the uniqueness guarantee on
// external_id.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/couchcryptid/quake-monitor/internal/domain"
)

// ErrNotFound is returned by lookups for an unknown external id.
var ErrNotFound = errors.New("hazard event not found")

type Repository struct {
	mu     sync.RWMutex
	events map[string]domain.HazardEvent
}

func NewRepository() *Repository {
	return &Repository{events: make(map[string]domain.HazardEvent)}
}

func (r *Repository) Exists(_ context.Context, externalID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.events[externalID]
	return ok, nil
}

// Save stores the event, failing with domain.ErrDuplicateEvent if the
// external id is already present, the same way the Postgres unique
// constraint does.
func (r *Repository) Save(_ context.Context, event domain.HazardEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[event.ExternalID]; ok {
		return fmt.Errorf("save %s: %w", event.ExternalID, domain.ErrDuplicateEvent)
	}
	r.events[event.ExternalID] = event
	return nil
}

func (r *Repository) FindByExternalID(_ context.Context, externalID string) (domain.HazardEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.events[externalID]
	if !ok {
		return domain.HazardEvent{}, fmt.Errorf("find %s: %w", externalID, ErrNotFound)
	}
	return event, nil
}

func (r *Repository) MarkReviewed(_ context.Context, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[externalID]
	if !ok {
		return fmt.Errorf("mark reviewed %s: %w", externalID, ErrNotFound)
	}
	event.Reviewed = true
	r.events[externalID] = event
	return nil
}

// Count reports how many events are stored.
func (r *Repository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}
