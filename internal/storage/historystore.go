package storage

import (
	"sync"

	"github.com/example/ride-negotiation/internal/models"
)

// HistoryStore archives finished rides for the history view.
type HistoryStore interface {
	SaveRide(rec *models.RideRecord) error
	ListByActor(actorID string, limit int) ([]models.RideRecord, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	records []models.RideRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) SaveRide(rec *models.RideRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

// ListByActor returns the actor's finished rides, newest first.
func (m *MemoryStore) ListByActor(actorID string, limit int) ([]models.RideRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.RideRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		rec := m.records[i]
		if rec.RiderID == actorID || rec.DriverID == actorID {
			out = append(out, rec)
		}
	}
	return out, nil
}
