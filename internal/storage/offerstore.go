package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/campusride/internal/models"
)

// OfferStore persists offers produced by the booking model.
type OfferStore interface {
	SaveOffer(ctx context.Context, o models.RideOffer) error
	UpdateOffer(ctx context.Context, o models.RideOffer) error
}

// Lister returns every persisted offer, oldest first, for rehydration on start.
type Lister interface {
	ListOffers(ctx context.Context) ([]models.RideOffer, error)
}

type MemoryStore struct {
	mu     sync.RWMutex
	offers map[string]models.RideOffer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{offers: make(map[string]models.RideOffer)}
}

// SaveOffer and UpdateOffer both keep whichever snapshot has the higher
// version; a booking can reach the store before the creation it follows.
func (m *MemoryStore) SaveOffer(ctx context.Context, o models.RideOffer) error {
	return m.UpdateOffer(ctx, o)
}

func (m *MemoryStore) UpdateOffer(_ context.Context, o models.RideOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.offers[o.ID]; ok && cur.Version >= o.Version {
		return nil
	}
	m.offers[o.ID] = o
	return nil
}

func (m *MemoryStore) Get(id string) (models.RideOffer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.offers[id]
	return o, ok
}

func (m *MemoryStore) ListOffers(_ context.Context) ([]models.RideOffer, error) {
	m.mu.RLock()
	out := make([]models.RideOffer, 0, len(m.offers))
	for _, o := range m.offers {
		out = append(out, o)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
