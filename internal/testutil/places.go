package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lugares/apiserver/internal/store"
	"github.com/lugares/apiserver/types"
)

// Places is an in-memory place repository that orders by id like the store.
type Places struct {
	mu     sync.Mutex
	places map[int64]types.Place
	nextID int64

	// CreateErr, when set, fails CreateCapped.
	CreateErr error
	// Err, when set, is returned by every call.
	Err error
}

func NewPlaces() *Places {
	return &Places{places: make(map[int64]types.Place)}
}

func (p *Places) ListActive(ctx context.Context) ([]types.Place, error) {
	return p.filter(func(place types.Place) bool { return place.Active })
}

func (p *Places) ListByOwner(ctx context.Context, ownerUID string) ([]types.Place, error) {
	return p.filter(func(place types.Place) bool { return place.OwnerUID == ownerUID })
}

func (p *Places) Get(ctx context.Context, id int64) (types.Place, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return types.Place{}, p.Err
	}
	place, ok := p.places[id]
	if !ok {
		return types.Place{}, store.ErrNotFound
	}
	return place, nil
}

func (p *Places) CountByOwner(ctx context.Context, ownerUID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return 0, p.Err
	}
	return p.countLocked(ownerUID), nil
}

func (p *Places) CreateCapped(ctx context.Context, place types.Place, maxPerOwner int) (types.Place, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return types.Place{}, p.Err
	}
	if p.CreateErr != nil {
		return types.Place{}, p.CreateErr
	}
	if maxPerOwner > 0 && p.countLocked(place.OwnerUID) >= maxPerOwner {
		return types.Place{}, store.ErrLimitExceeded
	}
	p.nextID++
	now := time.Now().UTC()
	place.ID = p.nextID
	place.CreatedAt = now
	place.UpdatedAt = now
	p.places[place.ID] = place
	return place, nil
}

func (p *Places) Update(ctx context.Context, place types.Place) (types.Place, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return types.Place{}, p.Err
	}
	if _, ok := p.places[place.ID]; !ok {
		return types.Place{}, store.ErrNotFound
	}
	place.UpdatedAt = time.Now().UTC()
	p.places[place.ID] = place
	return place, nil
}

// Seed stores place directly, bypassing the cap, and returns it with its id.
func (p *Places) Seed(place types.Place) types.Place {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	place.ID = p.nextID
	p.places[place.ID] = place
	return place
}

// Len returns the number of stored places.
func (p *Places) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.places)
}

func (p *Places) countLocked(ownerUID string) int {
	total := 0
	for _, place := range p.places {
		if place.OwnerUID == ownerUID {
			total++
		}
	}
	return total
}

func (p *Places) filter(keep func(types.Place) bool) ([]types.Place, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	result := make([]types.Place, 0)
	for _, place := range p.places {
		if keep(place) {
			result = append(result, place)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
