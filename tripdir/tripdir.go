// Package tripdir answers whether a trip exists.
// Trips are owned by another system; trackd only asks.
package tripdir

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rotblauer/trackd/conceptual"
)

type Directory interface {
	TripExists(ctx context.Context, trip conceptual.TripID) (bool, error)
}

// Permissive reports every non-empty trip as existing.
type Permissive struct{}

func (Permissive) TripExists(_ context.Context, trip conceptual.TripID) (bool, error) {
	return !trip.IsEmpty(), nil
}

// Static is an in-memory directory, used by the process command and tests.
type Static struct {
	mu    sync.RWMutex
	trips map[conceptual.TripID]struct{}
}

func NewStatic(trips ...conceptual.TripID) *Static {
	s := &Static{trips: make(map[conceptual.TripID]struct{}, len(trips))}
	for _, t := range trips {
		s.trips[t] = struct{}{}
	}
	return s
}

func (s *Static) TripExists(_ context.Context, trip conceptual.TripID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.trips[trip]
	return ok, nil
}

func (s *Static) Add(trip conceptual.TripID) {
	s.mu.Lock()
	s.trips[trip] = struct{}{}
	s.mu.Unlock()
}

func (s *Static) Remove(trip conceptual.TripID) {
	s.mu.Lock()
	delete(s.trips, trip)
	s.mu.Unlock()
}

// Cached remembers positive answers of the wrapped directory for ttl.
// Negative answers are never cached, so a newly created trip is visible at once.
// A deleted trip may still be reported for up to ttl; the worker
// re-checks through Fresh before persisting.
type Cached struct {
	next  Directory
	cache *ttlcache.Cache[conceptual.TripID, struct{}]
}

func NewCached(next Directory, ttl time.Duration) *Cached {
	return &Cached{
		next: next,
		cache: ttlcache.New[conceptual.TripID, struct{}](
			ttlcache.WithTTL[conceptual.TripID, struct{}](ttl),
			ttlcache.WithDisableTouchOnHit[conceptual.TripID, struct{}]()),
	}
}

func (c *Cached) TripExists(ctx context.Context, trip conceptual.TripID) (bool, error) {
	if c.cache.Has(trip) {
		return true, nil
	}
	return c.Fresh(ctx, trip)
}

// Fresh bypasses the cache, refreshing it with the answer.
func (c *Cached) Fresh(ctx context.Context, trip conceptual.TripID) (bool, error) {
	ok, err := c.next.TripExists(ctx, trip)
	if err != nil {
		return false, err
	}
	if ok {
		c.cache.Set(trip, struct{}{}, ttlcache.DefaultTTL)
	} else {
		c.cache.Delete(trip)
	}
	return ok, nil
}

// Start runs the expiry loop until Stop.
func (c *Cached) Start() { go c.cache.Start() }

func (c *Cached) Stop() { c.cache.Stop() }
