package cache

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/jellydator/ttlcache/v3"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/rotblauer/trackd/types/trackpoint"
)

// Points caches simplified point sets by track file ID, with their ETag.
// Point sets never change once completed, so entries are only removed
// when the track file is deleted.
type Points struct {
	lru *lru.Cache[int64, PointsEntry]
}

type PointsEntry struct {
	Points []trackpoint.TrackPoint
	ETag   string
}

func NewPoints(size int) (*Points, error) {
	c, err := lru.New[int64, PointsEntry](size)
	if err != nil {
		return nil, err
	}
	return &Points{lru: c}, nil
}

func (c *Points) Get(id int64) (PointsEntry, bool) {
	return c.lru.Get(id)
}

// Add stores pts and returns the entry with its computed ETag.
func (c *Points) Add(id int64, pts []trackpoint.TrackPoint) (PointsEntry, error) {
	tag, err := ETag(pts)
	if err != nil {
		return PointsEntry{}, err
	}
	e := PointsEntry{Points: pts, ETag: tag}
	c.lru.Add(id, e)
	return e, nil
}

func (c *Points) Remove(id int64) {
	c.lru.Remove(id)
}

func (c *Points) Len() int {
	return c.lru.Len()
}

// ETag returns a strong HTTP entity tag from the structural hash of v.
func ETag(v any) (string, error) {
	hash, err := hashstructure.Hash(v, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`"%x"`, hash), nil
}

// TTLSet remembers keys for a fixed time.
type TTLSet[K comparable] struct {
	c *ttlcache.Cache[K, struct{}]
}

func NewTTLSet[K comparable](ttl time.Duration) *TTLSet[K] {
	return &TTLSet[K]{
		c: ttlcache.New[K, struct{}](
			ttlcache.WithTTL[K, struct{}](ttl),
			ttlcache.WithDisableTouchOnHit[K, struct{}]()),
	}
}

func (s *TTLSet[K]) Add(k K) {
	s.c.Set(k, struct{}{}, ttlcache.DefaultTTL)
}

func (s *TTLSet[K]) Has(k K) bool {
	return s.c.Has(k)
}

func (s *TTLSet[K]) Remove(k K) {
	s.c.Delete(k)
}

func (s *TTLSet[K]) Len() int {
	return s.c.Len()
}

// Start runs the expiry loop until Stop is called.
// Without it expired keys are still never reported, only kept in memory.
func (s *TTLSet[K]) Start() {
	go s.c.Start()
}

func (s *TTLSet[K]) Stop() {
	s.c.Stop()
}
