package cache

import (
	"testing"
	"time"

	"github.com/rotblauer/trackd/types/trackpoint"
)

func TestPoints_ETag(t *testing.T) {
	c, err := NewPoints(2)
	if err != nil {
		t.Fatal(err)
	}
	a := []trackpoint.TrackPoint{{Sequence: 0, Latitude: 1, Longitude: 2}, {Sequence: 1, Latitude: 1.1, Longitude: 2}}
	b := []trackpoint.TrackPoint{{Sequence: 0, Latitude: 1, Longitude: 2}, {Sequence: 1, Latitude: 1.2, Longitude: 2}}
	ea, err := c.Add(1, a)
	if err != nil {
		t.Fatal(err)
	}
	eb, err := c.Add(2, b)
	if err != nil {
		t.Fatal(err)
	}
	if ea.ETag == eb.ETag {
		t.Error("different points share an ETag")
	}
	again, _ := ETag(a)
	if again != ea.ETag {
		t.Error("ETag not stable")
	}
	got, ok := c.Get(1)
	if !ok || got.ETag != ea.ETag || len(got.Points) != 2 {
		t.Fatalf("get = %+v %v", got, ok)
	}
	c.Remove(1)
	if _, ok := c.Get(1); ok {
		t.Error("removed entry still cached")
	}
	_, _ = c.Add(3, a)
	_, _ = c.Add(4, a)
	if c.Len() != 2 {
		t.Errorf("len = %d", c.Len())
	}
}

func TestTTLSet(t *testing.T) {
	s := NewTTLSet[string](50 * time.Millisecond)
	s.Add("trip-1")
	if !s.Has("trip-1") || s.Has("trip-2") {
		t.Fatal("membership wrong")
	}
	time.Sleep(80 * time.Millisecond)
	if s.Has("trip-1") {
		t.Error("key did not expire")
	}
	s.Add("trip-3")
	s.Remove("trip-3")
	if s.Has("trip-3") {
		t.Error("removed key present")
	}
}
