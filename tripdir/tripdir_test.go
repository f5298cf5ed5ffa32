package tripdir

import (
	"context"
	"testing"
	"time"

	"github.com/rotblauer/trackd/conceptual"
)

type countingDirectory struct {
	*Static
	calls int
}

func (c *countingDirectory) TripExists(ctx context.Context, trip conceptual.TripID) (bool, error) {
	c.calls++
	return c.Static.TripExists(ctx, trip)
}

func TestPermissive(t *testing.T) {
	ok, _ := Permissive{}.TripExists(context.Background(), "x")
	if !ok {
		t.Error("want exists")
	}
	ok, _ = Permissive{}.TripExists(context.Background(), "")
	if ok {
		t.Error("empty trip should not exist")
	}
}

func TestCached(t *testing.T) {
	ctx := context.Background()
	next := &countingDirectory{Static: NewStatic("a")}
	c := NewCached(next, time.Minute)

	for i := 0; i < 3; i++ {
		ok, err := c.TripExists(ctx, "a")
		if err != nil || !ok {
			t.Fatalf("a: %v %v", ok, err)
		}
	}
	if next.calls != 1 {
		t.Errorf("calls = %d, want 1", next.calls)
	}

	// Negative answers are not cached.
	if ok, _ := c.TripExists(ctx, "b"); ok {
		t.Fatal("b should not exist yet")
	}
	next.Add("b")
	if ok, _ := c.TripExists(ctx, "b"); !ok {
		t.Fatal("b should exist")
	}

	next.Remove("a")
	if ok, _ := c.TripExists(ctx, "a"); !ok {
		t.Error("cached a expected")
	}
	if ok, _ := c.Fresh(ctx, "a"); ok {
		t.Error("fresh lookup should see a removed")
	}
	if ok, _ := c.TripExists(ctx, "a"); ok {
		t.Error("removed a should be evicted")
	}
}
