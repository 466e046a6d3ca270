package index_test

import (
	"testing"
	"time"

	"schedq/internal/index"
)

func TestPopHighestPriorityFirst(t *testing.T) {
	idx := index.New()
	now := time.Now()

	idx.Insert("low", 1, now)
	idx.Insert("high", 10, now)
	idx.Insert("mid", 5, now)

	order := []string{"high", "mid", "low"}
	for _, want := range order {
		e, ok := idx.PopHighest(now)
		if !ok {
			t.Fatal("expected entry")
		}
		if e.ID != want {
			t.Fatalf("expected %s, got %s", want, e.ID)
		}
	}

	if _, ok := idx.PopHighest(now); ok {
		t.Fatal("expected empty index")
	}
}

func TestPopFIFOAmongEquals(t *testing.T) {
	idx := index.New()
	now := time.Now()

	idx.Insert("first", 5, now)
	idx.Insert("second", 5, now)
	idx.Insert("third", 5, now)

	for _, want := range []string{"first", "second", "third"} {
		e, ok := idx.PopHighest(now)
		if !ok {
			t.Fatal("expected entry")
		}
		if e.ID != want {
			t.Fatalf("expected %s, got %s", want, e.ID)
		}
	}
}

func TestDelayedEntriesHeldBack(t *testing.T) {
	idx := index.New()
	now := time.Now()

	idx.Insert("later", 10, now.Add(time.Hour))
	idx.Insert("now", 1, now)

	e, ok := idx.PopHighest(now)
	if !ok {
		t.Fatal("expected entry")
	}
	if e.ID != "now" {
		t.Fatalf("delayed entry must not pop early, got %s", e.ID)
	}

	if _, ok := idx.PopHighest(now); ok {
		t.Fatal("expected empty pop while entry is delayed")
	}

	// Once the clock passes eligibleAt the entry is promoted.
	e, ok = idx.PopHighest(now.Add(2 * time.Hour))
	if !ok {
		t.Fatal("expected promoted entry")
	}
	if e.ID != "later" {
		t.Fatalf("expected later, got %s", e.ID)
	}
}

func TestRemove(t *testing.T) {
	idx := index.New()
	now := time.Now()

	idx.Insert("keep", 5, now)
	idx.Insert("drop", 5, now)
	idx.Insert("parked", 5, now.Add(time.Hour))

	idx.Remove("drop")
	idx.Remove("parked")

	e, ok := idx.PopHighest(now.Add(2 * time.Hour))
	if !ok {
		t.Fatal("expected entry")
	}
	if e.ID != "keep" {
		t.Fatalf("expected keep, got %s", e.ID)
	}

	if idx.Len() != 0 {
		t.Fatalf("expected empty index, got %d", idx.Len())
	}
}

func TestDepths(t *testing.T) {
	idx := index.New()
	now := time.Now()

	idx.Insert("a", 5, now)
	idx.Insert("b", 5, now)
	idx.Insert("c", 10, now.Add(time.Hour))

	depths := idx.Depths()
	if depths[5] != 2 {
		t.Fatalf("expected depth 2 at priority 5, got %d", depths[5])
	}
	if depths[10] != 1 {
		t.Fatalf("expected depth 1 at priority 10, got %d", depths[10])
	}
}
