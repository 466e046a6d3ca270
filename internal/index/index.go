// Package index holds the in-memory ordering of ready tasks. It is a
// derived structure: the durable record lives in the store, and the
// index is rebuilt from a store scan on startup.
package index

import (
	"container/heap"
	"sync"
	"time"
)

// Entry is a reference to a ready task. The index never holds payloads.
type Entry struct {
	ID         string
	Priority   int
	EligibleAt time.Time

	seq int64
}

// Index orders ready tasks by (priority desc, eligibleAt asc, seq asc).
// Tasks whose eligibleAt is in the future are parked in a separate
// time-ordered heap and promoted lazily when PopHighest observes that
// their time has come.
type Index struct {
	mu sync.Mutex

	ready   readyHeap
	delayed delayedHeap
	seq     int64
}

func New() *Index {
	return &Index{}
}

// Insert registers a task reference. Insertion order breaks ties among
// equal (priority, eligibleAt), giving FIFO among equals.
func (i *Index) Insert(id string, priority int, eligibleAt time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.seq += 1
	e := &Entry{
		ID:         id,
		Priority:   priority,
		EligibleAt: eligibleAt,
		seq:        i.seq,
	}

	if eligibleAt.After(time.Now()) {
		heap.Push(&i.delayed, e)
		return
	}

	heap.Push(&i.ready, e)
}

// PopHighest removes and returns the highest-priority eligible entry.
// Due entries parked in the delayed heap are promoted first.
func (i *Index) PopHighest(now time.Time) (Entry, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.promote(now)

	if i.ready.Len() == 0 {
		return Entry{}, false
	}

	e := heap.Pop(&i.ready).(*Entry)
	return *e, true
}

func (i *Index) promote(now time.Time) {
	for i.delayed.Len() > 0 {
		next := i.delayed[0]
		if next.EligibleAt.After(now) {
			break
		}

		heap.Pop(&i.delayed)
		heap.Push(&i.ready, next)
	}
}

// Remove drops a task reference from either heap, if present.
// Used by the administrative cancel path.
func (i *Index) Remove(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for pos, e := range i.ready {
		if e.ID == id {
			heap.Remove(&i.ready, pos)
			return
		}
	}

	for pos, e := range i.delayed {
		if e.ID == id {
			heap.Remove(&i.delayed, pos)
			return
		}
	}
}

// Len returns the total number of indexed references, delayed included.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.ready.Len() + i.delayed.Len()
}

// Depths returns the number of indexed references per priority,
// delayed included. Consumed by the operational stats endpoint.
func (i *Index) Depths() map[int]int {
	i.mu.Lock()
	defer i.mu.Unlock()

	depths := make(map[int]int)
	for _, e := range i.ready {
		depths[e.Priority] += 1
	}
	for _, e := range i.delayed {
		depths[e.Priority] += 1
	}

	return depths
}

// readyHeap orders poppable entries: priority desc, eligibleAt asc, seq asc.
type readyHeap []*Entry

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(a, b int) bool {
	if h[a].Priority != h[b].Priority {
		return h[a].Priority > h[b].Priority
	}
	if !h[a].EligibleAt.Equal(h[b].EligibleAt) {
		return h[a].EligibleAt.Before(h[b].EligibleAt)
	}
	return h[a].seq < h[b].seq
}

func (h readyHeap) Swap(a, b int) { h[a], h[b] = h[b], h[a] }

func (h *readyHeap) Push(x any) { *h = append(*h, x.(*Entry)) }

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// delayedHeap orders parked entries by eligibleAt asc so promotion only
// inspects the head.
type delayedHeap []*Entry

func (h delayedHeap) Len() int { return len(h) }

func (h delayedHeap) Less(a, b int) bool {
	if !h[a].EligibleAt.Equal(h[b].EligibleAt) {
		return h[a].EligibleAt.Before(h[b].EligibleAt)
	}
	return h[a].seq < h[b].seq
}

func (h delayedHeap) Swap(a, b int) { h[a], h[b] = h[b], h[a] }

func (h *delayedHeap) Push(x any) { *h = append(*h, x.(*Entry)) }

func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
