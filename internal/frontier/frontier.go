// Package frontier implements the crawl frontier (C4): a single-producer
// multi-consumer FIFO of FrontierEntries with separate enqueued/visited
// dedup indices and depth-gated admission.
package frontier

import (
	"sync"

	"github.com/rohmanhakim/atlas-crawler/internal/atlas"
)

// RejectReason explains why enqueue refused an entry.
type RejectReason string

const (
	RejectNone          RejectReason = ""
	RejectAlreadyQueued RejectReason = "already-enqueued"
	RejectDepthExceeded RejectReason = "depth-exceeded"
)

// Snapshot is the serializable frontier state used by checkpointing.
type Snapshot struct {
	Entries       []atlas.FrontierEntry
	EnqueuedIndex []string
	VisitedIndex  []string
}

// Frontier is a FIFO queue of FrontierEntries guarded by a single mutex,
// per spec.md's single-owner-actor concurrency model.
type Frontier struct {
	mu   sync.Mutex
	q    FIFOQueue[atlas.FrontierEntry]
	enq  Set[string]
	vis  Set[string]

	maxDepth int // -1 means unlimited
}

// New creates an empty Frontier gating on maxDepth (-1 = unlimited, 0 = seeds only).
func New(maxDepth int) *Frontier {
	return &Frontier{
		q:        *NewFIFOQueue[atlas.FrontierEntry](),
		enq:      NewSet[string](),
		vis:      NewSet[string](),
		maxDepth: maxDepth,
	}
}

// Enqueue admits entry unless its urlKey was already enqueued or its depth
// exceeds maxDepth. Returns (admitted, reason).
func (f *Frontier) Enqueue(urlKey string, entry atlas.FrontierEntry) (bool, RejectReason) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.maxDepth >= 0 && entry.Depth > f.maxDepth {
		return false, RejectDepthExceeded
	}
	if f.enq.Contains(urlKey) {
		return false, RejectAlreadyQueued
	}

	f.enq.Add(urlKey)
	f.q.Enqueue(entry)
	return true, RejectNone
}

// Pop removes and returns the head entry, or ok=false if empty.
func (f *Frontier) Pop() (atlas.FrontierEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.q.Dequeue()
}

// MarkVisited records urlKey as visited, independent of the enqueued index.
func (f *Frontier) MarkVisited(urlKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vis.Add(urlKey)
}

// Visited reports whether urlKey has already been visited.
func (f *Frontier) Visited(urlKey string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vis.Contains(urlKey)
}

// Size returns the number of entries currently queued.
func (f *Frontier) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.q.Size()
}

// Snapshot captures the current queue and both dedup indices for checkpointing.
func (f *Frontier) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries := make([]atlas.FrontierEntry, f.q.Size())
	copy(entries, f.q)

	enqueued := make([]string, 0, f.enq.Size())
	for k := range f.enq {
		enqueued = append(enqueued, k)
	}
	visited := make([]string, 0, f.vis.Size())
	for k := range f.vis {
		visited = append(visited, k)
	}

	return Snapshot{Entries: entries, EnqueuedIndex: enqueued, VisitedIndex: visited}
}

// Restore replaces the frontier's state with a previously captured snapshot,
// used when resuming from a checkpoint.
func (f *Frontier) Restore(s Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q := NewFIFOQueue[atlas.FrontierEntry]()
	for _, e := range s.Entries {
		q.Enqueue(e)
	}
	f.q = *q

	f.enq = NewSet[string]()
	for _, k := range s.EnqueuedIndex {
		f.enq.Add(k)
	}
	f.vis = NewSet[string]()
	for _, k := range s.VisitedIndex {
		f.vis.Add(k)
	}
}
