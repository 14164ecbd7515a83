package frontier_test

import (
	"testing"

	"github.com/rohmanhakim/atlas-crawler/internal/atlas"
	"github.com/rohmanhakim/atlas-crawler/internal/frontier"
	"github.com/stretchr/testify/assert"
)

func TestEnqueue_RejectsDuplicateUrlKey(t *testing.T) {
	f := frontier.New(-1)

	admitted, reason := f.Enqueue("key-a", atlas.FrontierEntry{URL: "https://example.com/a", Depth: 0})
	assert.True(t, admitted)
	assert.Equal(t, frontier.RejectNone, reason)

	admitted, reason = f.Enqueue("key-a", atlas.FrontierEntry{URL: "https://example.com/a", Depth: 0})
	assert.False(t, admitted)
	assert.Equal(t, frontier.RejectAlreadyQueued, reason)
	assert.Equal(t, 1, f.Size())
}

func TestEnqueue_RejectsOverMaxDepth(t *testing.T) {
	f := frontier.New(1)

	admitted, reason := f.Enqueue("key-a", atlas.FrontierEntry{URL: "https://example.com/a", Depth: 2})
	assert.False(t, admitted)
	assert.Equal(t, frontier.RejectDepthExceeded, reason)
	assert.Equal(t, 0, f.Size())
}

func TestEnqueue_MaxDepthZeroAllowsOnlySeeds(t *testing.T) {
	f := frontier.New(0)

	admitted, _ := f.Enqueue("seed", atlas.FrontierEntry{URL: "https://example.com/", Depth: 0})
	assert.True(t, admitted)

	admitted, reason := f.Enqueue("child", atlas.FrontierEntry{URL: "https://example.com/child", Depth: 1})
	assert.False(t, admitted)
	assert.Equal(t, frontier.RejectDepthExceeded, reason)
}

func TestEnqueue_NegativeMaxDepthIsUnlimited(t *testing.T) {
	f := frontier.New(-1)

	admitted, _ := f.Enqueue("deep", atlas.FrontierEntry{URL: "https://example.com/deep", Depth: 9999})
	assert.True(t, admitted)
}

func TestPop_ReturnsFIFOOrder(t *testing.T) {
	f := frontier.New(-1)
	f.Enqueue("a", atlas.FrontierEntry{URL: "https://example.com/a", Depth: 0})
	f.Enqueue("b", atlas.FrontierEntry{URL: "https://example.com/b", Depth: 0})

	first, ok := f.Pop()
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/a", first.URL)

	second, ok := f.Pop()
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/b", second.URL)

	_, ok = f.Pop()
	assert.False(t, ok)
}

func TestMarkVisitedAndVisited(t *testing.T) {
	f := frontier.New(-1)
	assert.False(t, f.Visited("key-a"))

	f.MarkVisited("key-a")
	assert.True(t, f.Visited("key-a"))
}

func TestSnapshotRestore_RoundTrips(t *testing.T) {
	f := frontier.New(-1)
	f.Enqueue("a", atlas.FrontierEntry{URL: "https://example.com/a", Depth: 0})
	f.Enqueue("b", atlas.FrontierEntry{URL: "https://example.com/b", Depth: 1})
	f.MarkVisited("a")

	snap := f.Snapshot()
	assert.Len(t, snap.Entries, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, snap.EnqueuedIndex)
	assert.ElementsMatch(t, []string{"a"}, snap.VisitedIndex)

	restored := frontier.New(-1)
	restored.Restore(snap)

	assert.Equal(t, 2, restored.Size())
	assert.True(t, restored.Visited("a"))

	// the enqueued index survives restore: re-enqueueing "a" is rejected.
	admitted, reason := restored.Enqueue("a", atlas.FrontierEntry{URL: "https://example.com/a", Depth: 0})
	assert.False(t, admitted)
	assert.Equal(t, frontier.RejectAlreadyQueued, reason)
}
