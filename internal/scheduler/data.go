package scheduler

import (
	"time"

	"github.com/rohmanhakim/atlas-crawler/internal/atlas"
)

// CrawlResult is what Run returns once the coordinator loop exits: the
// reason it stopped plus the final tallies also mirrored onto AtlasSummary.
type CrawlResult struct {
	Reason           atlas.CompletionReason
	GracefulShutdown bool
	PagesWritten     int
	ErrorCount       int
	Duration         time.Duration
}

// renderJob is one unit of dispatch work handed to a render worker.
type renderJob struct {
	entry     atlas.FrontierEntry
	urlKey    string
	targetURL string
}

// renderOutcome is what a render worker reports back on the single inbound
// results channel the coordinator owns, per the concurrency model: workers
// never touch the frontier, dataset writers, or checkpoint store directly.
type renderOutcome struct {
	job    renderJob
	result atlas.RenderResult
	err    error
}
