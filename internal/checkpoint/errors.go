package checkpoint

import "github.com/rohmanhakim/atlas-crawler/pkg/failure"

// CorruptError is ErrCorruptCheckpoint: checkpoint.json cannot be read or
// parsed, or it exists but one of its sibling files is missing or
// unreadable — a torn triplet. Always
// Fatal: a torn checkpoint cannot be resumed from, the caller must fall
// back to starting fresh or abort.
type CorruptError struct {
	Path    string
	Message string
}

func (e *CorruptError) Error() string {
	return "corrupt checkpoint at " + e.Path + ": " + e.Message
}

func (e *CorruptError) Severity() failure.Severity {
	return failure.SeverityFatal
}

var _ failure.ClassifiedError = (*CorruptError)(nil)
