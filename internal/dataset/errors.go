package dataset

import "github.com/rohmanhakim/atlas-crawler/pkg/failure"

// SchemaError reports a record that failed schema validation (ErrSchema in
// spec.md's taxonomy). It is always Recoverable: the scheduler drops the
// offending record and counts it against the error budget, it never aborts
// the crawl on its own.
type SchemaError struct {
	Dataset string
	Message string
}

func (e *SchemaError) Error() string {
	return "dataset " + e.Dataset + ": schema validation: " + e.Message
}

func (e *SchemaError) Severity() failure.Severity {
	return failure.SeverityRecoverable
}

var _ failure.ClassifiedError = (*SchemaError)(nil)
