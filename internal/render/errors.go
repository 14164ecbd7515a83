package render

import "github.com/rohmanhakim/atlas-crawler/pkg/failure"

// Cause classifies why a render attempt failed, for the ErrorRecord written
// alongside a RENDER_FAILED or RENDER_FATAL transition.
type Cause string

const (
	CauseNetwork       Cause = "network"
	CauseTimeout       Cause = "timeout"
	CauseChallenge     Cause = "challenge"
	CauseRequestCap    Cause = "request-cap-exceeded"
	CauseByteCap       Cause = "byte-cap-exceeded"
	CauseHTTPStatus    Cause = "http-status"
	CauseChromeFailure Cause = "chrome-failure"
)

// RenderError is ErrRenderTransient/ErrRenderFatal from the error taxonomy.
// Transient statuses (429, 500, 502, 503, 504) and network errors are
// Retryable; other 4xx are terminal.
type RenderError struct {
	URL        string
	StatusCode int
	Cause      Cause
	Message    string
	Retryable  bool
}

func (e *RenderError) Error() string {
	return "render " + e.URL + ": " + string(e.Cause) + ": " + e.Message
}

func (e *RenderError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *RenderError) IsRetryable() bool {
	return e.Retryable
}

var _ failure.ClassifiedError = (*RenderError)(nil)

// transientStatus reports whether statusCode is one of the render phase's
// retryable status codes.
func transientStatus(statusCode int) bool {
	switch statusCode {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
