// Package events records operational events and errors for a crawl:
// checkpoints, shutdowns, rate-limit waits, robots denials, and the
// ErrorRecord taxonomy of spec §7. It is observational only — nothing here
// feeds back into scheduling decisions.
package events

import (
	"github.com/rohmanhakim/atlas-crawler/internal/atlas"
	"github.com/rs/zerolog"
)

// AttributeKey names a well-known field on a logged event. Kept as a closed
// set so callers can't typo a field name that downstream dashboards key off.
type AttributeKey string

const (
	AttrHost       AttributeKey = "host"
	AttrURL        AttributeKey = "url"
	AttrDepth      AttributeKey = "depth"
	AttrReason     AttributeKey = "reason"
	AttrPageID     AttributeKey = "pageId"
	AttrDataset    AttributeKey = "dataset"
	AttrAttempt    AttributeKey = "attempt"
	AttrStatusCode AttributeKey = "statusCode"
)

// Attribute is one key/value pair attached to a logged event.
type Attribute struct {
	Key   AttributeKey
	Value any
}

func A(key AttributeKey, value any) Attribute {
	return Attribute{Key: key, Value: value}
}

// Sink is where crawl components report what happened. It never returns an
// error; the zerolog-backed implementation writes synchronously through its
// logger, so a slow writer slows the caller.
type Sink interface {
	// Info/Warn/Error log a structured operational message.
	Info(kind string, attrs ...Attribute)
	Warn(kind string, attrs ...Attribute)
	Error(kind string, attrs ...Attribute)

	// RecordError reports a counted ErrorRecord (routed to the errors
	// dataset by the caller; the sink only logs it here).
	RecordError(rec atlas.ErrorRecord)

	// RecordEvent reports a non-error operational event. The sink only logs
	// it; the scheduler does not write EventRecords to the events dataset.
	RecordEvent(rec atlas.EventRecord)

	// ErrorCount returns the number of RecordError calls made so far,
	// used by the scheduler to evaluate the error budget.
	ErrorCount() int
}

// zerologSink is the production Sink, backed by a structured logger.
type zerologSink struct {
	log     zerolog.Logger
	counter *int
}

// NewZerologSink builds a Sink that writes through log.
func NewZerologSink(log zerolog.Logger) Sink {
	count := 0
	return &zerologSink{log: log, counter: &count}
}

func attachAttrs(ev *zerolog.Event, attrs []Attribute) *zerolog.Event {
	for _, a := range attrs {
		ev = ev.Interface(string(a.Key), a.Value)
	}
	return ev
}

func (s *zerologSink) Info(kind string, attrs ...Attribute) {
	attachAttrs(s.log.Info(), attrs).Msg(kind)
}

func (s *zerologSink) Warn(kind string, attrs ...Attribute) {
	attachAttrs(s.log.Warn(), attrs).Msg(kind)
}

func (s *zerologSink) Error(kind string, attrs ...Attribute) {
	attachAttrs(s.log.Error(), attrs).Msg(kind)
}

func (s *zerologSink) RecordError(rec atlas.ErrorRecord) {
	*s.counter++
	s.log.Error().
		Str("phase", string(rec.Phase)).
		Str("code", rec.Code).
		Str("url", rec.URL).
		Time("occurredAt", rec.OccurredAt).
		Msg(rec.Message)
}

func (s *zerologSink) RecordEvent(rec atlas.EventRecord) {
	ev := s.log.Info().Time("timestamp", rec.Timestamp)
	for k, v := range rec.Fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(rec.Kind)
}

func (s *zerologSink) ErrorCount() int {
	return *s.counter
}
