// Package notifier publishes lifecycle and engagement events for dashboards.
// Delivery is at-most-once and fire-and-forget; a lost event is reflected by
// the next status query, never by blocking a mutation.
package notifier

import (
	"context"

	"gitlab.com/orenda/api/leadflow-engine/internal/model"
)

// EventSink accepts published events. Implementations must not block the
// caller beyond the transport's own publish call and must never return
// control-flow errors to mutation paths.
type EventSink interface {
	Publish(ctx context.Context, topic model.EventTopic, tenantID string, payload interface{})
}

// Noop is an EventSink that discards everything. Used when no transport is
// configured and in tests that do not assert on events.
type Noop struct{}

// Publish implements EventSink.
func (Noop) Publish(ctx context.Context, topic model.EventTopic, tenantID string, payload interface{}) {
}
