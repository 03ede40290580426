package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/orenda/api/leadflow-engine/internal/jetstream"
	"gitlab.com/orenda/api/leadflow-engine/internal/model"
	"gitlab.com/orenda/api/leadflow-engine/internal/observer"
	"gitlab.com/orenda/api/leadflow-engine/pkg/logger"
	"gitlab.com/orenda/api/leadflow-engine/pkg/utils"
)

// envelope is the wire shape of every published event.
type envelope struct {
	Topic    string      `json:"topic"`
	TenantID string      `json:"tenant_id"`
	Payload  interface{} `json:"payload"`
	At       time.Time   `json:"at"`
}

// NATSNotifier publishes events to a JetStream subject per topic and tenant.
// Publish failures are logged and counted, never propagated: an event that
// does not arrive is recovered by the dashboard's next status poll.
type NATSNotifier struct {
	js          jetstream.ClientInterface
	baseSubject string
}

// Ensure NATSNotifier implements EventSink
var _ EventSink = (*NATSNotifier)(nil)

// NewNATSNotifier creates a notifier publishing under baseSubject
// (e.g. "v1.notify" -> "v1.notify.lead-updated.<tenant>").
func NewNATSNotifier(js jetstream.ClientInterface, baseSubject string) *NATSNotifier {
	return &NATSNotifier{js: js, baseSubject: baseSubject}
}

// SetupStream ensures the notify stream covers the notifier's subject space.
func (n *NATSNotifier) SetupStream(ctx context.Context, streamName string, maxAgeDays int) error {
	return n.js.SetupStream(ctx, &nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{n.baseSubject + ".>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(maxAgeDays) * 24 * time.Hour,
	})
}

// Publish implements EventSink.
func (n *NATSNotifier) Publish(ctx context.Context, topic model.EventTopic, tenantID string, payload interface{}) {
	log := logger.FromContext(ctx)

	subject := fmt.Sprintf("%s.%s.%s", n.baseSubject, topic, tenantID)
	data := utils.MustMarshalJSON(envelope{
		Topic:    string(topic),
		TenantID: tenantID,
		Payload:  payload,
		At:       utils.Now(),
	})

	if err := n.js.Publish(subject, data, map[string]string{"tenant_id": tenantID}); err != nil {
		log.Warn("Failed to publish event",
			zap.String("topic", string(topic)),
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		observer.IncEventsPublished(string(topic), tenantID, "error")
		return
	}

	observer.IncEventsPublished(string(topic), tenantID, "success")
}
