package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gitlab.com/orenda/api/leadflow-engine/internal/model"
	"gitlab.com/orenda/api/leadflow-engine/internal/observer"
	"gitlab.com/orenda/api/leadflow-engine/pkg/logger"
	"gitlab.com/orenda/api/leadflow-engine/pkg/utils"
)

// Sender delivers one message through a tenant's session. Implemented by
// session.Registry.
type Sender interface {
	Send(ctx context.Context, tenantID, recipient, text string) error
}

// Item is one message queued for a batch.
type Item struct {
	Lead    model.Lead
	Message string
	Kind    string // "initial" or "followup", for metrics only
}

// SendResult records the outcome of one send attempt. Timestamp is set only
// on success.
type SendResult struct {
	LeadID    string
	Success   bool
	Timestamp time.Time
	Err       error
}

// Dispatcher paces batched sends through a Sender. Failed sends are recorded
// and skipped, never retried; the next tick picks the lead up again.
type Dispatcher struct {
	sender Sender
}

// NewDispatcher creates a dispatcher over the given sender.
func NewDispatcher(sender Sender) *Dispatcher {
	return &Dispatcher{sender: sender}
}

// SendBatch sends up to batchSize items in order, waiting delay between
// consecutive sends. It returns one result per attempted item. The batch
// stops early only when ctx is cancelled.
func (d *Dispatcher) SendBatch(ctx context.Context, tenantID string, items []Item, batchSize int, delay time.Duration) []SendResult {
	log := logger.FromContext(ctx)

	if batchSize > 0 && len(items) > batchSize {
		items = items[:batchSize]
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if delay > 0 {
		limiter = rate.NewLimiter(rate.Every(delay), 1)
	}

	results := make([]SendResult, 0, len(items))
	for _, item := range items {
		if err := limiter.Wait(ctx); err != nil {
			// Context cancelled; remaining items stay unsent and untouched.
			break
		}

		start := time.Now()
		err := d.sender.Send(ctx, tenantID, item.Lead.PhoneNumber, item.Message)
		observer.ObserveSendDuration(tenantID, time.Since(start))

		if err != nil {
			log.Warn("Send failed, continuing batch",
				zap.String("lead_id", item.Lead.ID),
				zap.String("recipient", item.Lead.PhoneNumber),
				zap.Error(err),
			)
			observer.IncSendFailures(tenantID, item.Kind)
			results = append(results, SendResult{LeadID: item.Lead.ID, Err: err})
			continue
		}

		observer.IncMessagesSent(tenantID, item.Kind)
		results = append(results, SendResult{
			LeadID:    item.Lead.ID,
			Success:   true,
			Timestamp: utils.Now(),
		})
	}
	return results
}
