package mock

import (
	"context"

	"github.com/stretchr/testify/mock"
	"gitlab.com/orenda/api/leadflow-engine/internal/model"
)

// EventSinkMock mocks the notifier.EventSink interface
type EventSinkMock struct {
	mock.Mock
}

// Publish mocks the Publish method
func (m *EventSinkMock) Publish(ctx context.Context, topic model.EventTopic, tenantID string, payload interface{}) {
	m.Called(ctx, topic, tenantID, payload)
}
