package mock

import (
	"context"

	"github.com/stretchr/testify/mock"
	"gitlab.com/orenda/api/leadflow-engine/internal/session"
)

// ClientMock mocks the external messaging-session client
type ClientMock struct {
	mock.Mock
}

// BeginAuth mocks the BeginAuth method
func (m *ClientMock) BeginAuth(ctx context.Context) (<-chan session.Event, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan session.Event), args.Error(1)
}

// Send mocks the Send method
func (m *ClientMock) Send(ctx context.Context, recipient, text string) error {
	args := m.Called(ctx, recipient, text)
	return args.Error(0)
}

// Close mocks the Close method
func (m *ClientMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
