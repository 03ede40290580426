package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"gitlab.com/orenda/api/leadflow-engine/internal/apperrors"
	"gitlab.com/orenda/api/leadflow-engine/internal/config"
	"gitlab.com/orenda/api/leadflow-engine/internal/model"
	"gitlab.com/orenda/api/leadflow-engine/pkg/logger"
)

func init() {
	logger.Log = zap.NewNop()
}

// fakeClient is a scripted external messaging client driven by a channel.
type fakeClient struct {
	mu      sync.Mutex
	events  chan Event
	sent    []string
	sendErr error
	closed  bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan Event, 16)}
}

func (c *fakeClient) BeginAuth(ctx context.Context) (<-chan Event, error) {
	return c.events, nil
}

func (c *fakeClient) Send(ctx context.Context, recipient, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, recipient)
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// captureSink records published topics.
type captureSink struct {
	mu     sync.Mutex
	topics []model.EventTopic
}

func (s *captureSink) Publish(ctx context.Context, topic model.EventTopic, tenantID string, payload interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, topic)
}

func (s *captureSink) has(topic model.EventTopic) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.topics {
		if t == topic {
			return true
		}
	}
	return false
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		AuthTimeout:        time.Minute,
		ReconnectBaseDelay: 5 * time.Millisecond,
		ReconnectMaxDelay:  20 * time.Millisecond,
		ReconnectMaxTries:  2,
	}
}

// testRegistry wires a registry over a sequence of fake clients; the factory
// hands them out in order. The returned counter reports factory invocations.
func testRegistry(t *testing.T, sink *captureSink, clients ...*fakeClient) (*Registry, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	factory := func(tenantID string) (Client, error) {
		n := int(calls.Add(1))
		if n > len(clients) {
			return nil, errors.New("factory exhausted")
		}
		return clients[n-1], nil
	}
	if sink == nil {
		sink = &captureSink{}
	}
	r := NewRegistry(factory, sink, testSessionConfig(), zaptest.NewLogger(t))
	return r, &calls
}

func awaitState(t *testing.T, r *Registry, tenantID string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.Status(tenantID).State == want
	}, 2*time.Second, 5*time.Millisecond, "expected state %s, got %s", want, r.Status(tenantID).State)
}

func TestRequestAuthentication_MintsQRAndJoinsExistingHandshake(t *testing.T) {
	client := newFakeClient()
	sink := &captureSink{}
	r, calls := testRegistry(t, sink, client)

	_, err := r.RequestAuthentication(context.Background(), "tenant-1")
	require.NoError(t, err)

	client.events <- Event{Kind: EventQR, QR: "qr-payload-1"}
	awaitState(t, r, "tenant-1", StateAwaitingScan)

	// Second request joins, returns the pending QR and starts no second
	// handshake.
	qr, err := r.RequestAuthentication(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "qr-payload-1", qr.Payload)
	assert.Equal(t, uint64(1), qr.Generation)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, sink.has(model.TopicSessionQR))
}

func TestQRGenerationIncreasesMonotonically(t *testing.T) {
	client := newFakeClient()
	r, _ := testRegistry(t, nil, client)

	_, err := r.RequestAuthentication(context.Background(), "tenant-1")
	require.NoError(t, err)

	client.events <- Event{Kind: EventQR, QR: "first"}
	client.events <- Event{Kind: EventQR, QR: "second"}

	require.Eventually(t, func() bool {
		qr, err := r.RequestAuthentication(context.Background(), "tenant-1")
		return err == nil && qr.Generation == 2 && qr.Payload == "second"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFullHandshakeToReady(t *testing.T) {
	client := newFakeClient()
	sink := &captureSink{}
	r, _ := testRegistry(t, sink, client)

	_, err := r.RequestAuthentication(context.Background(), "tenant-1")
	require.NoError(t, err)

	client.events <- Event{Kind: EventQR, QR: "qr"}
	client.events <- Event{Kind: EventAuthenticated}
	awaitState(t, r, "tenant-1", StateAuthenticating)

	client.events <- Event{Kind: EventReady}
	awaitState(t, r, "tenant-1", StateReady)

	// A ready session mints no new QR.
	_, err = r.RequestAuthentication(context.Background(), "tenant-1")
	assert.ErrorIs(t, err, ErrAlreadyReady)

	assert.True(t, sink.has(model.TopicSessionAuthenticating))
	assert.True(t, sink.has(model.TopicSessionReady))
}

func TestSend_RequiresReadySession(t *testing.T) {
	client := newFakeClient()
	r, _ := testRegistry(t, nil, client)

	// Unknown tenant.
	err := r.Send(context.Background(), "tenant-1", "628123", "hi")
	assert.ErrorIs(t, err, apperrors.ErrSessionNotReady)

	// Mid-handshake.
	_, err = r.RequestAuthentication(context.Background(), "tenant-1")
	require.NoError(t, err)
	client.events <- Event{Kind: EventQR, QR: "qr"}
	awaitState(t, r, "tenant-1", StateAwaitingScan)

	err = r.Send(context.Background(), "tenant-1", "628123", "hi")
	assert.ErrorIs(t, err, apperrors.ErrSessionNotReady)
}

func TestSend_DeliversAndWrapsFailures(t *testing.T) {
	client := newFakeClient()
	r, _ := testRegistry(t, nil, client)

	_, err := r.RequestAuthentication(context.Background(), "tenant-1")
	require.NoError(t, err)
	client.events <- Event{Kind: EventReady}
	awaitState(t, r, "tenant-1", StateReady)

	require.NoError(t, r.Send(context.Background(), "tenant-1", "628123", "hi"))
	assert.Equal(t, 1, client.sentCount())

	client.mu.Lock()
	client.sendErr = errors.New("socket gone")
	client.mu.Unlock()

	err = r.Send(context.Background(), "tenant-1", "628123", "hi again")
	assert.ErrorIs(t, err, apperrors.ErrSendFailed)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestPermanentDisconnectFailsUntilReset(t *testing.T) {
	client := newFakeClient()
	second := newFakeClient()
	r, calls := testRegistry(t, nil, client, second)

	_, err := r.RequestAuthentication(context.Background(), "tenant-1")
	require.NoError(t, err)

	client.events <- Event{Kind: EventDisconnected, Reason: "logged out", Permanent: true}
	awaitState(t, r, "tenant-1", StateFailed)
	assert.Equal(t, "logged out", r.Status("tenant-1").FailReason)

	// Failed is terminal for authentication requests.
	_, err = r.RequestAuthentication(context.Background(), "tenant-1")
	assert.True(t, apperrors.IsAuthFailedError(err))

	// Reset returns to Uninitialized and a fresh handshake works.
	require.NoError(t, r.Reset(context.Background(), "tenant-1"))
	assert.Equal(t, StateUninitialized, r.Status("tenant-1").State)

	_, err = r.RequestAuthentication(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestReset_RejectsNonFailedSessions(t *testing.T) {
	client := newFakeClient()
	r, _ := testRegistry(t, nil, client)

	_, err := r.RequestAuthentication(context.Background(), "tenant-1")
	require.NoError(t, err)
	client.events <- Event{Kind: EventReady}
	awaitState(t, r, "tenant-1", StateReady)

	err = r.Reset(context.Background(), "tenant-1")
	assert.Error(t, err)
}

func TestTransientDisconnectReconnects(t *testing.T) {
	first := newFakeClient()
	second := newFakeClient()
	r, calls := testRegistry(t, nil, first, second)

	_, err := r.RequestAuthentication(context.Background(), "tenant-1")
	require.NoError(t, err)
	first.events <- Event{Kind: EventReady}
	awaitState(t, r, "tenant-1", StateReady)

	first.events <- Event{Kind: EventDisconnected, Reason: "network blip"}

	require.Eventually(t, func() bool {
		return calls.Load() == 2
	}, 2*time.Second, 5*time.Millisecond)

	second.events <- Event{Kind: EventReady}
	awaitState(t, r, "tenant-1", StateReady)
}

func TestReauthenticationClosesPreviousClient(t *testing.T) {
	first := newFakeClient()
	second := newFakeClient()
	r, calls := testRegistry(t, nil, first, second)

	_, err := r.RequestAuthentication(context.Background(), "tenant-1")
	require.NoError(t, err)
	first.events <- Event{Kind: EventReady}
	awaitState(t, r, "tenant-1", StateReady)

	// The client's event stream ending leaves the session Disconnected.
	close(first.events)
	awaitState(t, r, "tenant-1", StateDisconnected)

	// A fresh authentication request hands the session to a new client and
	// releases the old handle.
	_, err = r.RequestAuthentication(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	require.Eventually(t, first.isClosed, 2*time.Second, 5*time.Millisecond,
		"previous client handle was not closed")

	second.events <- Event{Kind: EventQR, QR: "qr-next"}
	second.events <- Event{Kind: EventReady}
	awaitState(t, r, "tenant-1", StateReady)
}

func TestAuthenticationTimeoutFailsSession(t *testing.T) {
	client := newFakeClient()
	cfg := testSessionConfig()
	cfg.AuthTimeout = 20 * time.Millisecond
	factory := func(tenantID string) (Client, error) { return client, nil }
	r := NewRegistry(factory, &captureSink{}, cfg, zaptest.NewLogger(t))

	_, err := r.RequestAuthentication(context.Background(), "tenant-1")
	require.NoError(t, err)

	client.events <- Event{Kind: EventAuthenticated}
	awaitState(t, r, "tenant-1", StateFailed)
	assert.Equal(t, "authentication timed out", r.Status("tenant-1").FailReason)
}

func TestDrop_TearsDownSession(t *testing.T) {
	client := newFakeClient()
	r, _ := testRegistry(t, nil, client)

	_, err := r.RequestAuthentication(context.Background(), "tenant-1")
	require.NoError(t, err)
	client.events <- Event{Kind: EventReady}
	awaitState(t, r, "tenant-1", StateReady)

	r.Drop(context.Background(), "tenant-1")

	assert.Equal(t, StateUninitialized, r.Status("tenant-1").State)
	client.mu.Lock()
	closed := client.closed
	client.mu.Unlock()
	assert.True(t, closed)

	err = r.Send(context.Background(), "tenant-1", "628123", "hi")
	assert.ErrorIs(t, err, apperrors.ErrSessionNotReady)
}
