package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"gitlab.com/orenda/api/leadflow-engine/internal/config"
	"gitlab.com/orenda/api/leadflow-engine/internal/dispatch"
	"gitlab.com/orenda/api/leadflow-engine/internal/model"
	notifiermock "gitlab.com/orenda/api/leadflow-engine/internal/notifier/mock"
	"gitlab.com/orenda/api/leadflow-engine/internal/session"
	sessionmock "gitlab.com/orenda/api/leadflow-engine/internal/session/mock"
	storagemock "gitlab.com/orenda/api/leadflow-engine/internal/storage/mock"
	"gitlab.com/orenda/api/leadflow-engine/internal/usecase"
	"gitlab.com/orenda/api/leadflow-engine/pkg/logger"
)

func init() {
	logger.Log = zap.NewNop()
}

// stubWorker records ticks submitted through the HTTP trigger.
type stubWorker struct {
	mu    sync.Mutex
	tasks []usecase.TickTask
}

func (w *stubWorker) SubmitTick(task usecase.TickTask) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tasks = append(w.tasks, task)
	return nil
}

func (w *stubWorker) Stop() {}

type fixture struct {
	server   *httptest.Server
	events   chan session.Event
	client   *sessionmock.ClientMock
	leadRepo *storagemock.LeadRepoMock
	cfgRepo  *storagemock.TenantConfigRepoMock
	sink     *notifiermock.EventSinkMock
	worker   *stubWorker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	events := make(chan session.Event, 16)
	client := new(sessionmock.ClientMock)
	client.On("BeginAuth", mock.Anything).Return((<-chan session.Event)(events), nil).Maybe()
	client.On("Close").Return(nil).Maybe()

	sink := new(notifiermock.EventSinkMock)
	sink.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()

	registry := session.NewRegistry(
		func(tenantID string) (session.Client, error) { return client, nil },
		sink,
		config.SessionConfig{AuthTimeout: time.Minute, ReconnectBaseDelay: time.Millisecond, ReconnectMaxDelay: time.Millisecond, ReconnectMaxTries: 1},
		zaptest.NewLogger(t),
	)
	t.Cleanup(registry.Close)

	leadRepo := new(storagemock.LeadRepoMock)
	cfgRepo := new(storagemock.TenantConfigRepoMock)
	service := usecase.NewEngagementService(leadRepo, cfgRepo, dispatch.NewDispatcher(registry), sink, usecase.EngagementDefaults{BatchSize: 10})

	worker := &stubWorker{}
	handlers := NewHandlers(registry, service, worker, zaptest.NewLogger(t))

	mux := http.NewServeMux()
	handlers.Register(func(pattern string, handler http.Handler) {
		mux.Handle(pattern, handler)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &fixture{
		server:   server,
		events:   events,
		client:   client,
		leadRepo: leadRepo,
		cfgRepo:  cfgRepo,
		sink:     sink,
		worker:   worker,
	}
}

func (f *fixture) post(t *testing.T, path string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	return resp
}

func TestSessionStatus_UnknownTenantIsUninitialized(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/v1/tenants/tenant-1/session")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, string(session.StateUninitialized), body.State)
}

func TestRequestQR_StartsHandshakeAndSurfacesPayload(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/tenants/tenant-1/session/qr", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f.events <- session.Event{Kind: session.EventQR, QR: "qr-payload"}

	require.Eventually(t, func() bool {
		resp := f.post(t, "/v1/tenants/tenant-1/session/qr", nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var body qrResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false
		}
		return body.QR == "qr-payload" && body.Generation == 1 && body.State == string(session.StateAwaitingScan)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRequestQR_ConflictWhenReady(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/tenants/tenant-1/session/qr", nil)
	resp.Body.Close()
	f.events <- session.Event{Kind: session.EventReady}

	require.Eventually(t, func() bool {
		resp := f.post(t, "/v1/tenants/tenant-1/session/qr", nil)
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusConflict
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSessionReset_RejectsHealthySession(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/tenants/tenant-1/session/reset", nil)
	defer resp.Body.Close()

	// Never-seen tenant: nothing to reset, treated as a no-op.
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestTick_SubmitsToWorker(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/tenants/tenant-1/tick", nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	f.worker.mu.Lock()
	defer f.worker.mu.Unlock()
	require.Len(t, f.worker.tasks, 1)
	assert.Equal(t, "tenant-1", f.worker.tasks[0].TenantID)
}

func TestInbound_ProcessesMessage(t *testing.T) {
	f := newFixture(t)

	lead := model.NewLead(&model.Lead{
		TenantID:    "tenant-1",
		PhoneNumber: "628123456789",
		Stage:       "interest",
		Source:      model.LeadOriginInbound,
	})
	cfg := model.NewTenantConfig(&model.TenantConfig{TenantID: "tenant-1", Active: true})

	f.leadRepo.On("FindByPhone", mock.Anything, "628123456789").Return(lead, nil)
	f.cfgRepo.On("GetConfig", mock.Anything).Return(cfg, nil)
	f.leadRepo.On("Save", mock.Anything, mock.AnythingOfType("model.Lead")).Return(nil)

	body, _ := json.Marshal(inboundRequest{From: "+62 812 3456 789", Text: "does it integrate with my tools?"})
	resp := f.post(t, "/v1/tenants/tenant-1/inbound", body)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	f.leadRepo.AssertCalled(t, "Save", mock.Anything, mock.AnythingOfType("model.Lead"))
	f.sink.AssertCalled(t, "Publish", mock.Anything, model.TopicLeadUpdated, "tenant-1", mock.Anything)
}

func TestInbound_RejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/tenants/tenant-1/inbound", []byte("{not json"))
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, _ := json.Marshal(inboundRequest{From: "no-digits", Text: "hello"})
	resp = f.post(t, "/v1/tenants/tenant-1/inbound", body)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
