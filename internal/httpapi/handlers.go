// Package httpapi exposes the engine's trigger surface over HTTP: QR
// requests, session status, manual scheduler ticks and inbound message
// injection. The surrounding application normally drives these through the
// orchestrator and its own transport; the HTTP surface exists for dashboards
// and operators.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/orenda/api/leadflow-engine/internal/apperrors"
	"gitlab.com/orenda/api/leadflow-engine/internal/session"
	"gitlab.com/orenda/api/leadflow-engine/internal/tenant"
	"gitlab.com/orenda/api/leadflow-engine/internal/usecase"
	"gitlab.com/orenda/api/leadflow-engine/pkg/logger"
	"gitlab.com/orenda/api/leadflow-engine/pkg/utils"
)

// Handlers bundles the HTTP trigger endpoints.
type Handlers struct {
	registry *session.Registry
	service  *usecase.EngagementService
	worker   usecase.ITickWorker
	logger   *zap.Logger
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(registry *session.Registry, service *usecase.EngagementService, worker usecase.ITickWorker, baseLogger *zap.Logger) *Handlers {
	return &Handlers{
		registry: registry,
		service:  service,
		worker:   worker,
		logger:   baseLogger.Named("httpapi"),
	}
}

// Register mounts all endpoints on the mux.
func (h *Handlers) Register(mount func(pattern string, handler http.Handler)) {
	mount("POST /v1/tenants/{tenantID}/session/qr", http.HandlerFunc(h.handleRequestQR))
	mount("GET /v1/tenants/{tenantID}/session", http.HandlerFunc(h.handleSessionStatus))
	mount("POST /v1/tenants/{tenantID}/session/reset", http.HandlerFunc(h.handleSessionReset))
	mount("POST /v1/tenants/{tenantID}/tick", http.HandlerFunc(h.handleTick))
	mount("POST /v1/tenants/{tenantID}/inbound", http.HandlerFunc(h.handleInbound))
}

type errorResponse struct {
	Error string `json:"error"`
}

type qrResponse struct {
	State      string `json:"state"`
	QR         string `json:"qr,omitempty"`
	Generation uint64 `json:"generation,omitempty"`
}

type statusResponse struct {
	State      string `json:"state"`
	FailReason string `json:"fail_reason,omitempty"`
}

type inboundRequest struct {
	From string `json:"from"`
	Text string `json:"text"`
}

// requestContext derives a per-request context carrying tenant and request
// IDs for downstream logging.
func requestContext(r *http.Request, tenantID string) *http.Request {
	ctx := tenant.WithTenantID(r.Context(), tenantID)
	ctx = tenant.WithRequestID(ctx, uuid.NewString())
	return r.WithContext(ctx)
}

func (h *Handlers) handleRequestQR(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	r = requestContext(r, tenantID)

	qr, err := h.registry.RequestAuthentication(r.Context(), tenantID)
	switch {
	case errors.Is(err, session.ErrAlreadyReady):
		utils.WriteJSONResponse(w, http.StatusConflict, errorResponse{Error: "session already ready"})
		return
	case apperrors.IsAuthFailedError(err):
		utils.WriteJSONResponse(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	case err != nil:
		logger.FromContext(r.Context()).Error("QR request failed", zap.Error(err))
		utils.WriteJSONResponse(w, http.StatusInternalServerError, errorResponse{Error: "failed to start authentication"})
		return
	}

	status := h.registry.Status(tenantID)
	utils.WriteJSONResponse(w, http.StatusOK, qrResponse{
		State:      string(status.State),
		QR:         qr.Payload,
		Generation: qr.Generation,
	})
}

func (h *Handlers) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	status := h.registry.Status(tenantID)
	utils.WriteJSONResponse(w, http.StatusOK, statusResponse{
		State:      string(status.State),
		FailReason: status.FailReason,
	})
}

func (h *Handlers) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	r = requestContext(r, tenantID)

	if err := h.registry.Reset(r.Context(), tenantID); err != nil {
		utils.WriteJSONResponse(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleTick(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	r = requestContext(r, tenantID)

	// Manual ticks go through the same pool as timed ones. The task outlives
	// this request, so it gets a fresh context rather than the request's.
	tickCtx := tenant.WithTenantID(context.Background(), tenantID)
	tickCtx = tenant.WithRequestID(tickCtx, uuid.NewString())
	task := usecase.TickTask{Ctx: tickCtx, TenantID: tenantID}
	if err := h.worker.SubmitTick(task); err != nil {
		utils.WriteJSONResponse(w, http.StatusServiceUnavailable, errorResponse{Error: "tick queue full"})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handlers) handleInbound(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	r = requestContext(r, tenantID)

	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSONResponse(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	err := h.service.OnInboundMessage(r.Context(), req.From, req.Text)
	switch {
	case errors.Is(err, apperrors.ErrInvalidRecipient):
		utils.WriteJSONResponse(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case err != nil:
		logger.FromContext(r.Context()).Error("Inbound message processing failed", zap.Error(err))
		utils.WriteJSONResponse(w, http.StatusInternalServerError, errorResponse{Error: "failed to process message"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
