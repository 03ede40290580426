// Package session owns the per-tenant messaging-session lifecycle: the
// authentication handshake, readiness state, QR payload bookkeeping and
// reconnection. The registry is the sole owner of each tenant's external
// client handle; all sends for a tenant are serialized through it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"gitlab.com/orenda/api/leadflow-engine/internal/apperrors"
	"gitlab.com/orenda/api/leadflow-engine/internal/config"
	"gitlab.com/orenda/api/leadflow-engine/internal/model"
	"gitlab.com/orenda/api/leadflow-engine/internal/notifier"
	"gitlab.com/orenda/api/leadflow-engine/internal/observer"
	"gitlab.com/orenda/api/leadflow-engine/pkg/utils"
)

// State is the lifecycle state of a tenant session.
type State string

const (
	StateUninitialized  State = "UNINITIALIZED"
	StateAwaitingScan   State = "AWAITING_SCAN"
	StateAuthenticating State = "AUTHENTICATING"
	StateReady          State = "READY"
	StateDisconnected   State = "DISCONNECTED"
	StateFailed         State = "FAILED"
)

// ErrAlreadyReady is returned by RequestAuthentication when the tenant
// session is already authenticated; no new QR is minted.
var ErrAlreadyReady = errors.New("session already ready")

// QR is an authentication artifact plus its generation counter. Only the
// latest generation is ever servable; callers holding an older generation are
// looking at a superseded scan cycle.
type QR struct {
	Payload    string
	Generation uint64
}

// Status is a point-in-time snapshot of a tenant session.
type Status struct {
	State      State
	FailReason string
}

// Registry maps tenant IDs to live session handles behind a mutex-guarded
// table. One registry per process.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*tenantSession

	factory    ClientFactory
	sink       notifier.EventSink
	cfg        config.SessionConfig
	baseLogger *zap.Logger
}

type tenantSession struct {
	tenantID string

	mu           sync.Mutex
	state        State
	qr           QR
	failReason   string
	client       Client
	cancel       context.CancelFunc // stops the event pump
	authTimer    *time.Timer
	authInFlight bool
	reconnecting bool

	// Serializes outbound sends for this tenant's single identity.
	sendMu sync.Mutex
}

// NewRegistry creates a session registry.
func NewRegistry(factory ClientFactory, sink notifier.EventSink, cfg config.SessionConfig, baseLogger *zap.Logger) *Registry {
	return &Registry{
		sessions:   make(map[string]*tenantSession),
		factory:    factory,
		sink:       sink,
		cfg:        cfg,
		baseLogger: baseLogger.Named("session_registry"),
	}
}

// RequestAuthentication begins (or joins) the authentication handshake for a
// tenant. If a QR is already pending the latest one is returned and no second
// handshake is started. If the session is already Ready, ErrAlreadyReady is
// returned. Callers poll Status and the session-qr event for the payload when
// the handshake has only just begun.
func (r *Registry) RequestAuthentication(ctx context.Context, tenantID string) (QR, error) {
	s := r.session(tenantID)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateReady:
		return QR{}, ErrAlreadyReady
	case StateFailed:
		return QR{}, apperrors.NewFatal(apperrors.ErrAuthFailed, "session failed (%s), reset required", s.failReason)
	case StateAwaitingScan, StateAuthenticating:
		// Handshake already outstanding; joining it is a no-op.
		return s.qr, nil
	}

	if s.authInFlight {
		return s.qr, nil
	}
	if err := r.beginHandshakeLocked(ctx, s); err != nil {
		return QR{}, err
	}
	return s.qr, nil
}

// Status reports the lifecycle state of a tenant session. Tenants never seen
// before are Uninitialized.
func (r *Registry) Status(tenantID string) Status {
	r.mu.Lock()
	s, ok := r.sessions[tenantID]
	r.mu.Unlock()
	if !ok {
		return Status{State: StateUninitialized}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{State: s.state, FailReason: s.failReason}
}

// Send forwards one message through the tenant's session. Fails with
// ErrSessionNotReady unless the session is Ready. Retry policy lives in the
// dispatcher, not here.
func (r *Registry) Send(ctx context.Context, tenantID, recipient, text string) error {
	r.mu.Lock()
	s, ok := r.sessions[tenantID]
	r.mu.Unlock()
	if !ok {
		return apperrors.ErrSessionNotReady
	}

	s.mu.Lock()
	if s.state != StateReady || s.client == nil {
		s.mu.Unlock()
		return apperrors.ErrSessionNotReady
	}
	client := s.client
	s.mu.Unlock()

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := client.Send(ctx, recipient, text); err != nil {
		return apperrors.NewRetryable(fmt.Errorf("%w: %v", apperrors.ErrSendFailed, err), "send to %s failed", recipient)
	}
	return nil
}

// Reset returns a Failed session to Uninitialized so a fresh handshake can be
// requested. No-op for sessions in any other state.
func (r *Registry) Reset(ctx context.Context, tenantID string) error {
	r.mu.Lock()
	s, ok := r.sessions[tenantID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFailed {
		return apperrors.NewFatal(apperrors.ErrConflict, "reset requires a failed session, state is %s", s.state)
	}
	r.teardownLocked(s)
	s.state = StateUninitialized
	s.failReason = ""
	s.qr = QR{Generation: s.qr.Generation} // payload cleared, counter keeps rising
	return nil
}

// Drop tears down a tenant's session entirely, e.g. on tenant deactivation.
// In-flight sends holding the send lock are allowed to finish; no new sends
// are admitted afterwards.
func (r *Registry) Drop(ctx context.Context, tenantID string) {
	r.mu.Lock()
	s, ok := r.sessions[tenantID]
	if ok {
		delete(r.sessions, tenantID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	r.teardownLocked(s)
	s.state = StateDisconnected
	s.mu.Unlock()

	r.baseLogger.Info("Dropped tenant session", zap.String("tenant_id", tenantID))
	observer.IncSessionTransition(tenantID, string(StateDisconnected))
}

// Close drops every session. Called on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Drop(context.Background(), id)
	}
}

func (r *Registry) session(tenantID string) *tenantSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tenantID]
	if !ok {
		s = &tenantSession{tenantID: tenantID, state: StateUninitialized}
		r.sessions[tenantID] = s
	}
	return s
}

// beginHandshakeLocked starts the external handshake. Caller holds s.mu.
// Any previous client handle is torn down first; the session owns at most one
// live client at a time.
func (r *Registry) beginHandshakeLocked(ctx context.Context, s *tenantSession) error {
	log := r.baseLogger.With(zap.String("tenant_id", s.tenantID))

	r.teardownLocked(s)

	client, err := r.factory(s.tenantID)
	if err != nil {
		return apperrors.NewFatal(err, "failed to construct messaging client for tenant %s", s.tenantID)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	events, err := client.BeginAuth(pumpCtx)
	if err != nil {
		cancel()
		_ = client.Close()
		return apperrors.NewRetryable(err, "handshake start failed for tenant %s", s.tenantID)
	}

	s.client = client
	s.cancel = cancel
	s.authInFlight = true

	utils.SafeGo(func() {
		r.pumpEvents(pumpCtx, s, events)
	}, func(rec interface{}, stack []byte) {
		log.Error("[panic] Recovered from panic in session event pump",
			zap.Any("panic", rec),
			zap.ByteString("stack", stack),
		)
	})

	log.Info("Authentication handshake started")
	return nil
}

// pumpEvents consumes the client's lifecycle stream and drives the state
// machine. Runs on its own goroutine, one per handshake.
func (r *Registry) pumpEvents(ctx context.Context, s *tenantSession, events <-chan Event) {
	log := r.baseLogger.With(zap.String("tenant_id", s.tenantID))

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			// A superseded pump must not touch the state machine; its
			// replacement already owns the session.
			if ctx.Err() != nil {
				return
			}
			if !ok {
				r.onStreamClosed(s)
				return
			}
			switch ev.Kind {
			case EventQR:
				r.onQR(s, ev.QR)
			case EventAuthenticated:
				r.onAuthenticated(s)
			case EventReady:
				r.onReady(s)
			case EventDisconnected:
				r.onDisconnected(s, ev.Reason, ev.Permanent)
				if ev.Permanent {
					return
				}
			default:
				log.Warn("Unknown session event kind", zap.String("kind", string(ev.Kind)))
			}
		}
	}
}

func (r *Registry) onQR(s *tenantSession, payload string) {
	s.mu.Lock()
	s.qr = QR{Payload: payload, Generation: s.qr.Generation + 1}
	s.state = StateAwaitingScan
	qr := s.qr
	s.mu.Unlock()

	observer.IncQRGenerated(s.tenantID)
	observer.IncSessionTransition(s.tenantID, string(StateAwaitingScan))
	r.sink.Publish(context.Background(), model.TopicSessionQR, s.tenantID, model.SessionEventPayload{
		State: string(StateAwaitingScan),
		QR:    qr.Payload,
		QRGen: qr.Generation,
		At:    utils.Now(),
	})
}

func (r *Registry) onAuthenticated(s *tenantSession) {
	s.mu.Lock()
	s.state = StateAuthenticating
	// QR is only retained while awaiting scan.
	s.qr = QR{Generation: s.qr.Generation}
	r.armAuthTimerLocked(s)
	s.mu.Unlock()

	observer.IncSessionTransition(s.tenantID, string(StateAuthenticating))
	r.sink.Publish(context.Background(), model.TopicSessionAuthenticating, s.tenantID, model.SessionEventPayload{
		State: string(StateAuthenticating),
		At:    utils.Now(),
	})
}

func (r *Registry) onReady(s *tenantSession) {
	s.mu.Lock()
	s.state = StateReady
	s.qr = QR{Generation: s.qr.Generation}
	s.authInFlight = false
	s.disarmAuthTimerLocked()
	s.mu.Unlock()

	r.baseLogger.Info("Session ready", zap.String("tenant_id", s.tenantID))
	observer.IncSessionTransition(s.tenantID, string(StateReady))
	r.sink.Publish(context.Background(), model.TopicSessionReady, s.tenantID, model.SessionEventPayload{
		State: string(StateReady),
		At:    utils.Now(),
	})
}

func (r *Registry) onDisconnected(s *tenantSession, reason string, permanent bool) {
	s.mu.Lock()
	s.authInFlight = false
	s.disarmAuthTimerLocked()
	if permanent {
		r.teardownLocked(s)
		s.state = StateFailed
		s.failReason = reason
	} else {
		s.state = StateDisconnected
	}
	state := s.state
	alreadyReconnecting := s.reconnecting
	if !permanent && !alreadyReconnecting {
		s.reconnecting = true
	}
	s.mu.Unlock()

	r.baseLogger.Warn("Session disconnected",
		zap.String("tenant_id", s.tenantID),
		zap.String("reason", reason),
		zap.Bool("permanent", permanent),
	)
	observer.IncSessionTransition(s.tenantID, string(state))
	r.sink.Publish(context.Background(), model.TopicSessionDisconnected, s.tenantID, model.SessionEventPayload{
		State:  string(state),
		Reason: reason,
		At:     utils.Now(),
	})

	if !permanent && !alreadyReconnecting {
		r.scheduleReconnect(s)
	}
}

func (r *Registry) onStreamClosed(s *tenantSession) {
	s.mu.Lock()
	closedWhileFailed := s.state == StateFailed
	if !closedWhileFailed && s.state != StateDisconnected {
		s.state = StateDisconnected
		s.authInFlight = false
		s.disarmAuthTimerLocked()
	}
	s.mu.Unlock()

	if !closedWhileFailed {
		observer.IncSessionTransition(s.tenantID, string(StateDisconnected))
	}
}

// scheduleReconnect retries the handshake with exponential backoff after a
// transient disconnect. Gives up into Failed after the configured attempts.
func (r *Registry) scheduleReconnect(s *tenantSession) {
	log := r.baseLogger.With(zap.String("tenant_id", s.tenantID))

	utils.SafeGo(func() {
		defer func() {
			s.mu.Lock()
			s.reconnecting = false
			s.mu.Unlock()
		}()

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = r.cfg.ReconnectBaseDelay
		bo.MaxInterval = r.cfg.ReconnectMaxDelay
		bo.MaxElapsedTime = 0

		attempt := func() error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.state != StateDisconnected {
				return nil // someone else moved the session, stop retrying
			}
			if s.authInFlight {
				return nil // an operator-initiated handshake already owns the session
			}
			return r.beginHandshakeLocked(context.Background(), s)
		}

		err := backoff.Retry(attempt, backoff.WithMaxRetries(bo, r.cfg.ReconnectMaxTries))
		if err != nil {
			log.Error("Reconnect attempts exhausted, marking session failed", zap.Error(err))
			s.mu.Lock()
			r.teardownLocked(s)
			s.state = StateFailed
			s.failReason = "reconnect attempts exhausted"
			s.mu.Unlock()
			observer.IncSessionTransition(s.tenantID, string(StateFailed))
		}
	}, nil)
}

// armAuthTimerLocked surfaces a hung Authenticating state as Failed so the
// dashboard never waits forever. Caller holds s.mu.
func (r *Registry) armAuthTimerLocked(s *tenantSession) {
	s.disarmAuthTimerLocked()
	if r.cfg.AuthTimeout <= 0 {
		return
	}
	s.authTimer = time.AfterFunc(r.cfg.AuthTimeout, func() {
		s.mu.Lock()
		if s.state != StateAuthenticating {
			s.mu.Unlock()
			return
		}
		r.teardownLocked(s)
		s.state = StateFailed
		s.failReason = "authentication timed out"
		s.mu.Unlock()

		r.baseLogger.Warn("Authentication timed out", zap.String("tenant_id", s.tenantID))
		observer.IncSessionTransition(s.tenantID, string(StateFailed))
	})
}

func (s *tenantSession) disarmAuthTimerLocked() {
	if s.authTimer != nil {
		s.authTimer.Stop()
		s.authTimer = nil
	}
}

// teardownLocked cancels the event pump and closes the client handle. Caller
// holds s.mu.
func (r *Registry) teardownLocked(s *tenantSession) {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
	s.authInFlight = false
	s.disarmAuthTimerLocked()
}
