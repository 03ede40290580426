package session

import "context"

// EventKind identifies a lifecycle event reported by the external messaging
// client during and after the authentication handshake.
type EventKind string

const (
	EventQR            EventKind = "qr"
	EventAuthenticated EventKind = "authenticated"
	EventReady         EventKind = "ready"
	EventDisconnected  EventKind = "disconnected"
)

// Event is one lifecycle notification from the external client. Permanent is
// set on disconnects that represent an unrecoverable authentication failure;
// the registry will not attempt to reconnect those.
type Event struct {
	Kind      EventKind
	QR        string
	Reason    string
	Permanent bool
}

// Client is the capability the external messaging-session library must
// provide, one instance per tenant. BeginAuth starts the handshake and
// returns a stream of lifecycle events; the channel is closed when the
// underlying connection is gone for good.
type Client interface {
	BeginAuth(ctx context.Context) (<-chan Event, error)
	Send(ctx context.Context, recipient, text string) error
	Close() error
}

// ClientFactory constructs the external client for a tenant. Supplied by
// infrastructure outside this package.
type ClientFactory func(tenantID string) (Client, error)
