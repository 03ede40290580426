package model

import "time"

// EventTopic identifies a class of lifecycle or engagement event published to
// observers. Delivery is at-most-once and best-effort; only events for the
// same (tenant, lead) pair are ordered relative to the mutation that
// produced them.
type EventTopic string

// Engagement and session event topics.
const (
	TopicLeadUpdated           EventTopic = "lead-updated"
	TopicLeadStageChanged      EventTopic = "lead-stage-changed"
	TopicFollowupSent          EventTopic = "followup-sent"
	TopicFollowupFailed        EventTopic = "followup-failed"
	TopicSessionQR             EventTopic = "session-qr"
	TopicSessionAuthenticating EventTopic = "session-authenticating"
	TopicSessionReady          EventTopic = "session-ready"
	TopicSessionDisconnected   EventTopic = "session-disconnected"
)

// LeadUpdatedPayload accompanies lead-updated events.
type LeadUpdatedPayload struct {
	LeadID      string    `json:"lead_id"`
	PhoneNumber string    `json:"phone_number"`
	Status      string    `json:"status,omitempty"`
	Stage       string    `json:"stage,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StageChangedPayload accompanies lead-stage-changed events.
type StageChangedPayload struct {
	LeadID        string    `json:"lead_id"`
	PhoneNumber   string    `json:"phone_number"`
	PreviousStage string    `json:"previous_stage,omitempty"`
	Stage         string    `json:"stage"`
	ChangedAt     time.Time `json:"changed_at"`
}

// FollowupPayload accompanies followup-sent and followup-failed events.
type FollowupPayload struct {
	LeadID      string    `json:"lead_id"`
	PhoneNumber string    `json:"phone_number"`
	Index       int       `json:"index"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// SessionEventPayload accompanies session-* events.
type SessionEventPayload struct {
	State  string    `json:"state"`
	QR     string    `json:"qr,omitempty"`
	QRGen  uint64    `json:"qr_gen,omitempty"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}
