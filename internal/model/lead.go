package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Lead lifecycle statuses.
const (
	LeadStatusNew       = "NEW"
	LeadStatusCold      = "COLD"
	LeadStatusWarm      = "WARM"
	LeadStatusHot       = "HOT"
	LeadStatusConverted = "CONVERTED"
)

// Lead origins.
const (
	LeadOriginInbound = "inbound"
	LeadOriginImport  = "import"
	LeadOriginManual  = "manual"
)

// MaxFollowups is the maximum number of follow-up steps a tenant may configure.
const MaxFollowups = 3

// Lead represents a contact tracked through the engagement funnel. The
// (tenant_id, phone_number) pair is the composite identity; phone_number is
// always stored normalized (digits only).
type Lead struct {
	ID                 string         `json:"id" gorm:"primaryKey;type:text"`
	TenantID           string         `json:"tenant_id" gorm:"column:tenant_id;uniqueIndex:idx_leads_tenant_phone;type:text" validate:"required"`
	PhoneNumber        string         `json:"phone_number" gorm:"uniqueIndex:idx_leads_tenant_phone;type:text" validate:"required"`
	Name               string         `json:"name,omitempty" gorm:"type:text"`
	Email              string         `json:"email,omitempty" gorm:"type:text"`
	Status             string         `json:"status,omitempty" gorm:"type:text;default:NEW"`
	Source             string         `json:"source,omitempty" gorm:"type:text"` // Origin of the lead (inbound, import, manual)
	Stage              string         `json:"stage,omitempty" gorm:"type:text"`  // Detected funnel stage, empty until first detection
	AIEnabled          bool           `json:"ai_enabled" gorm:"default:true"`
	Notes              string         `json:"notes,omitempty" gorm:"type:text"`
	InitialMessageSent bool           `json:"initial_message_sent" gorm:"default:false;index"`
	InitialMessageAt   *time.Time     `json:"initial_message_at,omitempty"`
	Followups          datatypes.JSON `json:"followups,omitempty" gorm:"type:jsonb"`
	CreatedAt          time.Time      `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt          time.Time      `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
	LastMetadata       datatypes.JSON `json:"last_metadata,omitempty" gorm:"type:jsonb;column:last_metadata"`
}

// TableName specifies the table name for the Lead model, respecting the Namer.
func (Lead) TableName(namer schema.Namer) string {
	return namer.TableName("leads")
}

// FollowupState tracks the outcome of one follow-up step for a lead. Entries
// only move pending -> sent or pending -> failed, never backward.
type FollowupState struct {
	Sent   bool       `json:"sent"`
	SentAt *time.Time `json:"sent_at,omitempty"`
	Failed bool       `json:"failed"`
	Error  string     `json:"error,omitempty"`
}

// FollowupStates decodes the stored follow-up list, padded or truncated to n
// entries so it always matches the tenant's configured follow-up count at the
// time of evaluation.
func (l *Lead) FollowupStates(n int) ([]FollowupState, error) {
	states := make([]FollowupState, 0, n)
	if len(l.Followups) > 0 {
		if err := json.Unmarshal(l.Followups, &states); err != nil {
			return nil, err
		}
	}
	for len(states) < n {
		states = append(states, FollowupState{})
	}
	if len(states) > n {
		states = states[:n]
	}
	return states, nil
}

// SetFollowupStates stores the follow-up list back onto the lead.
func (l *Lead) SetFollowupStates(states []FollowupState) error {
	data, err := json.Marshal(states)
	if err != nil {
		return err
	}
	l.Followups = datatypes.JSON(data)
	return nil
}
