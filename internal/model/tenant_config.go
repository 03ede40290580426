package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// TenantConfig holds the per-tenant engagement settings: message templates,
// batch/pacing limits, follow-up steps and stage definitions. The engine reads
// it, never writes it.
type TenantConfig struct {
	TenantID            string         `json:"tenant_id" gorm:"primaryKey;column:tenant_id;type:text" validate:"required"`
	Active              bool           `json:"active" gorm:"default:true"`
	GreetingTemplate    string         `json:"greeting_template,omitempty" gorm:"type:text"` // Initial message; {name} is substituted
	BatchSize           int            `json:"batch_size,omitempty" gorm:"default:0"`
	MessageDelayMillis  int64          `json:"message_delay_millis,omitempty" gorm:"default:0"`
	AutoFollowup        bool           `json:"auto_followup" gorm:"default:false"`
	AutoFollowupInbound bool           `json:"auto_followup_inbound" gorm:"default:false"` // Override path for inbound-originated leads
	Followups           datatypes.JSON `json:"followups,omitempty" gorm:"type:jsonb"`
	Stages              datatypes.JSON `json:"stages,omitempty" gorm:"type:jsonb"`
	CreatedAt           time.Time      `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt           time.Time      `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the TenantConfig model, respecting the Namer.
func (TenantConfig) TableName(namer schema.Namer) string {
	return namer.TableName("tenant_configs")
}

// FollowupTemplate is one configured follow-up step. DelayMillis is measured
// from the initial message's send time, not from the previous step.
type FollowupTemplate struct {
	Message     string `json:"message" validate:"required"`
	DelayMillis int64  `json:"delay_millis" validate:"gte=0"`
}

// FollowupTemplates decodes the configured follow-up steps, capped at
// MaxFollowups.
func (c *TenantConfig) FollowupTemplates() ([]FollowupTemplate, error) {
	var templates []FollowupTemplate
	if len(c.Followups) > 0 {
		if err := json.Unmarshal(c.Followups, &templates); err != nil {
			return nil, err
		}
	}
	if len(templates) > MaxFollowups {
		templates = templates[:MaxFollowups]
	}
	return templates, nil
}

// SetFollowupTemplates stores follow-up steps onto the config.
func (c *TenantConfig) SetFollowupTemplates(templates []FollowupTemplate) error {
	data, err := json.Marshal(templates)
	if err != nil {
		return err
	}
	c.Followups = datatypes.JSON(data)
	return nil
}

// StageDefinitions decodes the tenant's stage set, falling back to
// DefaultStageDefinitions when none are configured.
func (c *TenantConfig) StageDefinitions() ([]StageDefinition, error) {
	if len(c.Stages) == 0 {
		return DefaultStageDefinitions(), nil
	}
	var stages []StageDefinition
	if err := json.Unmarshal(c.Stages, &stages); err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return DefaultStageDefinitions(), nil
	}
	return stages, nil
}

// SetStageDefinitions stores stage definitions onto the config.
func (c *TenantConfig) SetStageDefinitions(stages []StageDefinition) error {
	data, err := json.Marshal(stages)
	if err != nil {
		return err
	}
	c.Stages = datatypes.JSON(data)
	return nil
}
