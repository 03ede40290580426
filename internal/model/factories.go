package model

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
)

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// NewLead creates a Lead instance with default fake data for tests. Pass a
// partial Lead to override the generated values.
func NewLead(overrideDefaults ...*Lead) *Lead {
	base := &Lead{
		ID:          uuid.New().String(),
		TenantID:    "tenant_" + gofakeit.LetterN(10),
		PhoneNumber: gofakeit.Numerify("628##########"),
		Name:        gofakeit.Name(),
		Email:       gofakeit.Email(),
		Status:      LeadStatusNew,
		Source:      gofakeit.RandomString([]string{LeadOriginInbound, LeadOriginImport, LeadOriginManual}),
		AIEnabled:   true,
		CreatedAt:   time.Now().UTC().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt:   time.Now().UTC(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.TenantID != "" {
			base.TenantID = ovr.TenantID
		}
		if ovr.PhoneNumber != "" {
			base.PhoneNumber = ovr.PhoneNumber
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.Source != "" {
			base.Source = ovr.Source
		}
		if ovr.Stage != "" {
			base.Stage = ovr.Stage
		}
		base.InitialMessageSent = ovr.InitialMessageSent
		if ovr.InitialMessageAt != nil {
			base.InitialMessageAt = ovr.InitialMessageAt
		}
		if len(ovr.Followups) > 0 {
			base.Followups = ovr.Followups
		}
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
		if !ovr.UpdatedAt.IsZero() {
			base.UpdatedAt = ovr.UpdatedAt
		}
	}
	return base
}

// NewTenantConfig creates a TenantConfig instance with default fake data for
// tests, including a usable greeting and three follow-up steps.
func NewTenantConfig(overrideDefaults ...*TenantConfig) *TenantConfig {
	base := &TenantConfig{
		TenantID:            "tenant_" + gofakeit.LetterN(10),
		Active:              true,
		GreetingTemplate:    "Hi {name}, thanks for reaching out!",
		BatchSize:           10,
		MessageDelayMillis:  0,
		AutoFollowup:        true,
		AutoFollowupInbound: false,
		CreatedAt:           time.Now().UTC(),
		UpdatedAt:           time.Now().UTC(),
	}
	_ = base.SetFollowupTemplates([]FollowupTemplate{
		{Message: "Hey {name}, just checking in.", DelayMillis: 0},
		{Message: "Hi {name}, still interested?", DelayMillis: 0},
		{Message: "Last chance {name}!", DelayMillis: 0},
	})

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.TenantID != "" {
			base.TenantID = ovr.TenantID
		}
		base.Active = ovr.Active
		if ovr.GreetingTemplate != "" {
			base.GreetingTemplate = ovr.GreetingTemplate
		}
		if ovr.BatchSize != 0 {
			base.BatchSize = ovr.BatchSize
		}
		if ovr.MessageDelayMillis != 0 {
			base.MessageDelayMillis = ovr.MessageDelayMillis
		}
		base.AutoFollowup = ovr.AutoFollowup
		base.AutoFollowupInbound = ovr.AutoFollowupInbound
		if len(ovr.Followups) > 0 {
			base.Followups = ovr.Followups
		}
		if len(ovr.Stages) > 0 {
			base.Stages = ovr.Stages
		}
	}
	return base
}
