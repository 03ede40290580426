package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestFollowupStates_PadsToConfiguredCount(t *testing.T) {
	lead := Lead{}

	states, err := lead.FollowupStates(3)

	require.NoError(t, err)
	require.Len(t, states, 3)
	for _, s := range states {
		assert.False(t, s.Sent)
		assert.False(t, s.Failed)
	}
}

func TestFollowupStates_TruncatesWhenConfigShrank(t *testing.T) {
	lead := Lead{}
	now := time.Now().UTC()
	require.NoError(t, lead.SetFollowupStates([]FollowupState{
		{Sent: true, SentAt: &now},
		{Failed: true, Error: "boom"},
		{},
	}))

	states, err := lead.FollowupStates(2)

	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.True(t, states[0].Sent)
	assert.True(t, states[1].Failed)
	assert.Equal(t, "boom", states[1].Error)
}

func TestFollowupStates_CorruptJSON(t *testing.T) {
	lead := Lead{Followups: datatypes.JSON(`{not json`)}

	_, err := lead.FollowupStates(3)

	assert.Error(t, err)
}

func TestFollowupTemplates_CappedAtMax(t *testing.T) {
	cfg := TenantConfig{}
	require.NoError(t, cfg.SetFollowupTemplates([]FollowupTemplate{
		{Message: "a", DelayMillis: 0},
		{Message: "b", DelayMillis: 1000},
		{Message: "c", DelayMillis: 2000},
		{Message: "d", DelayMillis: 3000},
	}))

	templates, err := cfg.FollowupTemplates()

	require.NoError(t, err)
	require.Len(t, templates, MaxFollowups)
	assert.Equal(t, "a", templates[0].Message)
	assert.Equal(t, "c", templates[2].Message)
}

func TestStageDefinitions_FallsBackToDefaults(t *testing.T) {
	cfg := TenantConfig{}

	stages, err := cfg.StageDefinitions()

	require.NoError(t, err)
	assert.Equal(t, DefaultStageDefinitions(), stages)
}

func TestStageDefinitions_UsesConfigured(t *testing.T) {
	cfg := TenantConfig{}
	custom := []StageDefinition{{Name: "only", Priority: 1, Keywords: []string{"x"}}}
	require.NoError(t, cfg.SetStageDefinitions(custom))

	stages, err := cfg.StageDefinitions()

	require.NoError(t, err)
	assert.Equal(t, custom, stages)
}
