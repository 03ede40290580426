package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/orenda/api/leadflow-engine/internal/model"
)

func twoStages() []model.StageDefinition {
	return []model.StageDefinition{
		{Name: "awareness", Priority: 1, Keywords: []string{"hello"}},
		{Name: "pricing", Priority: 2, Keywords: []string{"price"}},
	}
}

func TestClassify_KeywordMatchWinsOverNonMatch(t *testing.T) {
	result, ok := Classify("what's the price", twoStages(), "")

	require.True(t, ok)
	assert.Equal(t, "pricing", result.Stage)
	assert.Greater(t, result.Confidence, 0.0)
}

func TestClassify_CaseInsensitive(t *testing.T) {
	result, ok := Classify("PRICE please", twoStages(), "")

	require.True(t, ok)
	assert.Equal(t, "pricing", result.Stage)
}

func TestClassify_ProgressionBoostPrefersLaterStage(t *testing.T) {
	stages := []model.StageDefinition{
		{Name: "awareness", Priority: 1, Keywords: []string{"hello"}},
		{Name: "interest", Priority: 2, Keywords: []string{"tell me more"}},
	}

	// Both stages fully match; the progression boost tips it to the stage
	// past the lead's current one.
	result, ok := Classify("hello, tell me more", stages, "awareness")

	require.True(t, ok)
	assert.Equal(t, "interest", result.Stage)
}

func TestClassify_TieKeepsFirstConfiguredStage(t *testing.T) {
	stages := []model.StageDefinition{
		{Name: "first", Priority: 1, Keywords: []string{"demo"}},
		{Name: "second", Priority: 1, Keywords: []string{"demo"}},
	}

	result, ok := Classify("book a demo", stages, "")

	require.True(t, ok)
	assert.Equal(t, "first", result.Stage)
}

func TestClassify_NoMatchCarriesCurrentStageForward(t *testing.T) {
	result, ok := Classify("completely unrelated", twoStages(), "pricing")

	require.True(t, ok)
	assert.Equal(t, "pricing", result.Stage)
	assert.Zero(t, result.Confidence)
}

func TestClassify_NoMatchNoCurrentStage(t *testing.T) {
	_, ok := Classify("completely unrelated", twoStages(), "")

	assert.False(t, ok)
}

func TestClassify_PartialKeywordCountScales(t *testing.T) {
	stages := []model.StageDefinition{
		{Name: "broad", Priority: 1, Keywords: []string{"alpha", "beta", "gamma", "delta"}},
		{Name: "narrow", Priority: 1, Keywords: []string{"alpha"}},
	}

	// narrow: 1/1 with full-match boost beats broad's 1/4.
	result, ok := Classify("alpha", stages, "")

	require.True(t, ok)
	assert.Equal(t, "narrow", result.Stage)
}

func TestClassify_DefaultStages(t *testing.T) {
	stages := model.DefaultStageDefinitions()

	result, ok := Classify("how much does the premium plan cost?", stages, "")

	require.True(t, ok)
	assert.Equal(t, "consideration", result.Stage)
}

func TestClassify_EmptyKeywordListIgnored(t *testing.T) {
	stages := []model.StageDefinition{
		{Name: "empty", Priority: 1, Keywords: nil},
		{Name: "real", Priority: 2, Keywords: []string{"hi"}},
	}

	result, ok := Classify("hi", stages, "")

	require.True(t, ok)
	assert.Equal(t, "real", result.Stage)
}
