package model

// StageDefinition describes one named phase of the sales funnel. Priority
// orders the funnel (lower = earlier); keywords drive heuristic detection.
type StageDefinition struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description,omitempty"`
	Priority    int      `json:"priority" validate:"gte=0"`
	Keywords    []string `json:"keywords" validate:"required,min=1"`
}

// DefaultStageDefinitions returns the stage set used when a tenant has not
// configured its own. Both the classifier and any configuration-seeding path
// consume this single definition.
func DefaultStageDefinitions() []StageDefinition {
	return []StageDefinition{
		{
			Name:        "awareness",
			Description: "Lead is greeting or asking what the product is",
			Priority:    1,
			Keywords:    []string{"hi", "hello", "info", "what is", "tell me"},
		},
		{
			Name:        "interest",
			Description: "Lead is asking about features or how it works",
			Priority:    2,
			Keywords:    []string{"how does", "feature", "can it", "does it", "interested"},
		},
		{
			Name:        "consideration",
			Description: "Lead is comparing pricing and alternatives",
			Priority:    3,
			Keywords:    []string{"price", "cost", "how much", "discount", "compare", "plan"},
		},
		{
			Name:        "decision",
			Description: "Lead is ready to buy or schedule",
			Priority:    4,
			Keywords:    []string{"buy", "purchase", "sign up", "order", "schedule", "deal"},
		},
	}
}
