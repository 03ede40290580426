// Package stage implements the keyword-weighted funnel stage heuristic.
package stage

import (
	"strings"

	"gitlab.com/orenda/api/leadflow-engine/internal/model"
)

// Boost factors applied to a stage's base confidence. Each is independent and
// multiplicative.
const (
	progressionBoost = 1.5 // stage sits later in the funnel than the lead's current stage
	fullMatchBoost   = 1.3 // every keyword of the stage matched
	longMessageBoost = 1.2 // message longer than longMessageLen characters
)

const longMessageLen = 20

// Result is the outcome of classifying one message. Confidence is reported to
// callers for logging only; it is never persisted, so ties and near-ties are
// resolved purely by the configured stage order.
type Result struct {
	Stage      string
	Confidence float64
}

// Classify scores a free-text message against the ordered stage definitions
// and returns the winning stage. currentStage may be empty when the lead has
// no detected stage yet.
//
// When no stage matches at all, the current stage is carried forward
// unchanged; a lead never regresses to "no stage" once it has one. The second
// return value reports whether any stage was determined.
func Classify(message string, stages []model.StageDefinition, currentStage string) (Result, bool) {
	lowered := strings.ToLower(message)

	currentPriority := -1
	if currentStage != "" {
		for _, s := range stages {
			if s.Name == currentStage {
				currentPriority = s.Priority
				break
			}
		}
	}

	var (
		best      Result
		bestFound bool
	)

	// Iterate in configured order so equal confidences keep the first stage
	// encountered.
	for _, def := range stages {
		if len(def.Keywords) == 0 {
			continue
		}

		matches := 0
		for _, kw := range def.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lowered, strings.ToLower(kw)) {
				matches++
			}
		}
		if matches == 0 {
			continue
		}

		confidence := float64(matches) / float64(len(def.Keywords))
		if currentPriority >= 0 && def.Priority > currentPriority {
			confidence *= progressionBoost
		}
		if matches == len(def.Keywords) {
			confidence *= fullMatchBoost
		}
		if len(message) > longMessageLen {
			confidence *= longMessageBoost
		}

		if !bestFound || confidence > best.Confidence {
			best = Result{Stage: def.Name, Confidence: confidence}
			bestFound = true
		}
	}

	if bestFound {
		return best, true
	}
	if currentStage != "" {
		return Result{Stage: currentStage}, true
	}
	return Result{}, false
}
