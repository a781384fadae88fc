package engine

import (
	"math/rand"
	"strings"

	"tale-server/internal/models"
)

// Keywords that make an action read as risky. Each match pushes the roll
// toward failure; the list is deliberately blunt keyword matching, not
// anything semantic.
var riskyKeywords = []string{
	"attack", "fight", "steal", "escape", "flee", "run", "jump", "leap",
	"climb", "sneak", "grab", "rush", "charge", "threaten", "provoke",
	"gamble", "risk", "reckless", "dangerous", "break", "smash", "force",
}

const (
	riskPerKeyword = 0.15
	riskWeight     = 0.3

	failureCeiling = 0.15
	partialCeiling = 0.50
)

// OutcomeResolver assigns a stochastic success/failure label to player
// actions before they are sent upstream. Riskier-sounding actions fail
// more often; that bias is the point, fairness is not.
type OutcomeResolver struct {
	rng *rand.Rand
}

// NewOutcomeResolver creates a resolver with the given random source.
// Tests pass a fixed seed for reproducible distributions.
func NewOutcomeResolver(rng *rand.Rand) *OutcomeResolver {
	return &OutcomeResolver{rng: rng}
}

// Resolve labels a single action.
func (r *OutcomeResolver) Resolve(choiceText string) models.OutcomeLabel {
	risk := riskScore(choiceText)
	roll := r.rng.Float64() - risk*riskWeight

	switch {
	case roll < failureCeiling:
		return models.OutcomeFailure
	case roll < partialCeiling:
		return models.OutcomePartialSuccess
	default:
		return models.OutcomeSuccess
	}
}

// riskScore computes a [0,1] risk estimate from keyword matches.
func riskScore(choiceText string) float64 {
	text := strings.ToLower(choiceText)
	score := 0.0
	for _, kw := range riskyKeywords {
		if strings.Contains(text, kw) {
			score += riskPerKeyword
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
