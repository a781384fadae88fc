package engine

import (
	"math/rand"
	"testing"

	"tale-server/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name   string
		choice string
		want   float64
	}{
		{"no risky words", "walk along the path", 0},
		{"one risky word", "attack the goblin", 0.15},
		{"two risky words", "attack and steal the gem", 0.3},
		{"case insensitive", "ATTACK the goblin", 0.15},
		{"capped at one", "attack fight steal jump climb swim leap charge grab force risk", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, riskScore(tt.choice), 1e-9)
		})
	}
}

func TestResolveDeterministicWithSeed(t *testing.T) {
	r1 := NewOutcomeResolver(rand.New(rand.NewSource(42)))
	r2 := NewOutcomeResolver(rand.New(rand.NewSource(42)))

	for i := 0; i < 50; i++ {
		assert.Equal(t, r1.Resolve("attack the guard"), r2.Resolve("attack the guard"))
	}
}

func TestRiskyActionsFailMoreOften(t *testing.T) {
	const trials = 20000

	count := func(choice string) map[models.OutcomeLabel]int {
		resolver := NewOutcomeResolver(rand.New(rand.NewSource(1)))
		counts := make(map[models.OutcomeLabel]int)
		for i := 0; i < trials; i++ {
			counts[resolver.Resolve(choice)]++
		}
		return counts
	}

	safe := count("examine the mural")
	risky := count("attack and charge with force")

	assert.Greater(t, risky[models.OutcomeFailure], safe[models.OutcomeFailure],
		"risky phrasing must fail more often than safe phrasing")
	assert.Greater(t, safe[models.OutcomeSuccess], risky[models.OutcomeSuccess],
		"safe phrasing must succeed more often than risky phrasing")

	// Safe baseline tracks the bucket boundaries.
	assert.InDelta(t, 0.15, float64(safe[models.OutcomeFailure])/trials, 0.02)
	assert.InDelta(t, 0.35, float64(safe[models.OutcomePartialSuccess])/trials, 0.02)
	assert.InDelta(t, 0.50, float64(safe[models.OutcomeSuccess])/trials, 0.02)
}

func TestResolveNeverReturnsStart(t *testing.T) {
	resolver := NewOutcomeResolver(rand.New(rand.NewSource(7)))
	for i := 0; i < 1000; i++ {
		assert.NotEqual(t, models.OutcomeStart, resolver.Resolve("do something"))
	}
}
