package engine

import "tale-server/internal/models"

// Budget thresholds. Both were tuned against the chars/4 estimator below;
// changing one without the other shifts when compaction fires.
const (
	contextWarningRatio    = 0.80
	contextCompactionRatio = 0.85
)

// estimateTokens approximates the token count of text as ceil(len/4).
// Deliberately crude: only monotonic correlation with the real count
// matters here, and the thresholds are calibrated for this estimator.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// estimateHistoryTokens sums the estimate over the full message history.
func estimateHistoryTokens(messages []models.ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += estimateTokens(m.Content)
	}
	return total
}

// usageRatio reports estimated context usage as a fraction of the known
// limit. An unknown limit (zero) yields 0: budgeting fails open so an
// unmeasurable backend never blocks play.
func usageRatio(state *models.GameState, systemPrompt string, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	used := estimateHistoryTokens(state.Messages) + estimateTokens(systemPrompt)
	return float64(used) / float64(limit)
}
