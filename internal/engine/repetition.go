package engine

import "tale-server/internal/models"

// How far back the detector looks, and how many occurrences of the same
// normalized text count as stagnation.
const (
	repetitionWindow    = 3
	repetitionThreshold = 2
)

// detectRepetition reports whether the recent story or the recent player
// actions have settled into a loop. It never mutates state and never
// blocks a turn; the orchestrator only uses it to bias the next prompt.
func detectRepetition(state *models.GameState) bool {
	return detectStoryRepetition(state.StoryLog) || detectActionRepetition(state.ActionLog)
}

func detectStoryRepetition(storyLog []models.StoryEntry) bool {
	start := len(storyLog) - repetitionWindow
	if start < 0 {
		start = 0
	}
	recent := storyLog[start:]

	narratives := make(map[string]int)
	signatures := make(map[string]int)
	for _, e := range recent {
		narratives[normalizeText(e.Narrative)]++
		signatures[choiceSetSignature(e.Choices)]++
	}
	for _, count := range narratives {
		if count > repetitionThreshold {
			return true
		}
	}
	for _, count := range signatures {
		if count > repetitionThreshold {
			return true
		}
	}
	return false
}

func detectActionRepetition(actionLog []models.ActionEntry) bool {
	start := len(actionLog) - repetitionWindow
	if start < 0 {
		start = 0
	}

	actions := make(map[string]int)
	for _, a := range actionLog[start:] {
		actions[normalizeText(a.Text)]++
	}
	for _, count := range actions {
		if count > repetitionThreshold {
			return true
		}
	}
	return false
}
