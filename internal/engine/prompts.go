package engine

import (
	"fmt"
	"sort"
	"strings"

	"tale-server/internal/models"
	"tale-server/pkg/jsonrepair"

	"github.com/google/uuid"
)

// Required shape of every narrative response. The generator may send more
// fields (memories in particular); these three are the contract.
var requiredFields = []jsonrepair.Field{
	{Name: "narrative", Kind: jsonrepair.FieldString},
	{Name: "imagePrompt", Kind: jsonrepair.FieldString},
	{Name: "choices", Kind: jsonrepair.FieldArray},
}

// Substituted wholesale when the generator returns fewer than two choices.
var fallbackChoices = []string{
	"Continue forward",
	"Look around carefully",
	"Rest and gather your thoughts",
	"Try something unexpected",
}

const baseSystemPrompt = `You are the narrator of an interactive fiction game. Continue the story based on the player's actions.

Respond with a single JSON object, and nothing else, in this exact shape:
{
  "narrative": "2-4 paragraphs continuing the story",
  "imagePrompt": "a short visual description of the current scene",
  "choices": ["2 to 4 short action options for the player"],
  "memories": ["0 to 2 new facts worth remembering, only if something important happened"]
}

Rules:
- Weave the player's action and its stated outcome into the narrative. A Failure must have consequences; a Partial Success costs something.
- Keep continuity with the story summary and memories you are given.
- Never narrate for the player or decide their feelings.
- Offer choices that are meaningfully different from each other.`

// Swapped in when the repetition detector fires.
const antiRepetitionSystemPrompt = baseSystemPrompt + `

IMPORTANT: The story has been going in circles. Introduce a new event, character or location that changes the situation, and offer choices clearly different from recent ones. Do not repeat previous scene descriptions.`

// Used for the single fallback call after a missing-required-field failure.
const simplifiedSystemPrompt = `You are the narrator of a text adventure. Reply with only a JSON object: {"narrative": "what happens next", "imagePrompt": "scene description", "choices": ["option 1", "option 2", "option 3"]}. No other text.`

const summarySystemPrompt = `You condense interactive fiction into a compact story summary. Write a synthesis, not a step-by-step recap: main characters and their state, key turning points, open threads, and the current situation. If a previous summary is given, continue from it rather than restating it. Respond with a single JSON object: {"summary": "the summary, at most 300 words"}. No other text.`

const primaryActionInstruction = "The player's action above is what drives this turn. Whatever else is happening, resolve that action first."

// buildRecentEventsDigest renders the last three story entries as a short
// digest the orchestrator appends when a loop needs breaking.
func buildRecentEventsDigest(storyLog []models.StoryEntry) string {
	if len(storyLog) == 0 {
		return ""
	}
	start := len(storyLog) - 3
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	b.WriteString("Recent events (do not repeat these):\n")
	for _, e := range storyLog[start:] {
		b.WriteString("- ")
		b.WriteString(truncateText(e.Narrative, 100))
		b.WriteString("\n")
	}
	b.WriteString("Take the story in a new direction with fresh choices.")
	return b.String()
}

// buildMemoriesDigest renders the bounded memory list for the prompt.
func buildMemoriesDigest(memories []string) string {
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Established facts:\n")
	for _, m := range memories {
		b.WriteString("- ")
		b.WriteString(m)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// buildRecentEntriesContext renders the last two story entries, truncated,
// for the outgoing turn content.
func buildRecentEntriesContext(storyLog []models.StoryEntry) string {
	if len(storyLog) == 0 {
		return ""
	}
	start := len(storyLog) - 2
	if start < 0 {
		start = 0
	}

	parts := make([]string, 0, 2)
	for _, e := range storyLog[start:] {
		parts = append(parts, truncateText(e.Narrative, 300))
	}
	return "Previously: " + strings.Join(parts, " ... ")
}

// choiceSetSignature produces an order-insensitive signature of a choice
// set for repetition detection.
func choiceSetSignature(choices []string) string {
	normalized := make([]string, 0, len(choices))
	for _, c := range choices {
		normalized = append(normalized, normalizeText(c))
	}
	sort.Strings(normalized)
	return strings.Join(normalized, "|")
}

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func truncateText(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

// deriveTitle produces a session title from the seed prompt.
func deriveTitle(prompt string) string {
	p := strings.TrimSpace(prompt)
	if p == "" {
		return fmt.Sprintf("Untitled Adventure %s", strings.ToUpper(uuid.NewString()[:8]))
	}
	return truncateText(p, 60)
}
