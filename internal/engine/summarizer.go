package engine

import (
	"context"
	"fmt"
	"strings"

	"tale-server/internal/ai"
	"tale-server/internal/models"
	"tale-server/pkg/jsonrepair"

	"go.uber.org/zap"
)

// Summaries shorter than this are treated as a generator failure and the
// fallback is used instead.
const minSummaryLength = 50

// Compaction shape: one synthetic system digest, then the tail of the raw
// conversation and story log.
const (
	compactKeepMessages = 5
	compactKeepEntries  = 3
)

// Summarizer produces the condensed narrative digest used for context
// compaction and long-term continuity.
type Summarizer struct {
	client ai.Client
	logger *zap.Logger
}

// NewSummarizer creates a summarizer over the text generator.
func NewSummarizer(client ai.Client, logger *zap.Logger) *Summarizer {
	return &Summarizer{
		client: client,
		logger: logger.Named("Summarizer"),
	}
}

// Summarize asks the generator for a synthesis of the story so far,
// continuing from previousSummary when given. It falls back to a local
// templated summary whenever the generator is unavailable or returns
// something too short to trust: the pipeline must never stall for lack
// of a summary.
func (s *Summarizer) Summarize(ctx context.Context, storyLog []models.StoryEntry, previousSummary string) string {
	if len(storyLog) == 0 {
		return ""
	}

	text, err := s.generateSummary(ctx, storyLog, previousSummary)
	if err != nil {
		s.logger.Warn("Generator summary failed, using fallback", zap.Error(err))
		return FallbackSummary(storyLog)
	}
	return text
}

func (s *Summarizer) generateSummary(ctx context.Context, storyLog []models.StoryEntry, previousSummary string) (string, error) {
	var b strings.Builder
	if previousSummary != "" {
		b.WriteString("Previous summary:\n")
		b.WriteString(previousSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("Story so far:\n")
	for i, e := range storyLog {
		fmt.Fprintf(&b, "Step %d: %s\n", i+1, truncateText(e.Narrative, 400))
	}

	history := []models.ChatMessage{{Role: models.RoleUser, Content: b.String()}}
	fields := []jsonrepair.Field{{Name: "summary", Kind: jsonrepair.FieldString}}
	resp, err := s.client.CallWithRetry(ctx, summarySystemPrompt, history, fields, 2)
	if err != nil {
		return "", err
	}

	text := extractSummaryText(resp)
	if len(strings.TrimSpace(text)) < minSummaryLength {
		return "", fmt.Errorf("summary too short: %d chars", len(text))
	}
	return strings.TrimSpace(text), nil
}

// extractSummaryText pulls usable text out of whatever shape the model
// chose to respond in.
func extractSummaryText(resp map[string]any) string {
	for _, key := range []string{"summary", "narrative", "text"} {
		if v, ok := resp[key].(string); ok && v != "" {
			return v
		}
	}
	parts := make([]string, 0, len(resp))
	for _, v := range resp {
		if s, ok := v.(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Location cues for the fallback template, checked in order.
var locationCues = []struct {
	keyword string
	setting string
}{
	{"cave", "deep underground"},
	{"forest", "in the wilds"},
	{"city", "in the city"},
	{"town", "in a settlement"},
	{"village", "in a settlement"},
	{"castle", "inside a stronghold"},
	{"dungeon", "in hostile depths"},
	{"ship", "at sea"},
	{"mountain", "in the mountains"},
	{"desert", "in the wastes"},
}

// FallbackSummary builds a deterministic templated summary from the
// latest entry. Clearly lower quality than the generator's synthesis,
// but always available.
func FallbackSummary(storyLog []models.StoryEntry) string {
	if len(storyLog) == 0 {
		return ""
	}
	latest := storyLog[len(storyLog)-1]
	text := strings.ToLower(latest.Narrative)

	setting := "somewhere unknown"
	for _, cue := range locationCues {
		if strings.Contains(text, cue.keyword) {
			setting = cue.setting
			break
		}
	}

	situation := "the situation is calm"
	switch {
	case strings.Contains(text, "danger") || strings.Contains(text, "attack") || strings.Contains(text, "enemy"):
		situation = "danger is close"
	case strings.Contains(text, "dark") || strings.Contains(text, "night"):
		situation = "darkness surrounds the scene"
	case strings.Contains(text, "door") || strings.Contains(text, "path") || strings.Contains(text, "road"):
		situation = "a way forward has appeared"
	}

	return fmt.Sprintf(
		"The adventure has spanned %d scenes so far. The protagonist is currently %s, and %s. The most recent development: %s",
		len(storyLog), setting, situation, truncateText(latest.Narrative, 200))
}

// compactState replaces verbose history with the summary: a single
// synthetic system message carrying the digest and an instruction not to
// re-narrate the past, followed by the last few raw messages; the story
// log keeps only its tail.
func compactState(state *models.GameState, summary string) {
	digest := models.ChatMessage{
		Role: models.RoleSystem,
		Content: "Story so far: " + summary +
			"\n\nContinue from here. Do not re-narrate past events.",
	}

	keep := len(state.Messages) - compactKeepMessages
	if keep < 0 {
		keep = 0
	}
	state.Messages = append([]models.ChatMessage{digest}, state.Messages[keep:]...)

	if cut := len(state.StoryLog) - compactKeepEntries; cut > 0 {
		state.StoryLog = append([]models.StoryEntry(nil), state.StoryLog[cut:]...)
	}
}
