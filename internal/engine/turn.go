package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tale-server/internal/models"
	"tale-server/pkg/jsonrepair"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (e *Engine) updateGameLocked(ctx context.Context, choice string) error {
	if e.state.Phase != models.PhasePlaying {
		return models.ErrWrongPhase
	}
	choice = strings.TrimSpace(choice)
	if choice == "" {
		return models.ErrEmptyChoice
	}

	firstAction := len(e.state.ActionLog) == 0
	outcome := models.OutcomeStart
	if !firstAction {
		outcome = e.resolver.Resolve(choice)
	}

	action := models.ActionEntry{
		Text:      choice,
		Outcome:   outcome,
		CreatedAt: time.Now().UTC(),
	}
	e.state.Messages = append(e.state.Messages, models.ChatMessage{
		Role:    models.RoleUser,
		Content: e.buildTurnContentLocked(choice, outcome, firstAction),
	})
	e.state.ActionLog = append(e.state.ActionLog, action)

	return e.executeLLMCallLocked(ctx, &action)
}

// buildTurnContentLocked assembles the user message for one turn in
// priority order: seed premise (first turn only), running summary, the
// last narrative beats, memories, then the labeled action itself.
func (e *Engine) buildTurnContentLocked(choice string, outcome models.OutcomeLabel, firstAction bool) string {
	var parts []string

	if firstAction && e.session != nil && strings.TrimSpace(e.session.SeedPrompt) != "" {
		parts = append(parts, "Premise: "+strings.TrimSpace(e.session.SeedPrompt))
	}
	if e.currentSummary != "" {
		parts = append(parts, "Story summary: "+e.currentSummary)
	}
	if recent := buildRecentEntriesContext(e.state.StoryLog); recent != "" {
		parts = append(parts, recent)
	}
	if memories := buildMemoriesDigest(e.state.Memories); memories != "" {
		parts = append(parts, memories)
	}
	if detectRepetition(e.state) {
		if digest := buildRecentEventsDigest(e.state.StoryLog); digest != "" {
			parts = append(parts, digest)
		}
	}

	labeled := choice
	if !firstAction {
		labeled = fmt.Sprintf("[Outcome: %s] %s", outcome, choice)
	}
	parts = append(parts, "Player action: "+labeled, primaryActionInstruction)

	return strings.Join(parts, "\n\n")
}

// executeLLMCallLocked runs one generator turn against the current
// message history. turnAction is the action that caused the turn, nil
// for the opening turn of a session.
func (e *Engine) executeLLMCallLocked(ctx context.Context, turnAction *models.ActionEntry) error {
	e.state.Phase = models.PhaseLoading
	e.notifyStateLocked()

	systemPrompt := baseSystemPrompt

	ratio := usageRatio(e.state, systemPrompt, e.state.ContextLimit)
	if ratio >= contextCompactionRatio {
		e.logger.Info("Context budget exceeded, compacting history",
			zap.Float64("usage_ratio", ratio),
			zap.Int("messages", len(e.state.Messages)))
		summary := e.summarizer.Summarize(ctx, e.state.StoryLog, e.currentSummary)
		if summary != "" {
			e.currentSummary = summary
			compactState(e.state, summary)
			compactionsTotal.Inc()
			e.persistSummaryLocked(ctx)
		}
	} else if ratio >= contextWarningRatio {
		e.logger.Warn("Context usage approaching limit",
			zap.Float64("usage_ratio", ratio),
			zap.Int("estimated_tokens", estimateHistoryTokens(e.state.Messages)))
	}

	if detectRepetition(e.state) {
		e.logger.Info("Repetition detected, biasing generator away from the loop")
		systemPrompt = antiRepetitionSystemPrompt
		repetitionsTotal.Inc()
	}

	resp, err := e.ai.CallWithRetry(ctx, systemPrompt, e.state.Messages, requiredFields, e.cfg.AIMaxRetries)
	if err != nil {
		resp, err = e.recoverMissingFieldsLocked(ctx, err)
	}
	if err != nil {
		return e.failTurnLocked(err, turnAction)
	}

	entry := mintStoryEntry(resp)
	assistantContent, marshalErr := json.Marshal(map[string]any{
		"narrative":   entry.Narrative,
		"imagePrompt": entry.ImagePrompt,
		"choices":     entry.Choices,
		"memories":    entry.Memories,
	})
	if marshalErr != nil {
		assistantContent = []byte(entry.Narrative)
	}
	e.state.Messages = append(e.state.Messages, models.ChatMessage{
		Role:    models.RoleAssistant,
		Content: string(assistantContent),
	})
	e.state.StoryLog = append(e.state.StoryLog, entry)
	e.state.AddMemories(entry.Memories)
	e.state.ContextTokens = estimateHistoryTokens(e.state.Messages)
	e.stepCount++

	e.persistTurnLocked(ctx, entry, turnAction)

	e.state.Phase = models.PhasePlaying
	e.lastError = nil
	e.retriesLeft = e.cfg.AIMaxRetries
	e.notifyStateLocked()
	turnsTotal.WithLabelValues("success").Inc()

	e.enqueueImageLocked(ctx, entry)
	return nil
}

// recoverMissingFieldsLocked handles a failed-validation response: one
// call with the simplified prompt, then reconstruction from whatever
// partial object came back. Non-validation errors pass through.
func (e *Engine) recoverMissingFieldsLocked(ctx context.Context, original error) (map[string]any, error) {
	var vErr *models.ResponseValidationError
	if !errors.As(original, &vErr) {
		return nil, original
	}

	e.logger.Warn("Generator response missing required fields, retrying with simplified prompt",
		zap.Strings("missing", vErr.Missing))

	resp, err := e.ai.CallWithRetry(ctx, simplifiedSystemPrompt, e.state.Messages, requiredFields, 1)
	if err == nil {
		return resp, nil
	}

	var vErr2 *models.ResponseValidationError
	if errors.As(err, &vErr2) && vErr2.Partial != nil {
		e.logger.Warn("Simplified prompt still incomplete, reconstructing from partial response",
			zap.Strings("missing", vErr2.Missing))
		return jsonrepair.Reconstruct(vErr2.Partial, requiredFields), nil
	}
	return nil, err
}

// failTurnLocked rolls the in-flight turn back out of the state, records
// the classification and moves to ERROR. The rolled-back action becomes
// retryable.
func (e *Engine) failTurnLocked(err error, turnAction *models.ActionEntry) error {
	classification := e.ai.ClassifyError(err)
	e.logger.Error("Turn failed",
		zap.String("error_type", string(classification.Type)),
		zap.Bool("retryable", classification.Retryable),
		zap.Error(err))

	if n := len(e.state.Messages); n > 0 && e.state.Messages[n-1].Role == models.RoleUser {
		e.state.Messages = e.state.Messages[:n-1]
	}
	if turnAction != nil {
		if n := len(e.state.ActionLog); n > 0 {
			e.state.ActionLog = e.state.ActionLog[:n-1]
		}
		e.pendingAction = turnAction.Text
	}

	if e.retriesLeft > 0 {
		e.retriesLeft--
	}
	e.lastError = &classification
	e.state.Phase = models.PhaseError
	turnsTotal.WithLabelValues("error").Inc()

	if e.notifier != nil {
		e.notifier.NotifyError(classification, e.retriesLeft)
	}
	e.notifyStateLocked()

	return fmt.Errorf("turn failed: %w", err)
}

// mintStoryEntry turns a validated generator response into a story
// entry, repairing the parts that are allowed to degrade. A missing
// image prompt falls back to the opening of the narrative; a choice
// list with fewer than two options is replaced wholesale.
func mintStoryEntry(resp map[string]any) models.StoryEntry {
	narrative := asString(resp["narrative"])

	imagePrompt := strings.TrimSpace(asString(resp["imagePrompt"]))
	if imagePrompt == "" {
		imagePrompt = truncateText(narrative, 100)
	}

	choices := asStringSlice(resp["choices"])
	if len(choices) < 2 {
		choices = append([]string(nil), fallbackChoices...)
	} else if len(choices) > 4 {
		choices = choices[:4]
	}

	return models.StoryEntry{
		ID:          uuid.New(),
		Narrative:   narrative,
		ImagePrompt: imagePrompt,
		Choices:     choices,
		Memories:    asStringSlice(resp["memories"]),
		CreatedAt:   time.Now().UTC(),
	}
}

func (e *Engine) persistTurnLocked(ctx context.Context, entry models.StoryEntry, turnAction *models.ActionEntry) {
	if e.session == nil {
		return
	}

	step := &models.StoryStep{
		ID:        uuid.New(),
		SessionID: e.session.ID,
		StepIndex: e.stepCount - 1,
		Entry:     entry,
		Action:    turnAction,
		CreatedAt: entry.CreatedAt,
	}
	if err := e.steps.Append(ctx, step); err != nil {
		e.logger.Warn("Failed to persist story step", zap.Error(err))
	}

	e.session.LastPlayedAt = time.Now().UTC()
	if err := e.sessions.Upsert(ctx, e.session); err != nil {
		e.logger.Warn("Failed to update session", zap.Error(err))
	}

	e.persistSummaryLocked(ctx)
}

func (e *Engine) persistSummaryLocked(ctx context.Context) {
	if e.session == nil {
		return
	}

	summary := e.currentSummary
	if summary == "" {
		summary = FallbackSummary(e.state.StoryLog)
	}

	record := &models.StorySummary{
		SessionID: e.session.ID,
		Summary:   summary,
		StepCount: e.stepCount,
	}
	if n := len(e.state.StoryLog); n > 0 {
		record.ThroughEntryID = e.state.StoryLog[n-1].ID
	}
	if err := e.summaries.Upsert(ctx, record); err != nil {
		e.logger.Warn("Failed to persist story summary", zap.Error(err))
	}
}

// enqueueImageLocked submits a detached enrichment task keyed by the
// entry id. The task survives the caller's request context; its result
// lands via AttachImage.
func (e *Engine) enqueueImageLocked(ctx context.Context, entry models.StoryEntry) {
	if e.images == nil || e.tasks == nil {
		return
	}

	entryID := entry.ID
	prompt := entry.ImagePrompt
	faceRestore := e.cfg.ImageFaceRestore

	_, err := e.tasks.Submit(ctx, "image_enrichment", func(taskCtx context.Context) error {
		var data []byte
		var genErr error
		if faceRestore {
			data, genErr = e.images.GenerateWithFaceRestore(taskCtx, prompt)
		} else {
			data, genErr = e.images.Generate(taskCtx, prompt)
		}
		if genErr != nil {
			return fmt.Errorf("generate image for entry %s: %w", entryID, genErr)
		}
		e.AttachImage(entryID, data)
		return nil
	})
	if err != nil {
		e.logger.Warn("Failed to enqueue image enrichment", zap.Error(err))
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if direct, ok := v.([]string); ok {
			return append([]string(nil), direct...)
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
