package models

import (
	"time"

	"github.com/google/uuid"
)

// GamePhase represents the lifecycle state of a game session.
type GamePhase string

const (
	PhaseMenu    GamePhase = "menu"
	PhaseLoading GamePhase = "loading"
	PhasePlaying GamePhase = "playing"
	PhaseError   GamePhase = "error"
)

// Message roles used in the generator conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxMemories bounds the list of salient facts carried across turns.
// Oldest entries are evicted first on overflow.
const MaxMemories = 10

// OutcomeLabel is the resolved result of a player action.
type OutcomeLabel string

const (
	OutcomeStart          OutcomeLabel = "Start"
	OutcomeSuccess        OutcomeLabel = "Success"
	OutcomePartialSuccess OutcomeLabel = "Partial Success"
	OutcomeFailure        OutcomeLabel = "Failure"
)

// ChatMessage is one role-tagged turn of the generator conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StoryEntry is one generator-produced narrative beat.
// ImageData is attached asynchronously after the entry is already visible.
type StoryEntry struct {
	ID          uuid.UUID `json:"id"`
	Narrative   string    `json:"narrative"`
	ImagePrompt string    `json:"imagePrompt"`
	Choices     []string  `json:"choices"`
	Memories    []string  `json:"memories,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ImageData   []byte    `json:"imageData,omitempty"`
}

// ActionEntry is one player decision with its resolved outcome.
type ActionEntry struct {
	Text      string       `json:"text"`
	Outcome   OutcomeLabel `json:"outcome"`
	CreatedAt time.Time    `json:"createdAt"`
}

// GameState is the single mutable aggregate of a running session.
// It is owned and mutated exclusively by the engine; everything else
// receives copies.
type GameState struct {
	SessionID uuid.UUID     `json:"sessionId"`
	Phase     GamePhase     `json:"currentState"`
	Messages  []ChatMessage `json:"messages"`
	StoryLog  []StoryEntry  `json:"storyLog"`
	ActionLog []ActionEntry `json:"actionLog"`
	Memories  []string      `json:"memories"`

	// ContextTokens is the current estimated token count of Messages.
	ContextTokens int `json:"contextTokens"`
	// ContextLimit is the backend's detected context window.
	// Zero means unknown (not probed, or the probe failed).
	ContextLimit int `json:"contextLimit,omitempty"`
}

// NewGameState returns a fresh loading state bound to a session.
func NewGameState(sessionID uuid.UUID) *GameState {
	return &GameState{
		SessionID: sessionID,
		Phase:     PhaseLoading,
		Messages:  make([]ChatMessage, 0),
		StoryLog:  make([]StoryEntry, 0),
		ActionLog: make([]ActionEntry, 0),
		Memories:  make([]string, 0),
	}
}

// AddMemories merges new facts into the bounded memory list,
// evicting the oldest entries when the cap is exceeded.
func (s *GameState) AddMemories(facts []string) {
	for _, f := range facts {
		if f == "" {
			continue
		}
		s.Memories = append(s.Memories, f)
	}
	if over := len(s.Memories) - MaxMemories; over > 0 {
		s.Memories = append([]string(nil), s.Memories[over:]...)
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *GameState) Clone() *GameState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Messages = append([]ChatMessage(nil), s.Messages...)
	cp.ActionLog = append([]ActionEntry(nil), s.ActionLog...)
	cp.Memories = append([]string(nil), s.Memories...)
	cp.StoryLog = make([]StoryEntry, len(s.StoryLog))
	for i, e := range s.StoryLog {
		ec := e
		ec.Choices = append([]string(nil), e.Choices...)
		ec.Memories = append([]string(nil), e.Memories...)
		ec.ImageData = append([]byte(nil), e.ImageData...)
		cp.StoryLog[i] = ec
	}
	return &cp
}
