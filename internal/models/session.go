package models

import (
	"time"

	"github.com/google/uuid"
)

// ConfigSnapshot captures the generator configuration active when a
// session was created. Stored on the session and never touched again,
// so old saves replay against the settings they were written with.
type ConfigSnapshot struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	ImageEnabled bool   `json:"imageEnabled"`
}

// Session identifies one branching narrative.
type Session struct {
	ID           uuid.UUID      `json:"id"`
	Title        string         `json:"title"`
	SeedPrompt   string         `json:"seedPrompt"`
	Config       ConfigSnapshot `json:"config"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastPlayedAt time.Time      `json:"lastPlayedAt"`
}

// StorySummary is the condensed narrative digest persisted for a session.
// One overwritten row per session; only the latest summary is retained.
type StorySummary struct {
	SessionID      uuid.UUID `json:"sessionId"`
	Summary        string    `json:"summary"`
	StepCount      int       `json:"stepCount"`
	ThroughEntryID uuid.UUID `json:"throughEntryId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// StoryStep is one persisted turn: the story entry the generator produced
// plus the player action that triggered it (absent for the opening beat).
type StoryStep struct {
	ID        uuid.UUID    `json:"id"`
	SessionID uuid.UUID    `json:"sessionId"`
	StepIndex int          `json:"stepIndex"`
	Entry     StoryEntry   `json:"entry"`
	Action    *ActionEntry `json:"action,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}
