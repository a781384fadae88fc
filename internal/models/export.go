package models

import "time"

// ExportVersion tags export envelopes so future format changes can be
// detected on import.
const ExportVersion = "1"

// GameStateExport is a plain structured snapshot of a game state.
type GameStateExport struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exportedAt"`
	State      GameState `json:"state"`
}

// SessionExport is a plain structured snapshot of a session together with
// its game state, sufficient to restore play on another install.
type SessionExport struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exportedAt"`
	Session    Session   `json:"session"`
	State      GameState `json:"state"`
}

// Validate checks the minimum contract for accepting an imported state:
// a non-empty message history, story log and action log.
func (e *GameStateExport) Validate() error {
	if len(e.State.Messages) == 0 || len(e.State.StoryLog) == 0 || len(e.State.ActionLog) == 0 {
		return ErrInvalidImport
	}
	return nil
}
