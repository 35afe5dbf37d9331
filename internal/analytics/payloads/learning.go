package payloads

import "time"

type LearningSessionStartedV1 struct {
	UserID    uint64    `json:"user_id" validate:"id"`
	DeckID    uint64    `json:"deck_id" validate:"id"`
	SessionID uint64    `json:"session_id" validate:"id"`
	StartedAt time.Time `json:"started_at" validate:"required"`
}

// LearningSessionFinishedV1 closes a session; total_cards_seen can never trail learned_cards.
type LearningSessionFinishedV1 struct {
	UserID         uint64    `json:"user_id" validate:"id"`
	DeckID         uint64    `json:"deck_id" validate:"id"`
	SessionID      uint64    `json:"session_id" validate:"id"`
	LearnedCards   *uint32   `json:"learned_cards" validate:"required"`
	TotalCardsSeen *uint32   `json:"total_cards_seen" validate:"required,gtefield=LearnedCards"`
	DurationSec    *uint32   `json:"duration_sec" validate:"required"`
	Completed      *bool     `json:"completed" validate:"required"`
	FinishedAt     time.Time `json:"finished_at" validate:"required"`
}
