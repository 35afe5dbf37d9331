package mappers

import (
	"time"

	"github.com/angelmondragon/events-collector/internal/analytics/payloads"
	"github.com/angelmondragon/events-collector/internal/analytics/types"
)

var (
	LearningSessionStartedColumns  = columns("user_id", "deck_id", "session_id")
	LearningSessionFinishedColumns = columns(
		"user_id",
		"deck_id",
		"session_id",
		"learned_cards",
		"total_cards_seen",
		"duration_sec",
		"completed",
	)
)

func LearningSessionStarted(producedAt time.Time, eventID types.EventID, payload any) (types.Row, error) {
	event, err := payloadAs[payloads.LearningSessionStartedV1](payload)
	if err != nil {
		return nil, err
	}
	return row(event.StartedAt, producedAt, eventID, event.UserID, event.DeckID, event.SessionID), nil
}

func LearningSessionFinished(producedAt time.Time, eventID types.EventID, payload any) (types.Row, error) {
	event, err := payloadAs[payloads.LearningSessionFinishedV1](payload)
	if err != nil {
		return nil, err
	}
	return row(
		event.FinishedAt,
		producedAt,
		eventID,
		event.UserID,
		event.DeckID,
		event.SessionID,
		value(event.LearnedCards),
		value(event.TotalCardsSeen),
		value(event.DurationSec),
		value(event.Completed),
	), nil
}
