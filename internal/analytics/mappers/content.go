package mappers

import (
	"time"

	"github.com/angelmondragon/events-collector/internal/analytics/payloads"
	"github.com/angelmondragon/events-collector/internal/analytics/types"
)

var (
	DeckCreatedColumns = columns("deck_id", "author_id")
	CardCreatedColumns = columns("card_id", "deck_id")
)

func DeckCreated(producedAt time.Time, eventID types.EventID, payload any) (types.Row, error) {
	event, err := payloadAs[payloads.DeckCreatedV1](payload)
	if err != nil {
		return nil, err
	}
	return row(event.CreatedAt, producedAt, eventID, event.DeckID, event.AuthorID), nil
}

func CardCreated(producedAt time.Time, eventID types.EventID, payload any) (types.Row, error) {
	event, err := payloadAs[payloads.CardCreatedV1](payload)
	if err != nil {
		return nil, err
	}
	return row(event.CreatedAt, producedAt, eventID, event.CardID, event.DeckID), nil
}
