package payloads

import "time"

// DeckCreatedV1 is published by the content service when a deck is created.
type DeckCreatedV1 struct {
	DeckID    uint64    `json:"deck_id" validate:"id"`
	AuthorID  uint64    `json:"author_id" validate:"id"`
	CreatedAt time.Time `json:"created_at" validate:"required"`
}

// CardCreatedV1 is published by the content service when a card is added to a deck.
type CardCreatedV1 struct {
	CardID    uint64    `json:"card_id" validate:"id"`
	DeckID    uint64    `json:"deck_id" validate:"id"`
	CreatedAt time.Time `json:"created_at" validate:"required"`
}
