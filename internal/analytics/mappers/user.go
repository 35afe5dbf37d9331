package mappers

import (
	"time"

	"github.com/angelmondragon/events-collector/internal/analytics/payloads"
	"github.com/angelmondragon/events-collector/internal/analytics/types"
)

var UserRegisteredColumns = columns("user_id", "email")

func UserRegistered(producedAt time.Time, eventID types.EventID, payload any) (types.Row, error) {
	event, err := payloadAs[payloads.UserRegisteredV1](payload)
	if err != nil {
		return nil, err
	}
	return row(event.RegisteredAt, producedAt, eventID, event.UserID, event.Email), nil
}
