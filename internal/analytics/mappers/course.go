package mappers

import (
	"time"

	"github.com/angelmondragon/events-collector/internal/analytics/payloads"
	"github.com/angelmondragon/events-collector/internal/analytics/types"
)

var (
	CourseCreatedColumns         = columns("course_id", "author_id")
	CourseEnrolledColumns        = columns("course_id", "user_id")
	CourseProgressUpdatedColumns = columns("course_id", "user_id", "deck_id", "progress_percent")
)

func CourseCreated(producedAt time.Time, eventID types.EventID, payload any) (types.Row, error) {
	event, err := payloadAs[payloads.CourseCreatedV1](payload)
	if err != nil {
		return nil, err
	}
	return row(event.CreatedAt, producedAt, eventID, event.CourseID, event.AuthorID), nil
}

func CourseEnrolled(producedAt time.Time, eventID types.EventID, payload any) (types.Row, error) {
	event, err := payloadAs[payloads.CourseEnrolledV1](payload)
	if err != nil {
		return nil, err
	}
	return row(event.EnrolledAt, producedAt, eventID, event.CourseID, event.UserID), nil
}

func CourseProgressUpdated(producedAt time.Time, eventID types.EventID, payload any) (types.Row, error) {
	event, err := payloadAs[payloads.CourseProgressUpdatedV1](payload)
	if err != nil {
		return nil, err
	}
	return row(
		event.UpdatedAt,
		producedAt,
		eventID,
		event.CourseID,
		event.UserID,
		event.DeckID,
		value(event.ProgressPercent),
	), nil
}
