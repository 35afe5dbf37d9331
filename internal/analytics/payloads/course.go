package payloads

import (
	"time"

	"github.com/shopspring/decimal"
)

type CourseCreatedV1 struct {
	CourseID  uint64    `json:"course_id" validate:"id"`
	AuthorID  uint64    `json:"author_id" validate:"id"`
	CreatedAt time.Time `json:"created_at" validate:"required"`
}

type CourseEnrolledV1 struct {
	CourseID   uint64    `json:"course_id" validate:"id"`
	UserID     uint64    `json:"user_id" validate:"id"`
	EnrolledAt time.Time `json:"enrolled_at" validate:"required"`
}

// CourseProgressUpdatedV1 carries progress as an exact decimal so 33.33 stays 33.33 in the store.
// The column holds two fractional digits, so finer values are rejected rather than truncated.
type CourseProgressUpdatedV1 struct {
	CourseID        uint64           `json:"course_id" validate:"id"`
	UserID          uint64           `json:"user_id" validate:"id"`
	DeckID          uint64           `json:"deck_id" validate:"id"`
	ProgressPercent *decimal.Decimal `json:"progress_percent" validate:"required,gte=0,lte=100,decimal_places=2"`
	UpdatedAt       time.Time        `json:"updated_at" validate:"required"`
}
