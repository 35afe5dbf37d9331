package payloads

import "time"

type UserRegisteredV1 struct {
	UserID       uint64    `json:"user_id" validate:"id"`
	Email        string    `json:"email" validate:"required,email"`
	RegisteredAt time.Time `json:"registered_at" validate:"required"`
}
