package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an administrator allowed to call the protected endpoints
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
