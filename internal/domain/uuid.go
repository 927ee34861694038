package domain

import "github.com/google/uuid"

// NewUUID generates a random UUID v4.
func NewUUID() string {
	return uuid.NewString()
}
