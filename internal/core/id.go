package core

import "github.com/google/uuid"

// NewID returns a random UUID string used for every persisted entity.
func NewID() string {
	return uuid.NewString()
}
