package protocol

import "github.com/google/uuid"

// NewID returns a connection id for logs and client correlation.
func NewID() string {
	return uuid.NewString()
}
