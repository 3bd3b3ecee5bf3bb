// Package uuid generates the identifiers attached to outgoing requests.
package uuid

import (
	"github.com/google/uuid"
)

// NewRequestID returns a time-ordered UUIDv7 string, so request ids sort in the order the
// requests were sent. It falls back to a random UUIDv4 if the v7 generator fails.
func NewRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
