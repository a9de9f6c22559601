package utils

import (
	"github.com/google/uuid"
)

// NewGeneration returns a fresh generation token for liveness checks.
func NewGeneration() string {
	return uuid.NewString()
}

func NewRequestID() string {
	return "req_" + uuid.NewString()
}
