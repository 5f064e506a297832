package services

import (
	"errors"
	"fmt"
)

// ErrUserNotFound is returned when a referenced user does not exist.
var ErrUserNotFound = errors.New("user not found")

// ErrClusterNotFound is returned when a referenced cluster does not exist.
var ErrClusterNotFound = errors.New("cluster not found")

// ValidationError covers bad formation inputs: identical core users, users
// already clustered, inactive users. Not retryable.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// InsufficientPoolError is returned when the candidate pool is too small to
// fill a cluster. Nothing has been persisted when it is returned.
type InsufficientPoolError struct {
	Available int
	Required  int
}

func (e *InsufficientPoolError) Error() string {
	return fmt.Sprintf("candidate pool too small: %d available, %d required", e.Available, e.Required)
}

// InsufficientResonanceError is returned when the core pair's resonance is
// below the formation threshold. Nothing has been persisted.
type InsufficientResonanceError struct {
	Resonance float64
	Threshold float64
}

func (e *InsufficientResonanceError) Error() string {
	return fmt.Sprintf("core resonance %.2f below threshold %.2f", e.Resonance, e.Threshold)
}
