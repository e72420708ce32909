package tts

import "errors"

// Common errors for the streaming TTS pipeline.
var (
	// Lifecycle errors
	ErrNotInitialized = errors.New("pipeline is not initialized")
	ErrAlreadyClosed  = errors.New("pipeline has been closed")

	// Ingest errors
	ErrPushTimeout = errors.New("raw text queue stayed full past the push timeout")
	ErrQueueFull   = errors.New("sentence queue is full")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingAPIKey = errors.New("synthesis API key is required")
	ErrMissingSecret = errors.New("synthesis secret key is required")
)

// IsRecoverableError checks if an error leaves the pipeline usable.
func IsRecoverableError(err error) bool {
	if err == nil {
		return true
	}

	switch {
	case errors.Is(err, ErrNotInitialized),
		errors.Is(err, ErrAlreadyClosed),
		errors.Is(err, ErrInvalidConfig):
		return false
	}

	// Push timeouts and queue pressure are transient.
	return true
}
