package chat

import "errors"

var (
	// ErrProviderUnavailable marks a generation or classification backend
	// that stayed unreachable after retry.
	ErrProviderUnavailable = errors.New("model provider unavailable")

	// ErrMalformedOutput marks classification output that could not be
	// parsed even after the stricter re-prompt.
	ErrMalformedOutput = errors.New("classification output not parseable")

	// ErrNoRelevantContext signals that no retrieved chunk cleared the
	// relevance floor. It drives the fallback ladder, not a failure.
	ErrNoRelevantContext = errors.New("no context above relevance floor")
)
