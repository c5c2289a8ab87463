package ingestion

import "errors"

// ErrHashMismatch reports a section whose stored hash moved between planning
// a run and writing its batch, meaning a concurrent writer touched it. The
// affected section is skipped and flagged for manual review.
var ErrHashMismatch = errors.New("stored section hash changed mid-run")

// ErrProviderUnavailable wraps embedding backend failures after retry.
var ErrProviderUnavailable = errors.New("embedding provider unavailable")
