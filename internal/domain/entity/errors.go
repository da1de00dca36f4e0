package entity

import "errors"

// Error taxonomy shared by every layer. Callers match with errors.Is; producers
// wrap with fmt.Errorf("...: %w", err) so the cause survives.
var (
	// ErrDataUnavailable means the entity store could not be reached after
	// the bounded retries were exhausted.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrInsufficientData means no applicable risk factor could be computed.
	// The risk is unknown, which is distinct from a known score of 0.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrAlgorithmUndefined means a metric has no defined value for the
	// shape of the graph it was asked about.
	ErrAlgorithmUndefined = errors.New("algorithm undefined for graph")

	// ErrConcurrentModification means a scoring pass or alert update lost a
	// compare-and-swap against a newer write.
	ErrConcurrentModification = errors.New("concurrent modification")

	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid alert status transition")
)
