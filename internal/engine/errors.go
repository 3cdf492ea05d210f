package engine

import "errors"

var (
	// ErrInvalidInput is returned for empty or malformed requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrModelUnavailable is returned when a required model is not loaded.
	ErrModelUnavailable = errors.New("model not loaded")

	// ErrScoring is returned when a model that the request cannot do
	// without fails to score.
	ErrScoring = errors.New("scoring failed")

	// ErrNoVerdict is returned when no loaded model accepts any given input.
	ErrNoVerdict = errors.New("no model accepts the given inputs")
)
