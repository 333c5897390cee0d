package crawler

import (
	"errors"
	"fmt"
)

// Error classes used to route task failures.
var (
	// ErrTransientFetch covers navigation and timeout failures of a provider.
	ErrTransientFetch = errors.New("transient fetch failure")
	// ErrParse marks coordinates or text that could not be parsed.
	ErrParse = errors.New("parse failure")
	// ErrPersistence marks a sink write failure; records may be lost.
	ErrPersistence = errors.New("persistence failure")
	// ErrProviderFatal means the session provider is unusable for the area.
	ErrProviderFatal = errors.New("session provider unusable")
)

// Transient wraps err as a transient fetch failure.
func Transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransientFetch, err)
}

// Persistence wraps err as a persistence failure.
func Persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// ProviderFatal wraps err as a fatal provider failure.
func ProviderFatal(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrProviderFatal, err)
}

// OutcomeStatus classifies how a task ended.
type OutcomeStatus string

// Task outcome values.
const (
	OutcomeSucceeded     OutcomeStatus = "succeeded"
	OutcomeTransientSkip OutcomeStatus = "transient_skip"
	OutcomePersistFailed OutcomeStatus = "persist_failed"
	OutcomeFatal         OutcomeStatus = "fatal"
)

// Outcome is the explicit result of processing one SearchTask.
type Outcome struct {
	Status OutcomeStatus
	// Found is the number of candidates returned by the search.
	Found int
	// Rejected counts candidates dropped by the geofence.
	Rejected int
	// Duplicates counts candidates whose key was already claimed.
	Duplicates int
	// Persisted counts records written to the sink.
	Persisted int
	// PersistFailures counts claimed records that could not be written.
	PersistFailures int
	Err             error
}

// Classify maps an error to the outcome status it implies.
func Classify(err error) OutcomeStatus {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.Is(err, ErrProviderFatal):
		return OutcomeFatal
	case errors.Is(err, ErrPersistence):
		return OutcomePersistFailed
	default:
		return OutcomeTransientSkip
	}
}
