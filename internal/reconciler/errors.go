package reconciler

import (
	"errors"
	"fmt"

	"mmledger/internal/event"
)

var (
	// ErrPrerequisiteMissing means an entity the protocol guarantees to exist
	// was not found. It points at an upstream ordering or decoding defect.
	ErrPrerequisiteMissing = errors.New("reconciler: prerequisite entity missing")
	// ErrDuplicateRegistration is returned for a SupportedMarket on a known
	// asset under the reject policy.
	ErrDuplicateRegistration = errors.New("reconciler: market already registered")
	// ErrUnsupportedEvent is returned for payloads the reconciler cannot dispatch.
	ErrUnsupportedEvent = errors.New("reconciler: unsupported event")
)

// PrerequisiteError names the missing entity.
type PrerequisiteError struct {
	Kind   event.Kind
	Entity Entity
	Key    string
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("%s: %s %q not found: %v", e.Kind, e.Entity, e.Key, ErrPrerequisiteMissing)
}

func (e *PrerequisiteError) Unwrap() error {
	return ErrPrerequisiteMissing
}
