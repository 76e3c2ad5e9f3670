package clinic

import (
	"errors"
	"fmt"
)

// Errors returned by the clinical workflow. Every rejected action leaves the
// store untouched.
var (
	ErrNotFound          = errors.New("not found")
	ErrEmptyPrescription = errors.New("prescription has no line items")
	ErrAlreadyDispensed  = errors.New("prescription already dispensed")
	ErrInvalidQuantity   = errors.New("quantity must be greater than zero")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidPatient    = errors.New("invalid patient")
	ErrDuplicateID       = errors.New("id already in use")

	ErrUnknownPatient    = fmt.Errorf("unknown patient: %w", ErrNotFound)
	ErrUnknownMedication = fmt.Errorf("unknown medication: %w", ErrNotFound)
	ErrUnknownPrescriber = fmt.Errorf("unknown prescriber: %w", ErrNotFound)
)

// unavailable wraps a store failure so callers can match ErrStoreUnavailable.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
