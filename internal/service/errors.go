package service

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConflict         = errors.New("conflict")
	ErrInvalidStatus    = errors.New("invalid status transition")

	ErrAcceptConflict     = errors.New("issue already accepted by another worker")
	ErrNotOnRoster        = errors.New("worker is not on the active roster")
	ErrNoAssignmentPolicy = fmt.Errorf("%w: no worker given and no automatic assignment policy configured", ErrInvalidInput)
)

// FieldError is a local validation failure on one input field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *FieldError) Unwrap() error {
	return ErrInvalidInput
}

// RejectionError carries the classifier's reason for refusing a report.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "report rejected: " + e.Reason
}

// TooFarError is returned when a resolution is submitted away from the reported location.
type TooFarError struct {
	DistanceMeters  float64
	ThresholdMeters float64
}

func (e *TooFarError) Error() string {
	return fmt.Sprintf("resolution submitted %.0f m from the reported location, limit is %.0f m", e.DistanceMeters, e.ThresholdMeters)
}
