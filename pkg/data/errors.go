package data

import "errors"

// Sentinel errors for sample merge operations.
var (
	// ErrMergeSamplesType is returned when merging samples of different
	// composed types.
	ErrMergeSamplesType = errors.New("cannot merge samples of different types")

	// ErrMergeSamplesUUID is returned when merging two samples with
	// different UUIDs.
	ErrMergeSamplesUUID = errors.New("cannot merge samples with different UUIDs")

	// ErrUnknownField is returned when a closed sample type sees an
	// undeclared field.
	ErrUnknownField = errors.New("unknown sample field")

	// ErrDuplicateUUID is returned when a Samples collection would end up
	// with two samples sharing a UUID.
	ErrDuplicateUUID = errors.New("duplicate sample UUID")

	// ErrMissingID is returned when a samples-file row has no id.
	ErrMissingID = errors.New("sample row is missing 'id'")
)
