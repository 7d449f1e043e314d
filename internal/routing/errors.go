package routing

import "errors"

var (
	// ErrNeedNotRequested is returned when need-types lacks the worker's tag
	ErrNeedNotRequested = errors.New("need type not requested")

	// ErrAlreadySolved is returned when solution already holds the worker's tag
	ErrAlreadySolved = errors.New("need already solved")

	// ErrMissingField is returned when a required envelope field is absent or null
	ErrMissingField = errors.New("required field missing")

	// ErrCreatedBeforeCutover is returned for records older than the configured cutover
	ErrCreatedBeforeCutover = errors.New("record created before cutover")

	// ErrMalformedRecord is returned when the payload or an envelope field cannot be read
	ErrMalformedRecord = errors.New("malformed need record")
)
