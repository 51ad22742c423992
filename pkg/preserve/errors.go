package preserve

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrBitstreamNotFound indicates a bitstream was not found
	ErrBitstreamNotFound = errors.New("bitstream not found")

	// ErrIngestNotFound indicates an ingest record was not found
	ErrIngestNotFound = errors.New("ingest record not found")

	// ErrIngestPending indicates an ingest is already pending for a staging key
	ErrIngestPending = errors.New("an ingest is already pending for this staging key")

	// ErrNoStagingKey indicates the bitstream has no staged copy to ingest
	ErrNoStagingKey = errors.New("bitstream has no staging key")

	// ErrNoMedusaUUID indicates a delete was requested for a bitstream never preserved
	ErrNoMedusaUUID = errors.New("bitstream has no medusa uuid")

	// ErrInvalidState indicates a lifecycle transition not allowed from the current status
	ErrInvalidState = errors.New("operation not valid in current state")

	// ErrNotServable indicates a bitstream with neither a permanent nor a staging key
	ErrNotServable = errors.New("bitstream has no servable content")

	// ErrMissingField indicates an ingest record missing a required key field
	ErrMissingField = errors.New("required field is missing")

	// ErrInstitutionNotFound indicates no queue pair is configured for an institution
	ErrInstitutionNotFound = errors.New("institution not configured")

	// ErrInvalidRange indicates an unsatisfiable byte-range request
	ErrInvalidRange = errors.New("requested range not satisfiable")
)

// IngestError represents an error related to ingest record operations
type IngestError struct {
	RecordID uuid.UUID
	Op       string
	Err      error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest operation %s failed for record %s: %v", e.Op, e.RecordID, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// BitstreamError represents an error related to bitstream operations
type BitstreamError struct {
	BitstreamID uuid.UUID
	Op          string
	Err         error
}

func (e *BitstreamError) Error() string {
	return fmt.Sprintf("bitstream operation %s failed for bitstream %s: %v", e.Op, e.BitstreamID, e.Err)
}

func (e *BitstreamError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to blob store operations
type StorageError struct {
	Key string
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
