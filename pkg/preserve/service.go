package preserve

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// Service is the bitstream lifecycle manager: it owns the
// staging-to-permanent storage transition for a file and the outbound side
// of the preservation message protocol.
type Service interface {
	// StageBitstream allocates a staging key, streams content into the
	// blob store, and persists the bitstream row.
	StageBitstream(ctx context.Context, req StageBitstreamRequest) (*Bitstream, error)

	// GetBitstream returns one bitstream.
	GetBitstream(ctx context.Context, id uuid.UUID) (*Bitstream, error)

	// TriggerIngest creates a pending ingest record for a staged
	// bitstream and publishes the ingest message. Returns
	// ErrIngestPending when an ingest is already in flight for the
	// bitstream's staging key.
	TriggerIngest(ctx context.Context, bitstreamID uuid.UUID) (*IngestRecord, error)

	// TriggerDelete requests removal of a preserved bitstream from the
	// remote archive. Requires a medusa UUID.
	TriggerDelete(ctx context.Context, bitstreamID uuid.UUID) (*IngestRecord, error)

	// ResendIngest re-opens an errored record and republishes its
	// message. Only valid from the error status.
	ResendIngest(ctx context.Context, recordID uuid.UUID) (*IngestRecord, error)

	// GetIngestRecord returns one ingest record.
	GetIngestRecord(ctx context.Context, id uuid.UUID) (*IngestRecord, error)

	// ListStaleIngests returns non-terminal records whose message was
	// sent longer than olderThan ago, for operator attention.
	ListStaleIngests(ctx context.Context, olderThan time.Duration) ([]*IngestRecord, error)

	// DeleteFromStaging removes the staged copy of a bitstream once a
	// permanent copy is confirmed. No-op when no staging key remains.
	DeleteFromStaging(ctx context.Context, bitstreamID uuid.UUID) error

	// ServeBitstream resolves the servable copy (permanent preferred)
	// and opens a full or ranged read on it.
	ServeBitstream(ctx context.Context, req ServeBitstreamRequest) (*ServedContent, error)
}

// StageBitstreamRequest contains parameters for staging a new bitstream.
type StageBitstreamRequest struct {
	ItemID         uuid.UUID
	InstitutionKey string
	Filename       string
	Length         int64
	ContentType    string
	Reader         io.Reader
}

// ServeBitstreamRequest contains parameters for serving bitstream content.
// RangeHeader is the raw HTTP Range header value, empty for a full read.
type ServeBitstreamRequest struct {
	BitstreamID uuid.UUID
	RangeHeader string
}

// ServedContent is an open read on bitstream content plus the metadata the
// HTTP layer needs to write response headers.
type ServedContent struct {
	Reader      io.ReadCloser
	Filename    string
	ContentType string
	UpdatedAt   time.Time

	// Length is the number of bytes this read will yield; TotalSize is
	// the full object size. They differ for ranged reads.
	Length    int64
	TotalSize int64
	Partial   bool
	Start     int64
	End       int64
}
