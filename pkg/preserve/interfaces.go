package preserve

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore defines the interface for object storage backends holding
// staged and served bitstream content.
type BlobStore interface {
	// Upload uploads content directly
	Upload(ctx context.Context, objectKey string, reader io.Reader) error

	// UploadWithParams uploads content with additional parameters
	UploadWithParams(ctx context.Context, reader io.Reader, params UploadParams) error

	// Download downloads content directly
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// DownloadRange downloads the inclusive byte range [start, end]
	DownloadRange(ctx context.Context, objectKey string, start, end int64) (io.ReadCloser, error)

	// Delete deletes content
	Delete(ctx context.Context, objectKey string) error

	// GetObjectMeta retrieves metadata for an object
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)
}

// ObjectMeta contains metadata about an object in storage
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
}

// UploadParams contains parameters for uploading an object
type UploadParams struct {
	ObjectKey string
	MimeType  string
}

// Repository defines the interface for pipeline persistence: ingest
// records, bitstreams, the inbound-message audit trail, and download
// counts.
type Repository interface {
	// Ingest record operations.
	//
	// CreateIngestRecord enforces the one-pending-per-staging-key
	// invariant and returns ErrIngestPending when violated.
	CreateIngestRecord(ctx context.Context, record *IngestRecord) error
	GetIngestRecord(ctx context.Context, id uuid.UUID) (*IngestRecord, error)
	UpdateIngestRecord(ctx context.Context, record *IngestRecord) error
	DeleteIngestRecord(ctx context.Context, id uuid.UUID) error

	// ListPendingByStagingKey returns non-terminal records for a staging
	// key, most recently updated first.
	ListPendingByStagingKey(ctx context.Context, stagingKey string) ([]*IngestRecord, error)

	// ListPendingByMedusaUUID returns non-terminal delete records for a
	// remote entity, most recently updated first.
	ListPendingByMedusaUUID(ctx context.Context, medusaUUID string) ([]*IngestRecord, error)

	// ListStaleIngests returns non-terminal records sent before the
	// cutoff; records never published count from their creation time.
	ListStaleIngests(ctx context.Context, sentBefore time.Time) ([]*IngestRecord, error)

	// Bitstream operations
	CreateBitstream(ctx context.Context, bitstream *Bitstream) error
	GetBitstream(ctx context.Context, id uuid.UUID) (*Bitstream, error)
	GetBitstreamByMedusaUUID(ctx context.Context, medusaUUID string) (*Bitstream, error)
	UpdateBitstream(ctx context.Context, bitstream *Bitstream) error

	// DeleteBitstream soft-deletes without triggering side effects; used
	// when the remote archive confirms a delete, where emitting another
	// delete message would recurse.
	DeleteBitstream(ctx context.Context, id uuid.UUID) error

	// Audit trail operations (append-only)
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, limit int) ([]*AuditEntry, error)

	// Download count operations.
	//
	// IncrementDownloadCount is a single atomic insert-or-increment;
	// concurrent increments must never be lost.
	IncrementDownloadCount(ctx context.Context, scope Scope, year, month int) error

	// ListDownloadCounts returns recorded rows for months overlapping
	// [from, to]; months with no activity are absent.
	ListDownloadCounts(ctx context.Context, scope Scope, from, to time.Time) ([]*DownloadCount, error)

	// DeleteDownloadCounts removes all rows for a scope (bulk recompute only).
	DeleteDownloadCounts(ctx context.Context, scope Scope) error
}

// MessageQueue defines the interface for the message bus carrying
// preservation traffic. Delivery is at least once; consumers must be
// idempotent.
type MessageQueue interface {
	// Publish sends one message to a named queue.
	Publish(ctx context.Context, queue string, body []byte) error

	// Subscribe consumes a named queue, invoking fn once per delivery.
	// Messages on one queue are handled strictly one at a time.
	Subscribe(ctx context.Context, queue string, fn func(ctx context.Context, body []byte)) (Subscription, error)
}

// Subscription is a handle on an active queue subscription.
type Subscription interface {
	Unsubscribe() error
}

// ErrorReporter receives asynchronous pipeline failures that have no
// caller to propagate to: malformed messages, orphan responses, remote
// errors. Implementations notify operators (log, email, pager).
type ErrorReporter interface {
	Report(ctx context.Context, summary string, detail map[string]interface{})
}
