package preserve

import (
	"time"

	"github.com/google/uuid"
)

// Operation is the kind of preservation request sent to the remote archive.
type Operation string

// Operation constants (typed).
const (
	OperationIngest Operation = "ingest"
	OperationDelete Operation = "delete"
)

// IngestStatus is the domain type for ingest record lifecycle states.
type IngestStatus string

// Ingest status constants (typed).
//
// A record starts pending, becomes ok or error exactly once, and may be
// re-opened from error via resend. OK is terminal and never overwritten.
const (
	IngestStatusPending IngestStatus = "pending"
	IngestStatusOK      IngestStatus = "ok"
	IngestStatusError   IngestStatus = "error"
	IngestStatusResent  IngestStatus = "resent"
)

// Terminal reports whether the status can no longer change without an
// explicit resend.
func (s IngestStatus) Terminal() bool {
	return s == IngestStatusOK || s == IngestStatusError
}

// IngestRecord is the persistent record of one outbound preservation
// request and its eventual response.
//
// At most one non-terminal (pending/resent) record may exist per staging
// key at a time; a second ingest request for the same key is rejected
// rather than duplicated.
type IngestRecord struct {
	ID           uuid.UUID    `json:"id"`
	Operation    Operation    `json:"operation"`
	Status       IngestStatus `json:"status"`
	StagingKey   string       `json:"staging_key"`
	TargetKey    string       `json:"target_key,omitempty"`
	MedusaKey    string       `json:"medusa_key,omitempty"`
	MedusaUUID   string       `json:"medusa_uuid,omitempty"`
	ErrorText    string       `json:"error_text,omitempty"`
	Owner        OwnerRef     `json:"owner"`
	SentAt       *time.Time   `json:"sent_at,omitempty"`
	ResponseTime *time.Time   `json:"response_time,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Bitstream represents a single file associated with an item.
//
// Storage-key states: staging key only (uploaded, not yet preserved);
// staging and permanent key (preserved, staging copy not yet reaped);
// permanent key only (fully preserved). Content serving prefers the
// permanent key whenever it is set.
type Bitstream struct {
	ID             uuid.UUID  `json:"id"`
	ItemID         uuid.UUID  `json:"item_id"`
	InstitutionKey string     `json:"institution_key"`
	Filename       string     `json:"filename"`
	Length         int64      `json:"length"`
	ContentType    string     `json:"content_type,omitempty"`
	StagingKey     *string    `json:"staging_key,omitempty"`
	PermanentKey   *string    `json:"permanent_key,omitempty"`
	MedusaUUID     *string    `json:"medusa_uuid,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// EffectiveKey returns the object-store key content should be served from,
// preferring the permanent copy.
func (b *Bitstream) EffectiveKey() (string, bool) {
	if b.PermanentKey != nil && *b.PermanentKey != "" {
		return *b.PermanentKey, true
	}
	if b.StagingKey != nil && *b.StagingKey != "" {
		return *b.StagingKey, true
	}
	return "", false
}

// ScopeKind identifies which reporting dimension a download count belongs to.
type ScopeKind string

// Scope kind constants (typed).
const (
	ScopeItem        ScopeKind = "item"
	ScopeCollection  ScopeKind = "collection"
	ScopeUnit        ScopeKind = "unit"
	ScopeInstitution ScopeKind = "institution"
)

// Scope is one reporting dimension instance: an item, collection, unit, or
// institution. Scope IDs are soft references; counts survive deletion of
// the referenced entity.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

// DownloadCount is one month of download activity for a scope.
type DownloadCount struct {
	Scope Scope `json:"scope"`
	Year  int   `json:"year"`
	Month int   `json:"month"`
	Count int64 `json:"count"`
}

// AuditEntry is one verbatim inbound queue message, retained indefinitely
// for operator replay and diagnosis. Append-only; never updated or pruned.
type AuditEntry struct {
	ID         uuid.UUID `json:"id"`
	Queue      string    `json:"queue,omitempty"`
	RawBody    string    `json:"raw_body"`
	ReceivedAt time.Time `json:"received_at"`
}

// Institution carries the per-institution queue pair. No other
// institution's messages are ever visible on a given pair.
type Institution struct {
	ID            uuid.UUID `json:"id"`
	Key           string    `json:"key"`
	OutgoingQueue string    `json:"outgoing_message_queue"`
	IncomingQueue string    `json:"incoming_message_queue"`
}
