package preserve

import (
	"fmt"
	"time"
)

// Inbound message status values.
const (
	MessageStatusOK    = "ok"
	MessageStatusError = "error"
)

// OutboundMessage is the wire form of a preservation request.
//
// INGEST carries staging_key and target_key; DELETE carries the remote
// entity's uuid. The pass-through envelope is echoed back verbatim.
type OutboundMessage struct {
	Operation   Operation   `json:"operation"`
	StagingKey  string      `json:"staging_key,omitempty"`
	TargetKey   string      `json:"target_key,omitempty"`
	UUID        string      `json:"uuid,omitempty"`
	PassThrough PassThrough `json:"pass_through"`
}

// InboundMessage is the wire form of a response from the remote archive.
type InboundMessage struct {
	Status      string      `json:"status"`
	Operation   string      `json:"operation"`
	StagingKey  string      `json:"staging_key,omitempty"`
	MedusaKey   string      `json:"medusa_key,omitempty"`
	UUID        string      `json:"uuid,omitempty"`
	PassThrough PassThrough `json:"pass_through,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// OutboundMessage builds the wire message for a record, validating that
// the fields the operation requires are present.
func (r *IngestRecord) OutboundMessage() (OutboundMessage, error) {
	switch r.Operation {
	case OperationIngest:
		if r.StagingKey == "" {
			return OutboundMessage{}, fmt.Errorf("%w: staging_key", ErrMissingField)
		}
		if r.TargetKey == "" {
			return OutboundMessage{}, fmt.Errorf("%w: target_key", ErrMissingField)
		}
		return OutboundMessage{
			Operation:   OperationIngest,
			StagingKey:  r.StagingKey,
			TargetKey:   r.TargetKey,
			PassThrough: r.Owner.PassThrough(),
		}, nil
	case OperationDelete:
		if r.MedusaUUID == "" {
			return OutboundMessage{}, fmt.Errorf("%w: medusa_uuid", ErrMissingField)
		}
		return OutboundMessage{
			Operation:   OperationDelete,
			UUID:        r.MedusaUUID,
			PassThrough: r.Owner.PassThrough(),
		}, nil
	default:
		return OutboundMessage{}, fmt.Errorf("unknown operation %q", r.Operation)
	}
}

// ApplyResponse transitions the record from a response message. Returns
// false when the record is already ok: at-least-once delivery means a
// duplicate ok response must not re-apply side effects, so callers skip
// them entirely. Error responses set the status and error text; ok
// responses record the assigned medusa key and uuid.
func (r *IngestRecord) ApplyResponse(msg InboundMessage, now time.Time) bool {
	if r.Status == IngestStatusOK {
		return false
	}
	t := now
	r.ResponseTime = &t
	r.UpdatedAt = now
	switch msg.Status {
	case MessageStatusOK:
		r.Status = IngestStatusOK
		r.ErrorText = ""
		if msg.MedusaKey != "" {
			r.MedusaKey = msg.MedusaKey
		}
		if msg.UUID != "" {
			r.MedusaUUID = msg.UUID
		}
	default:
		r.Status = IngestStatusError
		r.ErrorText = msg.Error
	}
	return true
}

// Reopen clears response state ahead of a resend. Only valid from error.
func (r *IngestRecord) Reopen(now time.Time) error {
	if r.Status != IngestStatusError {
		return fmt.Errorf("%w: resend requires status %q, have %q", ErrInvalidState, IngestStatusError, r.Status)
	}
	r.Status = IngestStatusResent
	r.ErrorText = ""
	r.ResponseTime = nil
	r.UpdatedAt = now
	return nil
}
