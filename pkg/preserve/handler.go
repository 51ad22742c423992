package preserve

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// MessageHandler consumes incoming queue messages and drives ingest
// records and bitstreams toward a consistent terminal state.
//
// HandleMessage never fails upward: the queue consumer must keep
// processing subsequent messages, so malformed or unmatchable messages
// are reported to the operator channel and dropped.
type MessageHandler struct {
	repository Repository
	service    Service
	reporter   ErrorReporter
}

// NewMessageHandler creates a handler over the given collaborators.
func NewMessageHandler(repo Repository, svc Service, reporter ErrorReporter) *MessageHandler {
	if reporter == nil {
		reporter = NewLogReporter()
	}
	return &MessageHandler{
		repository: repo,
		service:    svc,
		reporter:   reporter,
	}
}

// Consume subscribes the handler to a named incoming queue. Messages are
// processed strictly one at a time per queue.
func (h *MessageHandler) Consume(ctx context.Context, mq MessageQueue, queueName string) (Subscription, error) {
	return mq.Subscribe(ctx, queueName, func(ctx context.Context, body []byte) {
		h.HandleMessage(ctx, body)
	})
}

// HandleMessage processes one raw incoming queue message.
func (h *MessageHandler) HandleMessage(ctx context.Context, raw []byte) {
	// The verbatim message is retained regardless of what happens next,
	// so operators can replay and diagnose.
	audit := &AuditEntry{
		ID:         uuid.New(),
		RawBody:    string(raw),
		ReceivedAt: time.Now().UTC(),
	}
	if err := h.repository.AppendAudit(ctx, audit); err != nil {
		h.reporter.Report(ctx, "failed to persist message audit entry", map[string]interface{}{
			"error": err.Error(),
			"raw":   string(raw),
		})
	}

	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.reporter.Report(ctx, "malformed incoming message", map[string]interface{}{
			"error": err.Error(),
			"raw":   string(raw),
		})
		return
	}

	if msg.Status != MessageStatusOK && msg.Status != MessageStatusError {
		h.reporter.Report(ctx, "incoming message with unrecognized status", map[string]interface{}{
			"status": msg.Status,
			"raw":    string(raw),
		})
		return
	}
	if msg.Operation == "" {
		h.reporter.Report(ctx, "incoming message missing operation", map[string]interface{}{
			"raw": string(raw),
		})
		return
	}

	switch {
	case msg.Status == MessageStatusOK && msg.Operation == string(OperationDelete):
		h.handleDeleteSucceeded(ctx, msg, raw)
	case msg.Status == MessageStatusOK:
		h.handleIngestSucceeded(ctx, msg, raw)
	default:
		h.handleFailed(ctx, msg, raw)
	}
}

func (h *MessageHandler) handleIngestSucceeded(ctx context.Context, msg InboundMessage, raw []byte) {
	record, err := h.matchByStagingKey(ctx, msg.StagingKey)
	if err != nil {
		// A repository outage is not orphan traffic; the message will be
		// redelivered once the store recovers.
		h.reporter.Report(ctx, "failed to look up ingest record for response", map[string]interface{}{
			"staging_key": msg.StagingKey,
			"error":       err.Error(),
		})
		return
	}
	if record == nil {
		// Redelivery after the record went terminal leaves nothing pending
		// to match. If the owning bitstream was already promoted, this is a
		// duplicate and not worth an operator alert.
		if owner, err := OwnerRefFromPassThrough(msg.PassThrough); err == nil {
			if b, err := ResolveOwnerBitstream(ctx, h.repository, owner); err == nil &&
				b.PermanentKey != nil && *b.PermanentKey != "" {
				slog.InfoContext(ctx, "duplicate ok response ignored",
					"bitstream_id", b.ID, "staging_key", msg.StagingKey)
				return
			}
		}
		h.reporter.Report(ctx, "ok response with no matching ingest record", map[string]interface{}{
			"staging_key": msg.StagingKey,
			"raw":         string(raw),
		})
		return
	}

	now := time.Now().UTC()
	if !record.ApplyResponse(msg, now) {
		// Duplicate ok delivery: side effects were already applied once.
		slog.InfoContext(ctx, "duplicate ok response ignored",
			"record_id", record.ID, "staging_key", msg.StagingKey)
		return
	}
	if err := h.repository.UpdateIngestRecord(ctx, record); err != nil {
		h.reporter.Report(ctx, "failed to persist ingest record response", map[string]interface{}{
			"record_id": record.ID.String(),
			"error":     err.Error(),
		})
		return
	}

	owner, err := OwnerRefFromPassThrough(msg.PassThrough)
	if err != nil {
		// Fall back to the record's own owner reference.
		owner = record.Owner
	}
	bitstream, err := ResolveOwnerBitstream(ctx, h.repository, owner)
	if err != nil {
		// The owning entity may have been deleted while the ingest was in
		// flight. The record stays ok; there is nothing left to promote.
		h.reporter.Report(ctx, "ingest confirmed for missing bitstream", map[string]interface{}{
			"record_id":   record.ID.String(),
			"owner_id":    owner.ID.String(),
			"staging_key": msg.StagingKey,
		})
		return
	}

	permanentKey := msg.MedusaKey
	if permanentKey == "" {
		permanentKey = record.TargetKey
	}
	bitstream.PermanentKey = &permanentKey
	if msg.UUID != "" {
		u := msg.UUID
		bitstream.MedusaUUID = &u
	}
	bitstream.UpdatedAt = now
	if err := h.repository.UpdateBitstream(ctx, bitstream); err != nil {
		h.reporter.Report(ctx, "failed to promote bitstream permanent key", map[string]interface{}{
			"bitstream_id": bitstream.ID.String(),
			"error":        err.Error(),
		})
		return
	}

	// Staging cleanup is best effort: the remote archive is the source of
	// truth once it confirms receipt, so a failed delete never reverts
	// the ok status.
	if err := h.service.DeleteFromStaging(ctx, bitstream.ID); err != nil {
		h.reporter.Report(ctx, "failed to delete staged copy after ingest", map[string]interface{}{
			"bitstream_id": bitstream.ID.String(),
			"error":        err.Error(),
		})
	}
}

func (h *MessageHandler) handleDeleteSucceeded(ctx context.Context, msg InboundMessage, raw []byte) {
	if msg.UUID == "" {
		h.reporter.Report(ctx, "delete response missing uuid", map[string]interface{}{
			"raw": string(raw),
		})
		return
	}

	now := time.Now().UTC()

	bitstream, err := h.repository.GetBitstreamByMedusaUUID(ctx, msg.UUID)
	if err == nil {
		// Soft removal: no further delete message must be emitted for an
		// entity the archive already discarded.
		if err := h.repository.DeleteBitstream(ctx, bitstream.ID); err != nil {
			h.reporter.Report(ctx, "failed to remove bitstream after confirmed delete", map[string]interface{}{
				"bitstream_id": bitstream.ID.String(),
				"error":        err.Error(),
			})
		}
	}

	record, err := h.matchByMedusaUUID(ctx, msg.UUID)
	if err != nil {
		h.reporter.Report(ctx, "failed to look up ingest record for response", map[string]interface{}{
			"uuid":  msg.UUID,
			"error": err.Error(),
		})
		return
	}
	if record == nil {
		// Keep an ok record anyway so the confirmed delete is queryable.
		record = &IngestRecord{
			ID:         uuid.New(),
			Operation:  OperationDelete,
			Status:     IngestStatusPending,
			MedusaUUID: msg.UUID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		record.ApplyResponse(msg, now)
		if err := h.repository.CreateIngestRecord(ctx, record); err != nil {
			h.reporter.Report(ctx, "failed to persist delete confirmation", map[string]interface{}{
				"uuid":  msg.UUID,
				"error": err.Error(),
			})
		}
		return
	}

	if !record.ApplyResponse(msg, now) {
		slog.InfoContext(ctx, "duplicate delete confirmation ignored",
			"record_id", record.ID, "uuid", msg.UUID)
		return
	}
	if err := h.repository.UpdateIngestRecord(ctx, record); err != nil {
		h.reporter.Report(ctx, "failed to persist delete confirmation", map[string]interface{}{
			"record_id": record.ID.String(),
			"error":     err.Error(),
		})
	}
}

func (h *MessageHandler) handleFailed(ctx context.Context, msg InboundMessage, raw []byte) {
	var record *IngestRecord
	var err error
	if msg.Operation == string(OperationDelete) {
		record, err = h.matchByMedusaUUID(ctx, msg.UUID)
	} else {
		record, err = h.matchByStagingKey(ctx, msg.StagingKey)
	}
	if err != nil {
		h.reporter.Report(ctx, "failed to look up ingest record for response", map[string]interface{}{
			"operation":   msg.Operation,
			"staging_key": msg.StagingKey,
			"uuid":        msg.UUID,
			"error":       err.Error(),
		})
		return
	}
	if record == nil {
		h.reporter.Report(ctx, "error response with no matching ingest record", map[string]interface{}{
			"operation":   msg.Operation,
			"staging_key": msg.StagingKey,
			"uuid":        msg.UUID,
			"error":       msg.Error,
			"raw":         string(raw),
		})
		return
	}

	if !record.ApplyResponse(msg, time.Now().UTC()) {
		// Already ok; a late error response changes nothing.
		return
	}
	if err := h.repository.UpdateIngestRecord(ctx, record); err != nil {
		h.reporter.Report(ctx, "failed to persist ingest record error", map[string]interface{}{
			"record_id": record.ID.String(),
			"error":     err.Error(),
		})
		return
	}

	h.reporter.Report(ctx, "remote archive reported an error", map[string]interface{}{
		"record_id":   record.ID.String(),
		"operation":   msg.Operation,
		"staging_key": msg.StagingKey,
		"uuid":        msg.UUID,
		"error":       msg.Error,
	})
}

// matchByStagingKey selects the pending record for a staging key. Queue
// redelivery can occasionally leave more than one; the most recently
// updated wins and the rest are destroyed, since downstream correlation
// assumes a single survivor. A nil record with a nil error means no
// match exists; a non-nil error means the lookup itself failed.
func (h *MessageHandler) matchByStagingKey(ctx context.Context, stagingKey string) (*IngestRecord, error) {
	if stagingKey == "" {
		return nil, nil
	}
	records, err := h.repository.ListPendingByStagingKey(ctx, stagingKey)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	h.destroyDuplicates(ctx, records[1:])
	return records[0], nil
}

// matchByMedusaUUID selects the pending delete record for a remote uuid,
// with the same keep-newest reconciliation.
func (h *MessageHandler) matchByMedusaUUID(ctx context.Context, medusaUUID string) (*IngestRecord, error) {
	if medusaUUID == "" {
		return nil, nil
	}
	records, err := h.repository.ListPendingByMedusaUUID(ctx, medusaUUID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	h.destroyDuplicates(ctx, records[1:])
	return records[0], nil
}

func (h *MessageHandler) destroyDuplicates(ctx context.Context, records []*IngestRecord) {
	for _, dup := range records {
		if err := h.repository.DeleteIngestRecord(ctx, dup.ID); err != nil {
			slog.WarnContext(ctx, "failed to destroy duplicate ingest record",
				"record_id", dup.ID, "error", err)
		}
	}
}
