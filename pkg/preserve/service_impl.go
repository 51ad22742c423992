package preserve

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// service implements the Service interface
type service struct {
	repository   Repository
	blobStore    BlobStore
	queue        MessageQueue
	reporter     ErrorReporter
	institutions map[string]Institution
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore sets the blob storage backend
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobStore = store
	}
}

// WithQueue sets the message queue transport
func WithQueue(queue MessageQueue) Option {
	return func(s *service) {
		s.queue = queue
	}
}

// WithErrorReporter sets the operator error-notification channel
func WithErrorReporter(reporter ErrorReporter) Option {
	return func(s *service) {
		s.reporter = reporter
	}
}

// WithInstitution registers an institution's queue pair
func WithInstitution(inst Institution) Option {
	return func(s *service) {
		s.institutions[inst.Key] = inst
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		institutions: make(map[string]Institution),
		reporter:     NewLogReporter(),
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.blobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.queue == nil {
		return nil, fmt.Errorf("message queue is required")
	}

	return s, nil
}

// Bitstream lifecycle operations

func (s *service) StageBitstream(ctx context.Context, req StageBitstreamRequest) (*Bitstream, error) {
	if req.Filename == "" {
		return nil, fmt.Errorf("%w: filename", ErrMissingField)
	}
	if req.Reader == nil {
		return nil, fmt.Errorf("%w: reader", ErrMissingField)
	}
	if _, err := s.institutionFor(req.InstitutionKey); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	id := uuid.New()
	stagingKey := fmt.Sprintf("institutions/%s/staging/%s/%s", req.InstitutionKey, id, req.Filename)

	err := s.blobStore.UploadWithParams(ctx, req.Reader, UploadParams{
		ObjectKey: stagingKey,
		MimeType:  req.ContentType,
	})
	if err != nil {
		return nil, &StorageError{Key: stagingKey, Op: "stage", Err: err}
	}

	bitstream := &Bitstream{
		ID:             id,
		ItemID:         req.ItemID,
		InstitutionKey: req.InstitutionKey,
		Filename:       req.Filename,
		Length:         req.Length,
		ContentType:    req.ContentType,
		StagingKey:     &stagingKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repository.CreateBitstream(ctx, bitstream); err != nil {
		// The staged object is unreachable without a row pointing at it.
		if delErr := s.blobStore.Delete(ctx, stagingKey); delErr != nil {
			s.reporter.Report(ctx, "failed to clean up staged object after create failure", map[string]interface{}{
				"staging_key": stagingKey,
				"error":       delErr.Error(),
			})
		}
		return nil, &BitstreamError{BitstreamID: id, Op: "create", Err: err}
	}

	return bitstream, nil
}

func (s *service) GetBitstream(ctx context.Context, id uuid.UUID) (*Bitstream, error) {
	return s.repository.GetBitstream(ctx, id)
}

// Ingest operations

func (s *service) TriggerIngest(ctx context.Context, bitstreamID uuid.UUID) (*IngestRecord, error) {
	bitstream, err := s.repository.GetBitstream(ctx, bitstreamID)
	if err != nil {
		return nil, &BitstreamError{BitstreamID: bitstreamID, Op: "trigger_ingest", Err: err}
	}
	if bitstream.StagingKey == nil || *bitstream.StagingKey == "" {
		return nil, &BitstreamError{BitstreamID: bitstreamID, Op: "trigger_ingest", Err: ErrNoStagingKey}
	}

	inst, err := s.institutionFor(bitstream.InstitutionKey)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &IngestRecord{
		ID:         uuid.New(),
		Operation:  OperationIngest,
		Status:     IngestStatusPending,
		StagingKey: *bitstream.StagingKey,
		TargetKey:  targetKey(bitstream),
		Owner:      OwnerRef{Kind: OwnerKindBitstream, ID: bitstream.ID},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repository.CreateIngestRecord(ctx, record); err != nil {
		return nil, &IngestError{RecordID: record.ID, Op: "create", Err: err}
	}

	// Publish only after the record is durably persisted, so a response
	// can never arrive for a record that does not exist.
	if err := s.send(ctx, record, inst); err != nil {
		s.discardUnsent(ctx, record)
		return nil, err
	}

	return record, nil
}

func (s *service) TriggerDelete(ctx context.Context, bitstreamID uuid.UUID) (*IngestRecord, error) {
	bitstream, err := s.repository.GetBitstream(ctx, bitstreamID)
	if err != nil {
		return nil, &BitstreamError{BitstreamID: bitstreamID, Op: "trigger_delete", Err: err}
	}
	if bitstream.MedusaUUID == nil || *bitstream.MedusaUUID == "" {
		return nil, &BitstreamError{BitstreamID: bitstreamID, Op: "trigger_delete", Err: ErrNoMedusaUUID}
	}

	inst, err := s.institutionFor(bitstream.InstitutionKey)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &IngestRecord{
		ID:         uuid.New(),
		Operation:  OperationDelete,
		Status:     IngestStatusPending,
		MedusaUUID: *bitstream.MedusaUUID,
		Owner:      OwnerRef{Kind: OwnerKindBitstream, ID: bitstream.ID},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repository.CreateIngestRecord(ctx, record); err != nil {
		return nil, &IngestError{RecordID: record.ID, Op: "create", Err: err}
	}

	if err := s.send(ctx, record, inst); err != nil {
		s.discardUnsent(ctx, record)
		return nil, err
	}

	return record, nil
}

func (s *service) ResendIngest(ctx context.Context, recordID uuid.UUID) (*IngestRecord, error) {
	record, err := s.repository.GetIngestRecord(ctx, recordID)
	if err != nil {
		return nil, &IngestError{RecordID: recordID, Op: "resend", Err: err}
	}

	prevErrorText := record.ErrorText
	prevResponseTime := record.ResponseTime
	if err := record.Reopen(time.Now().UTC()); err != nil {
		return nil, &IngestError{RecordID: recordID, Op: "resend", Err: err}
	}
	if err := s.repository.UpdateIngestRecord(ctx, record); err != nil {
		return nil, &IngestError{RecordID: recordID, Op: "resend", Err: err}
	}

	owner, err := ResolveOwnerBitstream(ctx, s.repository, record.Owner)
	if err != nil {
		return nil, &IngestError{RecordID: recordID, Op: "resend", Err: err}
	}
	inst, err := s.institutionFor(owner.InstitutionKey)
	if err != nil {
		return nil, err
	}

	if err := s.send(ctx, record, inst); err != nil {
		// Nothing was published; put the record back in error so the
		// resend stays available.
		record.Status = IngestStatusError
		record.ErrorText = prevErrorText
		record.ResponseTime = prevResponseTime
		record.UpdatedAt = time.Now().UTC()
		if uerr := s.repository.UpdateIngestRecord(ctx, record); uerr != nil {
			s.reporter.Report(ctx, "failed to restore errored ingest record after failed resend", map[string]interface{}{
				"record_id": record.ID.String(),
				"error":     uerr.Error(),
			})
		}
		return nil, err
	}

	return record, nil
}

func (s *service) GetIngestRecord(ctx context.Context, id uuid.UUID) (*IngestRecord, error) {
	return s.repository.GetIngestRecord(ctx, id)
}

func (s *service) ListStaleIngests(ctx context.Context, olderThan time.Duration) ([]*IngestRecord, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	return s.repository.ListStaleIngests(ctx, cutoff)
}

func (s *service) DeleteFromStaging(ctx context.Context, bitstreamID uuid.UUID) error {
	bitstream, err := s.repository.GetBitstream(ctx, bitstreamID)
	if err != nil {
		return &BitstreamError{BitstreamID: bitstreamID, Op: "delete_from_staging", Err: err}
	}
	if bitstream.StagingKey == nil || *bitstream.StagingKey == "" {
		return nil
	}
	if bitstream.PermanentKey == nil || *bitstream.PermanentKey == "" {
		// The staged copy is the only copy; reaping it would lose content.
		return &BitstreamError{BitstreamID: bitstreamID, Op: "delete_from_staging", Err: ErrInvalidState}
	}

	stagingKey := *bitstream.StagingKey
	if err := s.blobStore.Delete(ctx, stagingKey); err != nil {
		return &StorageError{Key: stagingKey, Op: "delete_from_staging", Err: err}
	}

	bitstream.StagingKey = nil
	bitstream.UpdatedAt = time.Now().UTC()
	if err := s.repository.UpdateBitstream(ctx, bitstream); err != nil {
		return &BitstreamError{BitstreamID: bitstreamID, Op: "delete_from_staging", Err: err}
	}

	return nil
}

// Content serving

func (s *service) ServeBitstream(ctx context.Context, req ServeBitstreamRequest) (*ServedContent, error) {
	bitstream, err := s.repository.GetBitstream(ctx, req.BitstreamID)
	if err != nil {
		return nil, &BitstreamError{BitstreamID: req.BitstreamID, Op: "serve", Err: err}
	}

	key, ok := bitstream.EffectiveKey()
	if !ok {
		return nil, &BitstreamError{BitstreamID: req.BitstreamID, Op: "serve", Err: ErrNotServable}
	}

	meta, err := s.blobStore.GetObjectMeta(ctx, key)
	if err != nil {
		return nil, &StorageError{Key: key, Op: "head", Err: err}
	}

	contentType := bitstream.ContentType
	if contentType == "" {
		contentType = meta.ContentType
	}

	served := &ServedContent{
		Filename:    bitstream.Filename,
		ContentType: contentType,
		UpdatedAt:   meta.UpdatedAt,
		TotalSize:   meta.Size,
	}

	if req.RangeHeader == "" {
		reader, err := s.blobStore.Download(ctx, key)
		if err != nil {
			return nil, &StorageError{Key: key, Op: "download", Err: err}
		}
		served.Reader = reader
		served.Length = meta.Size
		served.End = meta.Size - 1
		return served, nil
	}

	rng, err := parseByteRange(req.RangeHeader, meta.Size)
	if err != nil {
		return nil, err
	}
	reader, err := s.blobStore.DownloadRange(ctx, key, rng.Start, rng.End)
	if err != nil {
		return nil, &StorageError{Key: key, Op: "download_range", Err: err}
	}
	served.Reader = reader
	served.Partial = true
	served.Start = rng.Start
	served.End = rng.End
	served.Length = rng.Length()
	return served, nil
}

// Helper methods

func (s *service) institutionFor(key string) (Institution, error) {
	inst, ok := s.institutions[key]
	if !ok {
		return Institution{}, fmt.Errorf("%w: %s", ErrInstitutionNotFound, key)
	}
	return inst, nil
}

// discardUnsent removes a record whose message never left the process. A
// leftover pending record would block every retry for its staging key
// while being matchable by no response.
func (s *service) discardUnsent(ctx context.Context, record *IngestRecord) {
	if err := s.repository.DeleteIngestRecord(ctx, record.ID); err != nil {
		s.reporter.Report(ctx, "failed to remove unsent ingest record", map[string]interface{}{
			"record_id": record.ID.String(),
			"error":     err.Error(),
		})
	}
}

// send publishes the record's message on the institution's outgoing queue
// and stamps sent_at. Callers must have persisted the record first. An
// error means the message never left the process; once published, a
// failed sent_at stamp is reported rather than returned, so the stale
// sweep picks the record up by creation time.
func (s *service) send(ctx context.Context, record *IngestRecord, inst Institution) error {
	msg, err := record.OutboundMessage()
	if err != nil {
		return &IngestError{RecordID: record.ID, Op: "send", Err: err}
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return &IngestError{RecordID: record.ID, Op: "send", Err: err}
	}

	if err := s.queue.Publish(ctx, inst.OutgoingQueue, body); err != nil {
		return &IngestError{RecordID: record.ID, Op: "send", Err: err}
	}

	now := time.Now().UTC()
	record.SentAt = &now
	record.UpdatedAt = now
	if err := s.repository.UpdateIngestRecord(ctx, record); err != nil {
		s.reporter.Report(ctx, "failed to stamp sent time on ingest record", map[string]interface{}{
			"record_id": record.ID.String(),
			"error":     err.Error(),
		})
	}

	return nil
}

// targetKey computes the destination key in the remote archive from the
// bitstream's institution/item/bitstream identity.
func targetKey(b *Bitstream) string {
	return fmt.Sprintf("%s/item/%s/bitstream/%s/%s", b.InstitutionKey, b.ItemID, b.ID, b.Filename)
}
