package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-preserve/pkg/preserve"
)

// Repository implements preserve.Repository using in-memory storage
type Repository struct {
	mu             sync.RWMutex
	records        map[uuid.UUID]*preserve.IngestRecord
	bitstreams     map[uuid.UUID]*preserve.Bitstream
	auditEntries   []*preserve.AuditEntry
	downloadCounts map[countKey]int64
}

type countKey struct {
	kind  preserve.ScopeKind
	id    uuid.UUID
	year  int
	month int
}

// New creates a new in-memory repository
func New() preserve.Repository {
	return &Repository{
		records:        make(map[uuid.UUID]*preserve.IngestRecord),
		bitstreams:     make(map[uuid.UUID]*preserve.Bitstream),
		downloadCounts: make(map[countKey]int64),
	}
}

// Ingest record operations

func (r *Repository) CreateIngestRecord(ctx context.Context, record *preserve.IngestRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// One non-terminal record per staging key. The check runs under the
	// write lock so concurrent creates cannot both pass.
	if record.StagingKey != "" && !record.Status.Terminal() {
		for _, existing := range r.records {
			if existing.StagingKey == record.StagingKey && !existing.Status.Terminal() {
				return preserve.ErrIngestPending
			}
		}
	}

	recordCopy := *record
	r.records[record.ID] = &recordCopy

	return nil
}

func (r *Repository) GetIngestRecord(ctx context.Context, id uuid.UUID) (*preserve.IngestRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.records[id]
	if !exists {
		return nil, preserve.ErrIngestNotFound
	}
	recordCopy := *record
	return &recordCopy, nil
}

func (r *Repository) UpdateIngestRecord(ctx context.Context, record *preserve.IngestRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.ID]; !exists {
		return preserve.ErrIngestNotFound
	}

	recordCopy := *record
	r.records[record.ID] = &recordCopy

	return nil
}

func (r *Repository) DeleteIngestRecord(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[id]; !exists {
		return preserve.ErrIngestNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *Repository) ListPendingByStagingKey(ctx context.Context, stagingKey string) ([]*preserve.IngestRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*preserve.IngestRecord
	for _, record := range r.records {
		if record.StagingKey == stagingKey && !record.Status.Terminal() {
			recordCopy := *record
			result = append(result, &recordCopy)
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func (r *Repository) ListPendingByMedusaUUID(ctx context.Context, medusaUUID string) ([]*preserve.IngestRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*preserve.IngestRecord
	for _, record := range r.records {
		if record.Operation == preserve.OperationDelete && record.MedusaUUID == medusaUUID && !record.Status.Terminal() {
			recordCopy := *record
			result = append(result, &recordCopy)
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func (r *Repository) ListStaleIngests(ctx context.Context, sentBefore time.Time) ([]*preserve.IngestRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Records that never got published (SentAt nil) count as stale from
	// their creation time; they need operator attention at least as much
	// as records the archive is sitting on.
	var result []*preserve.IngestRecord
	for _, record := range r.records {
		if record.Status.Terminal() {
			continue
		}
		if staleSince(record).Before(sentBefore) {
			recordCopy := *record
			result = append(result, &recordCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return staleSince(result[i]).Before(staleSince(result[j]))
	})
	return result, nil
}

func staleSince(record *preserve.IngestRecord) time.Time {
	if record.SentAt != nil {
		return *record.SentAt
	}
	return record.CreatedAt
}

func sortNewestFirst(records []*preserve.IngestRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
}

// Bitstream operations

func (r *Repository) CreateBitstream(ctx context.Context, bitstream *preserve.Bitstream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bitstreamCopy := *bitstream
	r.bitstreams[bitstream.ID] = &bitstreamCopy

	return nil
}

func (r *Repository) GetBitstream(ctx context.Context, id uuid.UUID) (*preserve.Bitstream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bitstream, exists := r.bitstreams[id]
	if !exists {
		return nil, preserve.ErrBitstreamNotFound
	}
	if bitstream.DeletedAt != nil {
		return nil, preserve.ErrBitstreamNotFound
	}
	bitstreamCopy := *bitstream
	return &bitstreamCopy, nil
}

func (r *Repository) GetBitstreamByMedusaUUID(ctx context.Context, medusaUUID string) (*preserve.Bitstream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, bitstream := range r.bitstreams {
		if bitstream.DeletedAt != nil {
			continue
		}
		if bitstream.MedusaUUID != nil && *bitstream.MedusaUUID == medusaUUID {
			bitstreamCopy := *bitstream
			return &bitstreamCopy, nil
		}
	}
	return nil, preserve.ErrBitstreamNotFound
}

func (r *Repository) UpdateBitstream(ctx context.Context, bitstream *preserve.Bitstream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bitstreams[bitstream.ID]; !exists {
		return preserve.ErrBitstreamNotFound
	}

	bitstreamCopy := *bitstream
	r.bitstreams[bitstream.ID] = &bitstreamCopy

	return nil
}

func (r *Repository) DeleteBitstream(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bitstream, exists := r.bitstreams[id]
	if !exists {
		return preserve.ErrBitstreamNotFound
	}

	now := time.Now()
	bitstream.DeletedAt = &now
	bitstream.UpdatedAt = now
	return nil
}

// Audit trail operations

func (r *Repository) AppendAudit(ctx context.Context, entry *preserve.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entryCopy := *entry
	r.auditEntries = append(r.auditEntries, &entryCopy)

	return nil
}

func (r *Repository) ListAuditEntries(ctx context.Context, limit int) ([]*preserve.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.auditEntries)
	if limit > 0 && limit < n {
		n = limit
	}

	// Newest first.
	result := make([]*preserve.AuditEntry, 0, n)
	for i := len(r.auditEntries) - 1; i >= 0 && len(result) < n; i-- {
		entryCopy := *r.auditEntries[i]
		result = append(result, &entryCopy)
	}
	return result, nil
}

// Download count operations

func (r *Repository) IncrementDownloadCount(ctx context.Context, scope preserve.Scope, year, month int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.downloadCounts[countKey{kind: scope.Kind, id: scope.ID, year: year, month: month}]++
	return nil
}

func (r *Repository) ListDownloadCounts(ctx context.Context, scope preserve.Scope, from, to time.Time) ([]*preserve.DownloadCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	first := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)

	var result []*preserve.DownloadCount
	for key, count := range r.downloadCounts {
		if key.kind != scope.Kind || key.id != scope.ID {
			continue
		}
		at := time.Date(key.year, time.Month(key.month), 1, 0, 0, 0, 0, time.UTC)
		if at.Before(first) || at.After(last) {
			continue
		}
		result = append(result, &preserve.DownloadCount{
			Scope: scope,
			Year:  key.year,
			Month: key.month,
			Count: count,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Year != result[j].Year {
			return result[i].Year < result[j].Year
		}
		return result[i].Month < result[j].Month
	})
	return result, nil
}

func (r *Repository) DeleteDownloadCounts(ctx context.Context, scope preserve.Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.downloadCounts {
		if key.kind == scope.Kind && key.id == scope.ID {
			delete(r.downloadCounts, key)
		}
	}
	return nil
}
