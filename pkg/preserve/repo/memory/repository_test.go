package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-preserve/pkg/preserve"
	"github.com/tendant/simple-preserve/pkg/preserve/repo/memory"
)

func newIngestRecord(stagingKey string, status preserve.IngestStatus) *preserve.IngestRecord {
	now := time.Now().UTC()
	return &preserve.IngestRecord{
		ID:         uuid.New(),
		Operation:  preserve.OperationIngest,
		Status:     status,
		StagingKey: stagingKey,
		TargetKey:  "uiuc/item/x/file.pdf",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestIngestRecordCRUD(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	record := newIngestRecord("institutions/uiuc/staging/a/file.pdf", preserve.IngestStatusPending)
	require.NoError(t, repo.CreateIngestRecord(ctx, record))

	got, err := repo.GetIngestRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StagingKey, got.StagingKey)

	got.Status = preserve.IngestStatusError
	got.ErrorText = "boom"
	require.NoError(t, repo.UpdateIngestRecord(ctx, got))

	updated, err := repo.GetIngestRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, preserve.IngestStatusError, updated.Status)
	assert.Equal(t, "boom", updated.ErrorText)

	require.NoError(t, repo.DeleteIngestRecord(ctx, record.ID))
	_, err = repo.GetIngestRecord(ctx, record.ID)
	assert.ErrorIs(t, err, preserve.ErrIngestNotFound)
}

func TestCreateIngestRecordEnforcesOnePending(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	key := "institutions/uiuc/staging/a/file.pdf"

	require.NoError(t, repo.CreateIngestRecord(ctx, newIngestRecord(key, preserve.IngestStatusPending)))

	err := repo.CreateIngestRecord(ctx, newIngestRecord(key, preserve.IngestStatusPending))
	assert.ErrorIs(t, err, preserve.ErrIngestPending)

	// A different key is unaffected.
	assert.NoError(t, repo.CreateIngestRecord(ctx,
		newIngestRecord("institutions/uiuc/staging/b/other.pdf", preserve.IngestStatusPending)))
}

func TestCreateIngestRecordAllowsAfterTerminal(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	key := "institutions/uiuc/staging/a/file.pdf"

	first := newIngestRecord(key, preserve.IngestStatusPending)
	require.NoError(t, repo.CreateIngestRecord(ctx, first))

	first.Status = preserve.IngestStatusError
	require.NoError(t, repo.UpdateIngestRecord(ctx, first))

	// Terminal records don't block a fresh attempt.
	assert.NoError(t, repo.CreateIngestRecord(ctx, newIngestRecord(key, preserve.IngestStatusPending)))
}

func TestCreateIngestRecordSkipsEmptyStagingKey(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	// Delete records carry no staging key; two may coexist.
	a := newIngestRecord("", preserve.IngestStatusPending)
	a.Operation = preserve.OperationDelete
	a.MedusaUUID = "uuid-a"
	b := newIngestRecord("", preserve.IngestStatusPending)
	b.Operation = preserve.OperationDelete
	b.MedusaUUID = "uuid-b"

	require.NoError(t, repo.CreateIngestRecord(ctx, a))
	assert.NoError(t, repo.CreateIngestRecord(ctx, b))
}

func TestListPendingByStagingKeyNewestFirst(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	key := "institutions/uiuc/staging/a/file.pdf"

	older := newIngestRecord(key, preserve.IngestStatusPending)
	older.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, repo.CreateIngestRecord(ctx, older))

	// Move the first record out of the way, insert a newer one, reopen.
	older.Status = preserve.IngestStatusError
	require.NoError(t, repo.UpdateIngestRecord(ctx, older))

	newer := newIngestRecord(key, preserve.IngestStatusPending)
	require.NoError(t, repo.CreateIngestRecord(ctx, newer))

	older.Status = preserve.IngestStatusResent
	require.NoError(t, repo.UpdateIngestRecord(ctx, older))

	records, err := repo.ListPendingByStagingKey(ctx, key)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, newer.ID, records[0].ID)
	assert.Equal(t, older.ID, records[1].ID)
}

func TestListPendingExcludesTerminal(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	key := "institutions/uiuc/staging/a/file.pdf"

	record := newIngestRecord(key, preserve.IngestStatusPending)
	require.NoError(t, repo.CreateIngestRecord(ctx, record))
	record.Status = preserve.IngestStatusOK
	require.NoError(t, repo.UpdateIngestRecord(ctx, record))

	records, err := repo.ListPendingByStagingKey(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestListStaleIngestsIncludesNeverSent(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	unsent := newIngestRecord("institutions/uiuc/staging/a/file.pdf", preserve.IngestStatusPending)
	unsent.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, repo.CreateIngestRecord(ctx, unsent))

	sentAt := time.Now().UTC().Add(-24 * time.Hour)
	sent := newIngestRecord("institutions/uiuc/staging/b/file.pdf", preserve.IngestStatusPending)
	sent.SentAt = &sentAt
	require.NoError(t, repo.CreateIngestRecord(ctx, sent))

	fresh := newIngestRecord("institutions/uiuc/staging/c/file.pdf", preserve.IngestStatusPending)
	require.NoError(t, repo.CreateIngestRecord(ctx, fresh))

	stale, err := repo.ListStaleIngests(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 2)
	// A record that never got published is stale from its creation time,
	// so it sorts ahead of the later-sent record.
	assert.Equal(t, unsent.ID, stale[0].ID)
	assert.Equal(t, sent.ID, stale[1].ID)
}

func TestBitstreamSoftDelete(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	medusaUUID := "medusa-uuid-9"
	bitstream := &preserve.Bitstream{
		ID:             uuid.New(),
		ItemID:         uuid.New(),
		InstitutionKey: "uiuc",
		Filename:       "file.pdf",
		MedusaUUID:     &medusaUUID,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	require.NoError(t, repo.CreateBitstream(ctx, bitstream))

	found, err := repo.GetBitstreamByMedusaUUID(ctx, medusaUUID)
	require.NoError(t, err)
	assert.Equal(t, bitstream.ID, found.ID)

	require.NoError(t, repo.DeleteBitstream(ctx, bitstream.ID))

	_, err = repo.GetBitstream(ctx, bitstream.ID)
	assert.ErrorIs(t, err, preserve.ErrBitstreamNotFound)
	_, err = repo.GetBitstreamByMedusaUUID(ctx, medusaUUID)
	assert.ErrorIs(t, err, preserve.ErrBitstreamNotFound)
}

func TestCopyOnReturn(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	record := newIngestRecord("institutions/uiuc/staging/a/file.pdf", preserve.IngestStatusPending)
	require.NoError(t, repo.CreateIngestRecord(ctx, record))

	got, err := repo.GetIngestRecord(ctx, record.ID)
	require.NoError(t, err)
	got.Status = preserve.IngestStatusOK

	// Mutating the returned copy must not leak into the store.
	stored, err := repo.GetIngestRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, preserve.IngestStatusPending, stored.Status)
}

func TestAuditEntriesNewestFirstWithLimit(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.AppendAudit(ctx, &preserve.AuditEntry{
			ID:         uuid.New(),
			RawBody:    string(rune('a' + i)),
			ReceivedAt: time.Now().UTC(),
		}))
	}

	entries, err := repo.ListAuditEntries(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "e", entries[0].RawBody)
	assert.Equal(t, "d", entries[1].RawBody)
	assert.Equal(t, "c", entries[2].RawBody)
}

func TestDownloadCounts(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	scope := preserve.Scope{Kind: preserve.ScopeItem, ID: uuid.New()}

	require.NoError(t, repo.IncrementDownloadCount(ctx, scope, 2026, 1))
	require.NoError(t, repo.IncrementDownloadCount(ctx, scope, 2026, 1))
	require.NoError(t, repo.IncrementDownloadCount(ctx, scope, 2026, 3))

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	counts, err := repo.ListDownloadCounts(ctx, scope, from, to)
	require.NoError(t, err)

	// Only recorded months come back; zero-filling is the ledger's job.
	require.Len(t, counts, 2)
	assert.Equal(t, 1, counts[0].Month)
	assert.Equal(t, int64(2), counts[0].Count)
	assert.Equal(t, 3, counts[1].Month)
	assert.Equal(t, int64(1), counts[1].Count)

	require.NoError(t, repo.DeleteDownloadCounts(ctx, scope))
	counts, err = repo.ListDownloadCounts(ctx, scope, from, to)
	require.NoError(t, err)
	assert.Empty(t, counts)
}
