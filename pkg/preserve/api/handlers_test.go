package api_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-preserve/pkg/preserve"
	"github.com/tendant/simple-preserve/pkg/preserve/api"
	queuememory "github.com/tendant/simple-preserve/pkg/preserve/queue/memory"
	repomemory "github.com/tendant/simple-preserve/pkg/preserve/repo/memory"
	storagememory "github.com/tendant/simple-preserve/pkg/preserve/storage/memory"
)

type apiEnv struct {
	server      *httptest.Server
	institution preserve.Institution
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	repo := repomemory.New()
	store := storagememory.New()
	queue := queuememory.New()
	institution := preserve.Institution{
		ID:            uuid.New(),
		Key:           "uiuc",
		OutgoingQueue: "uiuc_to_medusa",
		IncomingQueue: "medusa_to_uiuc",
	}

	svc, err := preserve.New(
		preserve.WithRepository(repo),
		preserve.WithBlobStore(store),
		preserve.WithQueue(queue),
		preserve.WithErrorReporter(preserve.NewNoopReporter()),
		preserve.WithInstitution(institution),
	)
	require.NoError(t, err)

	ledger := preserve.NewLedger(repo)
	institutions := []preserve.Institution{institution}

	r := chi.NewRouter()
	r.Mount("/bitstreams", api.NewBitstreamsHandler(svc, ledger, institutions).Routes())
	r.Mount("/ingests", api.NewIngestsHandler(svc).Routes())
	r.Mount("/stats", api.NewStatsHandler(ledger).Routes())

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &apiEnv{server: server, institution: institution}
}

func (e *apiEnv) stage(t *testing.T, content string) api.StageBitstreamResponse {
	t.Helper()

	itemID := uuid.New()
	url := fmt.Sprintf("%s/bitstreams?item_id=%s&filename=thesis.pdf&institution=uiuc",
		e.server.URL, itemID)
	resp, err := http.Post(url, "application/pdf", strings.NewReader(content))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var staged api.StageBitstreamResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&staged))
	return staged
}

func TestStageBitstreamEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	staged := env.stage(t, "hello world")
	assert.NotEmpty(t, staged.BitstreamID)
	assert.Contains(t, staged.StagingKey, "institutions/uiuc/staging/")
}

func TestStageBitstreamEndpointValidation(t *testing.T) {
	env := newAPIEnv(t)

	tests := []struct {
		name  string
		query string
	}{
		{name: "missing item id", query: "filename=f.pdf&institution=uiuc"},
		{name: "bad item id", query: "item_id=not-a-uuid&filename=f.pdf&institution=uiuc"},
		{name: "missing filename", query: "item_id=" + uuid.New().String() + "&institution=uiuc"},
		{name: "missing institution", query: "item_id=" + uuid.New().String() + "&filename=f.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(env.server.URL+"/bitstreams?"+tt.query, "text/plain", strings.NewReader("x"))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestServeContentEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	staged := env.stage(t, "0123456789")

	t.Run("full content", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("%s/bitstreams/%s/content", env.server.URL, staged.BitstreamID))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
		assert.Equal(t, "10", resp.Header.Get("Content-Length"))
		assert.Equal(t, "public, must-revalidate, max-age=0", resp.Header.Get("Cache-Control"))
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "thesis.pdf")
	})

	t.Run("byte range", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet,
			fmt.Sprintf("%s/bitstreams/%s/content", env.server.URL, staged.BitstreamID), nil)
		req.Header.Set("Range", "bytes=2-5")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
		assert.Equal(t, "bytes 2-5/10", resp.Header.Get("Content-Range"))
		assert.Equal(t, "4", resp.Header.Get("Content-Length"))
	})

	t.Run("unsatisfiable range", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet,
			fmt.Sprintf("%s/bitstreams/%s/content", env.server.URL, staged.BitstreamID), nil)
		req.Header.Set("Range", "bytes=100-200")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
	})

	t.Run("unknown bitstream", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("%s/bitstreams/%s/content", env.server.URL, uuid.New()))
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestTriggerIngestEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	staged := env.stage(t, "content")

	url := fmt.Sprintf("%s/bitstreams/%s/ingest", env.server.URL, staged.BitstreamID)

	resp, err := http.Post(url, "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var record preserve.IngestRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&record))
	assert.Equal(t, preserve.IngestStatusPending, record.Status)

	// A second trigger while the first is pending conflicts.
	resp2, err := http.Post(url, "", nil)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)
}

func TestResendEndpointRequiresErrorState(t *testing.T) {
	env := newAPIEnv(t)
	staged := env.stage(t, "content")

	resp, err := http.Post(fmt.Sprintf("%s/bitstreams/%s/ingest", env.server.URL, staged.BitstreamID), "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	var record preserve.IngestRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&record))

	resendResp, err := http.Post(fmt.Sprintf("%s/ingests/%s/resend", env.server.URL, record.ID), "", nil)
	require.NoError(t, err)
	resendResp.Body.Close()
	assert.Equal(t, http.StatusConflict, resendResp.StatusCode)
}

func TestStaleIngestsEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	resp, err := http.Get(env.server.URL + "/ingests?older_than=0s")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(env.server.URL + "/ingests?older_than=24h")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stale api.StaleIngestsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stale))
	assert.Equal(t, "24h0m0s", stale.OlderThan)
	assert.Empty(t, stale.Records)
}

func TestDownloadStatsEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	staged := env.stage(t, "counted content")

	// Two downloads.
	for i := 0; i < 2; i++ {
		resp, err := http.Get(fmt.Sprintf("%s/bitstreams/%s/content", env.server.URL, staged.BitstreamID))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	now := time.Now().UTC()
	url := fmt.Sprintf("%s/stats/downloads?scope_kind=institution&scope_id=%s&from=%s&to=%s",
		env.server.URL, env.institution.ID, now.Format("2006-01"), now.Format("2006-01"))

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats api.DownloadsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	require.Len(t, stats.Months, 1)
	assert.Equal(t, int64(2), stats.Months[0].Count)
}

func TestDownloadStatsEndpointValidation(t *testing.T) {
	env := newAPIEnv(t)

	tests := []struct {
		name  string
		query string
	}{
		{name: "bad scope kind", query: "scope_kind=galaxy&scope_id=" + uuid.New().String() + "&from=2026-01&to=2026-02"},
		{name: "bad scope id", query: "scope_kind=item&scope_id=nope&from=2026-01&to=2026-02"},
		{name: "bad month", query: "scope_kind=item&scope_id=" + uuid.New().String() + "&from=January&to=2026-02"},
		{name: "inverted range", query: "scope_kind=item&scope_id=" + uuid.New().String() + "&from=2026-03&to=2026-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(env.server.URL + "/stats/downloads?" + tt.query)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}
