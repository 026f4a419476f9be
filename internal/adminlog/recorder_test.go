package adminlog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"admissions-workers/internal/common/errors"
	"admissions-workers/internal/common/logger"
	"admissions-workers/internal/models"
	"admissions-workers/internal/store"
	"admissions-workers/internal/store/storetest"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const table = "admin_logs"

type esRequest struct {
	Method string
	Path   string
	Body   string
}

// fakeES answers index and search calls the way an Elasticsearch node would.
type fakeES struct {
	mu       stdsync.Mutex
	requests []esRequest
	status   int
	hits     []models.AdminLog
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, esRequest{Method: r.Method, Path: r.URL.Path, Body: string(body)})
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
		return
	}

	if strings.HasSuffix(r.URL.Path, "/_search") {
		hits := make([]map[string]interface{}, 0, len(f.hits))
		for _, h := range f.hits {
			hits = append(hits, map[string]interface{}{"_source": h})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"hits": map[string]interface{}{"hits": hits}})
		return
	}
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(`{"result":"created"}`))
}

func newESIndexer(t *testing.T, fake *fakeES) *ESIndexer {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewESIndexer(client, "")
}

func fixedRecorder(t *testing.T, s store.Store, indexer Indexer) *Recorder {
	r := NewRecorder(s, table, indexer, logger.NewTestLogger(t))
	n := 0
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { n++; return base.Add(time.Duration(n) * time.Minute) }
	return r
}

func TestRecord_FillsIDAndTimestamp(t *testing.T) {
	mem := store.NewMemory()
	r := fixedRecorder(t, mem, nil)

	require.NoError(t, r.Record(context.Background(), models.AdminLog{
		Type: models.LogTypeApproval, Title: "Application approved", Message: "APP001 approved", Username: "Admin",
	}))

	entries, err := r.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC), entries[0].CreatedAt)
	assert.Equal(t, "APP001 approved", entries[0].Message)
}

func TestList_NewestFirstWithLimit(t *testing.T) {
	r := fixedRecorder(t, store.NewMemory(), nil)
	for _, title := range []string{"first", "second", "third"} {
		require.NoError(t, r.Record(context.Background(), models.AdminLog{Type: models.LogTypeSync, Title: title}))
	}

	entries, err := r.List(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "third", entries[0].Title)
	assert.Equal(t, "second", entries[1].Title)
}

func TestRecord_StoreFailureIsReturned(t *testing.T) {
	faulty := storetest.Wrap(store.NewMemory())
	faulty.FailOn("insert", table, errors.NewTransportError("store", io.ErrUnexpectedEOF))
	fake := &fakeES{}
	r := fixedRecorder(t, faulty, newESIndexer(t, fake))

	err := r.Record(context.Background(), models.AdminLog{Type: models.LogTypeError, Title: "x"})

	assert.ErrorIs(t, err, errors.ErrTransport)
	assert.Empty(t, fake.requests, "nothing mirrored when the row was not stored")
}

func TestRecord_MirrorsIntoElasticsearch(t *testing.T) {
	fake := &fakeES{}
	r := fixedRecorder(t, store.NewMemory(), newESIndexer(t, fake))

	require.NoError(t, r.Record(context.Background(), models.AdminLog{ID: "log-1", Type: models.LogTypeDelete, Title: "Application deleted"}))

	require.Len(t, fake.requests, 1)
	assert.Equal(t, http.MethodPut, fake.requests[0].Method)
	assert.Equal(t, "/"+DefaultIndex+"/_doc/log-1", fake.requests[0].Path)
	assert.Contains(t, fake.requests[0].Body, `"title":"Application deleted"`)
}

func TestRecord_MirrorFailureIsNotFatal(t *testing.T) {
	mem := store.NewMemory()
	r := fixedRecorder(t, mem, newESIndexer(t, &fakeES{status: http.StatusServiceUnavailable}))

	require.NoError(t, r.Record(context.Background(), models.AdminLog{Type: models.LogTypeSync, Title: "Sync"}))

	rows, err := mem.Select(context.Background(), table, store.Query{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSearch_UsesIndexer(t *testing.T) {
	fake := &fakeES{hits: []models.AdminLog{{ID: "a", Title: "Application rejected", Message: "APP002"}}}
	r := fixedRecorder(t, store.NewMemory(), newESIndexer(t, fake))

	found, err := r.Search(context.Background(), "rejected", 10)

	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "APP002", found[0].Message)
	last := fake.requests[len(fake.requests)-1]
	assert.Equal(t, "/"+DefaultIndex+"/_search", last.Path)
	assert.Contains(t, last.Body, `"multi_match"`)
	assert.Contains(t, last.Body, `"size":10`)
}

func TestSearch_FallsBackToStoreScan(t *testing.T) {
	r := fixedRecorder(t, store.NewMemory(), nil)
	ctx := context.Background()
	require.NoError(t, r.Record(ctx, models.AdminLog{Type: models.LogTypeApproval, Title: "Application approved", Message: "APP001"}))
	require.NoError(t, r.Record(ctx, models.AdminLog{Type: models.LogTypeReject, Title: "Application rejected", Message: "APP002"}))

	found, err := r.Search(ctx, "REJECTED", 0)

	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "APP002", found[0].Message)
}

func TestESIndexer_SearchError(t *testing.T) {
	x := newESIndexer(t, &fakeES{status: http.StatusInternalServerError})

	_, err := x.Search(context.Background(), "", 5)

	assert.ErrorIs(t, err, errors.ErrTransport)
}
