package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/gojobs/internal/errors"
	"github.com/3leaps/gojobs/pkg/job"
	"github.com/3leaps/gojobs/pkg/jobstore/memstore"
)

type (
	testRun    = job.Run[int, string, map[string]int, job.State]
	testEngine = job.Engine[int, string, map[string]int, job.State]
)

func newTestAPI(t *testing.T, maxWait time.Duration) (*testEngine, http.Handler) {
	t.Helper()
	store := memstore.NewStore[int, string, map[string]int, job.State]()
	engine := job.NewEngine[int, string, map[string]int, job.State](store, job.States{}, job.WithPollInterval(time.Millisecond))

	h := NewJobsHandler(NewJobReader[int, string, map[string]int, job.State](store, job.States{}, time.Millisecond), maxWait)
	r := chi.NewRouter()
	r.Get("/jobs/{id}", h.Get)
	r.Get("/jobs/{id}/wait", h.Wait)
	return engine, r
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.ErrorBody {
	t.Helper()
	var resp apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error
}

func TestJobsHandler_GetAndWait(t *testing.T) {
	engine, api := newTestAPI(t, 0)
	release := make(chan struct{})

	id, err := engine.Submit(context.Background(), func(context.Context, *testRun) job.Result[int, string] {
		<-release
		return job.Success[int, string](42)
	}, map[string]int{"value": 5})
	require.NoError(t, err)

	rec := get(api, "/jobs/"+id.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&doc))
	assert.Equal(t, id.String(), doc["id"])
	assert.Equal(t, "started", doc["status"])
	assert.Nil(t, doc["result"])
	assert.Equal(t, map[string]any{"value": float64(5)}, doc["metadata"])

	close(release)
	rec = get(api, "/jobs/"+id.String()+"/wait?timeout=5s")
	require.Equal(t, http.StatusOK, rec.Code)
	doc = nil
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&doc))
	assert.Equal(t, "finished", doc["status"])
	assert.Equal(t, map[string]any{"ok": float64(42)}, doc["result"])
}

func TestJobsHandler_WaitTimeout(t *testing.T) {
	engine, api := newTestAPI(t, 20*time.Millisecond)
	release := make(chan struct{})
	defer close(release)

	id, err := engine.Submit(context.Background(), func(context.Context, *testRun) job.Result[int, string] {
		<-release
		return job.Success[int, string](1)
	}, nil)
	require.NoError(t, err)

	// The requested timeout is capped by maxWait.
	start := time.Now()
	rec := get(api, "/jobs/"+id.String()+"/wait?timeout=1h")
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, apperrors.CodeTimeout, decodeError(t, rec).Code)
}

func TestJobsHandler_Errors(t *testing.T) {
	_, api := newTestAPI(t, 0)

	tests := []struct {
		name     string
		path     string
		status   int
		wantCode string
	}{
		{"unknown id", "/jobs/" + uuid.NewString(), http.StatusNotFound, apperrors.CodeNotFound},
		{"unknown id wait", "/jobs/" + uuid.NewString() + "/wait", http.StatusNotFound, apperrors.CodeNotFound},
		{"malformed id", "/jobs/not-a-uuid", http.StatusBadRequest, apperrors.CodeBadRequest},
		{"bad timeout", "/jobs/" + uuid.NewString() + "/wait?timeout=soon", http.StatusBadRequest, apperrors.CodeBadRequest},
		{"negative timeout", "/jobs/" + uuid.NewString() + "/wait?timeout=-1s", http.StatusBadRequest, apperrors.CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(api, tt.path)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}
}

type failingReader struct{ err error }

func (f failingReader) Load(context.Context, uuid.UUID) (any, error) { return nil, f.err }
func (f failingReader) Wait(context.Context, uuid.UUID) (any, error) { return nil, f.err }

func TestStoreChecker(t *testing.T) {
	store := memstore.NewStore[int, string, struct{}, job.State]()
	ok := StoreChecker{Reader: NewJobReader[int, string, struct{}, job.State](store, job.States{}, time.Millisecond)}
	assert.NoError(t, ok.CheckHealth(context.Background()))

	broken := StoreChecker{Reader: failingReader{err: job.IOError("load", "", assert.AnError)}}
	assert.Error(t, broken.CheckHealth(context.Background()))
}
