package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apperrors "github.com/3leaps/gojobs/internal/errors"
	"github.com/3leaps/gojobs/pkg/job"
)

// DefaultWaitTimeout applies when GET /jobs/{id}/wait has no timeout.
const DefaultWaitTimeout = 30 * time.Second

// JobReader loads job records for the API. Records are returned as values
// that encode to the job's JSON document.
type JobReader interface {
	Load(ctx context.Context, id uuid.UUID) (any, error)
	Wait(ctx context.Context, id uuid.UUID) (any, error)
}

type storeReader[O, E, M, S any] struct {
	store job.Store[O, E, M, S]
	model job.StatusModel[S]
	poll  time.Duration
}

// NewJobReader serves records from store. Wait polls every poll interval.
func NewJobReader[O, E, M, S any](store job.Store[O, E, M, S], model job.StatusModel[S], poll time.Duration) JobReader {
	return &storeReader[O, E, M, S]{store: store, model: model, poll: poll}
}

func (s *storeReader[O, E, M, S]) Load(ctx context.Context, id uuid.UUID) (any, error) {
	return s.store.Load(ctx, id)
}

func (s *storeReader[O, E, M, S]) Wait(ctx context.Context, id uuid.UUID) (any, error) {
	return job.Wait(ctx, s.store, s.model, id, job.WaitPollInterval(s.poll))
}

// JobsHandler serves GET /jobs/{id}, GET /jobs/{id}/wait and, with a
// submitter, POST /jobs.
type JobsHandler struct {
	reader    JobReader
	submitter JobSubmitter
	maxWait   time.Duration
}

// NewJobsHandler creates a handler. maxWait caps the wait timeout; zero
// means no cap.
func NewJobsHandler(reader JobReader, maxWait time.Duration) *JobsHandler {
	return &JobsHandler{reader: reader, maxWait: maxWait}
}

// WithSubmitter enables Create.
func (h *JobsHandler) WithSubmitter(s JobSubmitter) *JobsHandler {
	h.submitter = s
	return h
}

// Get returns the latest record for the job.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDParam(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	rec, err := h.reader.Load(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, rec)
}

// Wait blocks until the job is terminal or the timeout passes. A timeout
// answers 504 TIMEOUT.
func (h *JobsHandler) Wait(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDParam(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	timeout := DefaultWaitTimeout
	if raw := strings.TrimSpace(r.URL.Query().Get("timeout")); raw != "" {
		timeout, err = time.ParseDuration(raw)
		if err != nil || timeout <= 0 {
			respondWithError(w, r, apperrors.BadRequest("invalid timeout", fmt.Errorf("expected a positive duration such as 30s, got %q", raw)))
			return
		}
	}
	if h.maxWait > 0 && timeout > h.maxWait {
		timeout = h.maxWait
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	rec, err := h.reader.Wait(ctx, id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, rec)
}

func jobIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.BadRequest("invalid job id", err)
	}
	return id, nil
}

// StoreChecker reports the store healthy when a lookup of an unused id
// completes with not-found.
type StoreChecker struct {
	Reader JobReader
}

// CheckHealth implements HealthChecker.
func (c StoreChecker) CheckHealth(ctx context.Context) error {
	_, err := c.Reader.Load(ctx, uuid.Nil)
	if err == nil || job.IsNotFound(err) {
		return nil
	}
	return err
}
