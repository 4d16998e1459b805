package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/3leaps/gojobs/internal/errors"
	"github.com/3leaps/gojobs/pkg/execjob"
)

// maxSubmitBody bounds the POST /jobs request body.
const maxSubmitBody = 1 << 20

// JobSubmitter starts a job from a request body.
type JobSubmitter interface {
	Submit(ctx context.Context, body io.Reader) (uuid.UUID, error)
}

// SubmitResponse is the body of a 202 from POST /jobs.
type SubmitResponse struct {
	ID        uuid.UUID `json:"id"`
	StatusURL string    `json:"status_url"`
	WaitURL   string    `json:"wait_url"`
}

type execSubmitter struct {
	executor *execjob.Executor
	engine   *execjob.Engine
}

// NewExecSubmitter decodes an execjob.Metadata document and runs it on engine.
func NewExecSubmitter(executor *execjob.Executor, engine *execjob.Engine) JobSubmitter {
	return &execSubmitter{executor: executor, engine: engine}
}

func (s *execSubmitter) Submit(ctx context.Context, body io.Reader) (uuid.UUID, error) {
	var md execjob.Metadata
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&md); err != nil {
		return uuid.Nil, apperrors.BadRequest("invalid job document", err)
	}
	if len(md.Command) == 0 {
		return uuid.Nil, apperrors.BadRequest("invalid job document", fmt.Errorf("command is required"))
	}
	return s.executor.Submit(ctx, s.engine, md)
}

// Create handles POST /jobs. It answers once the initial record is persisted;
// the job keeps running after the response.
func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.submitter == nil {
		respondWithError(w, r, apperrors.MethodNotAllowed("job submission is disabled"))
		return
	}
	id, err := h.submitter.Submit(r.Context(), http.MaxBytesReader(w, r.Body, maxSubmitBody))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	base := "/jobs/" + id.String()
	w.Header().Set("Location", base)
	apperrors.WriteJSON(w, http.StatusAccepted, SubmitResponse{ID: id, StatusURL: base, WaitURL: base + "/wait"})
}
