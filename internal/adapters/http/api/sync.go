package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	service "github.com/okian/badgeboard/internal/app"
)

// SyncDependencies defines the reconciliation operations exposed over HTTP.
type SyncDependencies interface {
	SyncUser(ctx context.Context, username string) (service.SyncResult, error)
	SyncAllUsers(ctx context.Context) (service.BatchReport, error)
	AuthorizeURL() string
}

// SyncHandler triggers score syncs.
type SyncHandler struct {
	deps SyncDependencies
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(deps SyncDependencies) *SyncHandler {
	return &SyncHandler{deps: deps}
}

type failureResponse struct {
	Username string `json:"username"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

type batchResponse struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	DurationMs int64             `json:"duration_ms"`
	Synced     []syncResponse    `json:"synced"`
	NoScore    []string          `json:"no_score"`
	Failures   []failureResponse `json:"failures"`
}

// HandleSyncUser handles POST /users/{username}/sync requests.
func (h *SyncHandler) HandleSyncUser(w http.ResponseWriter, r *http.Request) {
	const op = "api.sync_user"
	username := r.PathValue("username")
	if username == "" {
		writeCoreError(w, badRequest(op, "missing username"))
		return
	}
	res, err := h.deps.SyncUser(r.Context(), username)
	if err != nil {
		if errors.Is(err, service.ErrNotAuthorized) {
			writeJSON(w, http.StatusUnauthorized, errorResponse{
				Code:         "not_authorized",
				Message:      err.Error(),
				AuthorizeURL: h.deps.AuthorizeURL(),
			})
			return
		}
		writeCoreError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, newSyncResponse(res))
}

// HandleSyncAll handles POST /sync requests.
func (h *SyncHandler) HandleSyncAll(w http.ResponseWriter, r *http.Request) {
	const op = "api.sync_all"
	report, err := h.deps.SyncAllUsers(r.Context())
	if err != nil {
		writeCoreError(w, Wrap(op, err))
		return
	}

	out := batchResponse{
		RunID:      report.RunID,
		StartedAt:  report.StartedAt,
		DurationMs: report.Duration.Milliseconds(),
		Synced:     make([]syncResponse, 0, len(report.Synced)),
		NoScore:    append([]string{}, report.NoScore...),
		Failures:   make([]failureResponse, 0, len(report.Failures)),
	}
	for _, res := range report.Synced {
		out.Synced = append(out.Synced, newSyncResponse(res))
	}
	for _, f := range report.Failures {
		_, code := statusFor(f.Err)
		out.Failures = append(out.Failures, failureResponse{Username: f.Username, Code: code, Message: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, out)
}
