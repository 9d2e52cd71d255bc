package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/okian/badgeboard/internal/domain/model"
)

// LeaderboardDependencies defines the interface for leaderboard reads.
type LeaderboardDependencies interface {
	Leaderboard(ctx context.Context, testID string) ([]model.LeaderboardEntry, error)
	Score(ctx context.Context, username, testID string) (model.ScoreRecord, error)
	DefaultTestID() string
}

// LeaderboardHandler handles leaderboard and per-user score requests.
type LeaderboardHandler struct {
	deps LeaderboardDependencies
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies) *LeaderboardHandler {
	return &LeaderboardHandler{deps: deps}
}

type leaderboardResponse struct {
	TestID  string                   `json:"test_id"`
	Entries []model.LeaderboardEntry `json:"entries"`
}

// HandleGetLeaderboard handles GET /leaderboard?test_id=ID requests.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	testID := strings.TrimSpace(r.URL.Query().Get("test_id"))
	if testID == "" {
		testID = h.deps.DefaultTestID()
	}
	entries, err := h.deps.Leaderboard(r.Context(), testID)
	if err != nil {
		writeCoreError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{TestID: testID, Entries: entries})
}

// HandleGetScore handles GET /users/{username}/score?test_id=ID requests.
func (h *LeaderboardHandler) HandleGetScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_score"
	username := r.PathValue("username")
	if username == "" {
		writeCoreError(w, badRequest(op, "missing username"))
		return
	}
	rec, err := h.deps.Score(r.Context(), username, strings.TrimSpace(r.URL.Query().Get("test_id")))
	if err != nil {
		writeCoreError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, newScoreResponse(rec))
}
