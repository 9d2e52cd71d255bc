// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/okian/badgeboard/internal/adapters/repository"
	"github.com/okian/badgeboard/internal/adapters/smarterer"
	service "github.com/okian/badgeboard/internal/app"
	"github.com/okian/badgeboard/internal/domain/model"
	"github.com/okian/badgeboard/internal/domain/scoring"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SyncUser(ctx context.Context, username string) (service.SyncResult, error)
	SyncAllUsers(ctx context.Context) (service.BatchReport, error)

	Leaderboard(ctx context.Context, testID string) ([]model.LeaderboardEntry, error)
	Score(ctx context.Context, username, testID string) (model.ScoreRecord, error)
	DefaultTestID() string

	AuthorizeURL() string
	CompleteAuthorization(ctx context.Context, username, code string) (service.SyncResult, error)

	GetProfile(ctx context.Context, username string) (model.User, error)
	UpdateProfile(ctx context.Context, user model.User) (model.User, error)
	PreviewScores(ctx context.Context, username string) ([]service.ScorePreview, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	leaderboardHandler *LeaderboardHandler
	syncHandler        *SyncHandler
	oauthHandler       *OAuthHandler
	profileHandler     *ProfileHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		leaderboardHandler: NewLeaderboardHandler(deps),
		syncHandler:        NewSyncHandler(deps),
		oauthHandler:       NewOAuthHandler(deps),
		profileHandler:     NewProfileHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("GET /leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /users/{username}/score", MetricsMiddleware(s.leaderboardHandler.HandleGetScore, "score"))

	mux.HandleFunc("POST /users/{username}/sync", MetricsMiddleware(s.syncHandler.HandleSyncUser, "sync_user"))
	mux.HandleFunc("POST /sync", MetricsMiddleware(s.syncHandler.HandleSyncAll, "sync_all"))

	mux.HandleFunc("GET /oauth/authorize", MetricsMiddleware(s.oauthHandler.HandleAuthorize, "oauth_authorize"))
	mux.HandleFunc("GET /oauth/callback", MetricsMiddleware(s.oauthHandler.HandleCallback, "oauth_callback"))

	mux.HandleFunc("GET /users/{username}/profile", MetricsMiddleware(s.profileHandler.HandleGetProfile, "profile"))
	mux.HandleFunc("PUT /users/{username}/profile", MetricsMiddleware(s.profileHandler.HandlePutProfile, "profile"))
	mux.HandleFunc("GET /users/{username}/badges", MetricsMiddleware(s.profileHandler.HandlePreviewBadges, "badges_preview"))
}

type errorResponse struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	AuthorizeURL string `json:"authorize_url,omitempty"`
}

// scoreResponse is the wire shape of a stored score.
type scoreResponse struct {
	Username     string    `json:"username"`
	TestID       string    `json:"test_id"`
	RawScore     float64   `json:"raw_score"`
	DisplayScore int64     `json:"display_score"`
	StoredScore  int64     `json:"stored_score"`
	BadgeImage   string    `json:"badge_image"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newScoreResponse(r model.ScoreRecord) scoreResponse {
	return scoreResponse{
		Username:     r.Username,
		TestID:       r.TestID,
		RawScore:     scoring.Decode(r.Score),
		DisplayScore: scoring.DisplayValue(r.Score),
		StoredScore:  r.Score,
		BadgeImage:   r.BadgeImage,
		UpdatedAt:    r.UpdatedAt,
	}
}

type syncResponse struct {
	Username string          `json:"username"`
	Status   string          `json:"status"`
	Scores   []scoreResponse `json:"scores"`
}

func newSyncResponse(res service.SyncResult) syncResponse {
	out := syncResponse{Username: res.Username, Status: string(res.Outcome), Scores: make([]scoreResponse, 0, len(res.Records))}
	for _, r := range res.Records {
		out.Scores = append(out.Scores, newScoreResponse(r))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// statusFor maps a core error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, service.ErrInvalidInput), errors.Is(err, repository.ErrInvalidInput):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, service.ErrNotAuthorized):
		return http.StatusUnauthorized, "not_authorized"
	case errors.Is(err, ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, smarterer.ErrRemoteAPI):
		return http.StatusBadGateway, "remote_error"
	case errors.Is(err, scoring.ErrInvalidScore):
		return http.StatusBadGateway, "invalid_score"
	case errors.Is(err, repository.ErrStorage):
		return http.StatusInternalServerError, "storage_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeCoreError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err)
}
