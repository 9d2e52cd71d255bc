package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	service "github.com/okian/badgeboard/internal/app"
	"github.com/okian/badgeboard/internal/domain/model"
)

// ProfileDependencies defines profile reads and writes.
type ProfileDependencies interface {
	GetProfile(ctx context.Context, username string) (model.User, error)
	UpdateProfile(ctx context.Context, user model.User) (model.User, error)
	PreviewScores(ctx context.Context, username string) ([]service.ScorePreview, error)
}

// ProfileHandler handles user profile requests.
type ProfileHandler struct {
	deps ProfileDependencies
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(deps ProfileDependencies) *ProfileHandler {
	return &ProfileHandler{deps: deps}
}

type profileRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	ImageURL  string `json:"image_url"`
}

type profileResponse struct {
	Username    string    `json:"username"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	DisplayName string    `json:"display_name"`
	ImageURL    string    `json:"image_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newProfileResponse(u model.User) profileResponse {
	return profileResponse{
		Username:    u.Username,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		DisplayName: u.DisplayName(),
		ImageURL:    u.ImageURL,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// HandleGetProfile handles GET /users/{username}/profile requests.
func (h *ProfileHandler) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_profile"
	u, err := h.deps.GetProfile(r.Context(), r.PathValue("username"))
	if err != nil {
		writeCoreError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, newProfileResponse(u))
}

// HandlePutProfile handles PUT /users/{username}/profile requests.
func (h *ProfileHandler) HandlePutProfile(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_profile"
	var req profileRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeCoreError(w, badRequest(op, "invalid JSON body"))
		return
	}
	u, err := h.deps.UpdateProfile(r.Context(), model.User{
		Username:  r.PathValue("username"),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		ImageURL:  req.ImageURL,
	})
	if err != nil {
		writeCoreError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, newProfileResponse(u))
}

type previewScore struct {
	TestID       string  `json:"test_id"`
	RawScore     float64 `json:"raw_score"`
	DisplayScore int64   `json:"display_score"`
	BadgeImage   string  `json:"badge_image"`
}

type previewResponse struct {
	Username string         `json:"username"`
	Scores   []previewScore `json:"scores"`
}

// HandlePreviewBadges handles GET /users/{username}/badges requests: the
// user's public badges for the configured tests, read live and not stored.
func (h *ProfileHandler) HandlePreviewBadges(w http.ResponseWriter, r *http.Request) {
	const op = "api.preview_badges"
	username := r.PathValue("username")
	previews, err := h.deps.PreviewScores(r.Context(), username)
	if err != nil {
		writeCoreError(w, Wrap(op, err))
		return
	}
	resp := previewResponse{Username: username, Scores: make([]previewScore, 0, len(previews))}
	for _, p := range previews {
		resp.Scores = append(resp.Scores, previewScore{
			TestID:       p.TestID,
			RawScore:     p.RawScore,
			DisplayScore: p.DisplayScore,
			BadgeImage:   p.BadgeImage,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
