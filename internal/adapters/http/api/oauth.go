package api

import (
	"context"
	"net/http"
	"strings"

	service "github.com/okian/badgeboard/internal/app"
)

// OAuthDependencies defines the authorization-code flow.
type OAuthDependencies interface {
	AuthorizeURL() string
	CompleteAuthorization(ctx context.Context, username, code string) (service.SyncResult, error)
}

// OAuthHandler serves the authorization redirect target and callback.
type OAuthHandler struct {
	deps OAuthDependencies
}

// NewOAuthHandler creates a new OAuth handler.
func NewOAuthHandler(deps OAuthDependencies) *OAuthHandler {
	return &OAuthHandler{deps: deps}
}

type authorizeResponse struct {
	AuthorizeURL string `json:"authorize_url"`
}

// HandleAuthorize handles GET /oauth/authorize requests.
func (h *OAuthHandler) HandleAuthorize(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, authorizeResponse{AuthorizeURL: h.deps.AuthorizeURL()})
}

// HandleCallback handles GET /oauth/callback?username=U&code=C requests.
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	const op = "api.oauth_callback"
	q := r.URL.Query()
	username := strings.TrimSpace(q.Get("username"))
	code := strings.TrimSpace(q.Get("code"))
	switch {
	case username == "":
		writeCoreError(w, badRequest(op, "missing username"))
		return
	case code == "":
		writeCoreError(w, badRequest(op, "missing code"))
		return
	}

	res, err := h.deps.CompleteAuthorization(r.Context(), username, code)
	if err != nil {
		writeCoreError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, newSyncResponse(res))
}
