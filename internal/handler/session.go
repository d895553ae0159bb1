package handler

import (
	"log/slog"
	"net/http"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/auth"
	"github.com/knowex/knowex-api/internal/model"
	"github.com/knowex/knowex-api/internal/service"
)

// SessionHandler tells the client which screen to open.
type SessionHandler struct {
	resolver  *service.SessionResolver
	navigator *service.Navigator // optional
	profiles  service.ProfileReader
	logger    *slog.Logger
}

func NewSessionHandler(
	resolver *service.SessionResolver,
	navigator *service.Navigator,
	profiles service.ProfileReader,
	logger *slog.Logger,
) *SessionHandler {
	return &SessionHandler{
		resolver:  resolver,
		navigator: navigator,
		profiles:  profiles,
		logger:    logger,
	}
}

// RouteResponse is the answer of the session-route endpoint.
type RouteResponse struct {
	Route         model.Route       `json:"route"`
	Authenticated bool              `json:"authenticated"`
	UserID        string            `json:"user_id,omitempty"`
	LastEvent     *service.Decision `json:"last_event,omitempty"`
}

// HandleRoute resolves the caller's session to a route. No token is a valid
// request and yields the login route.
//
// HTTP: GET /api/session/route
func (h *SessionHandler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())

	resp := RouteResponse{Route: h.resolver.Resolve(r.Context(), session)}
	if session != nil {
		resp.Authenticated = true
		resp.UserID = session.User.ID
		if h.navigator != nil {
			if d, ok := h.navigator.Latest(session.User.ID); ok {
				resp.LastEvent = &d
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleMe returns the caller's profile row.
//
// HTTP: GET /api/me
func (h *SessionHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}

	user, err := h.profiles.GetUserByID(r.Context(), userID)
	if err != nil {
		h.logger.Warn("HandleMe: profile lookup failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
