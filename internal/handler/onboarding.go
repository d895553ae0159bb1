package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/auth"
	"github.com/knowex/knowex-api/internal/service"
)

// OnboardingHandler serves the community and technology screens. Every route
// sits behind auth.RequireAuth.
type OnboardingHandler struct {
	onboarding *service.OnboardingService
	logger     *slog.Logger
}

func NewOnboardingHandler(onboarding *service.OnboardingService, logger *slog.Logger) *OnboardingHandler {
	return &OnboardingHandler{onboarding: onboarding, logger: logger}
}

// HandleListCommunities lists active communities, largest first.
//
// HTTP: GET /api/communities
func (h *OnboardingHandler) HandleListCommunities(w http.ResponseWriter, r *http.Request) {
	communities, err := h.onboarding.ListCommunities(r.Context())
	if err != nil {
		h.logger.Error("listing communities failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, communities)
}

// HandleListTechnologies returns one community's technologies grouped by
// category.
//
// HTTP: GET /api/communities/{id}/technologies
func (h *OnboardingHandler) HandleListTechnologies(w http.ResponseWriter, r *http.Request) {
	communityID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, apperror.ValidationFailed("id", "Invalid community id"))
		return
	}

	groups, err := h.onboarding.ListTechnologies(r.Context(), communityID)
	if err != nil {
		h.logger.Error("listing technologies failed",
			slog.Int64("communityID", communityID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

type joinRequest struct {
	CommunityID int64 `json:"community_id"`
}

// HandleJoinCommunity asks to join the selected community. Duplicates are
// not errors: the response says so and still points at the next screen.
//
// HTTP: POST /api/onboarding/community
func (h *OnboardingHandler) HandleJoinCommunity(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}

	var req joinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.CommunityID <= 0 {
		writeError(w, apperror.ValidationFailed("community_id", "Please select a community"))
		return
	}

	out, err := h.onboarding.RequestToJoin(r.Context(), userID, req.CommunityID)
	if err != nil {
		h.logger.Error("join request failed",
			slog.String("userID", userID),
			slog.Int64("communityID", req.CommunityID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if out.AlreadyRequested {
		status = http.StatusOK
	}
	writeJSON(w, status, out)
}

// HandleSkip ends onboarding without selections.
//
// HTTP: POST /api/onboarding/skip
func (h *OnboardingHandler) HandleSkip(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}
	writeJSON(w, http.StatusOK, h.onboarding.Skip(r.Context(), userID))
}

type completeRequest struct {
	TechnologyIDs []int64 `json:"technology_ids"`
}

// HandleComplete stores the technology selection and finishes onboarding.
//
// HTTP: POST /api/onboarding/complete
func (h *OnboardingHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}

	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.onboarding.Complete(r.Context(), userID, req.TechnologyIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
