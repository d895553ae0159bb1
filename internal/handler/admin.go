package handler

import (
	"log/slog"
	"net/http"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/auth"
	"github.com/knowex/knowex-api/internal/service"
)

// AdminHandler serves the admin area. Routes sit behind auth.RequireAdmin.
type AdminHandler struct {
	credentials *service.CredentialService
	logger      *slog.Logger
}

func NewAdminHandler(credentials *service.CredentialService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{credentials: credentials, logger: logger}
}

// HandleMe returns the admin's roles and merged permissions, read fresh from
// the store so role changes apply without a new login.
//
// HTTP: GET /api/admin/me
func (h *AdminHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || claims.AdminID == 0 {
		writeError(w, apperror.Forbidden("administrator access required"))
		return
	}

	profile, err := h.credentials.AdminPermissions(r.Context(), claims.AdminID)
	if err != nil {
		h.logger.Warn("admin profile lookup failed",
			slog.Int64("adminID", claims.AdminID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
