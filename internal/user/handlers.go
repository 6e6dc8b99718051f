package user

import (
	"net/http"

	"github.com/noah-isme/backend-laundry/internal/common"
)

// Handler exposes the customer statistics endpoint.
type Handler struct {
	Service *Service
}

// Stats handles GET /api/v1/users/me/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "user stats service not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
		return
	}
	stats, err := h.Service.Stats(r.Context(), userID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load user stats", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": stats})
}
