package order

import (
	"net/http"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-laundry/internal/common"
)

// AdminHandler provides administrative order management endpoints.
type AdminHandler struct {
	Svc      *Service
	Validate *validator.Validate
}

type patchStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type noteRequest struct {
	Message string `json:"message" validate:"required,max=1000"`
}

// List returns every order, newest first.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	listOrders(w, r, h.Svc, Actor{Admin: true})
}

// Get returns any order.
func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r, "id")
	if !ok {
		return
	}
	o, err := h.Svc.Get(r.Context(), id, Actor{Admin: true})
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

// PatchStatus moves the order to a new status and refreshes its timeline.
func (h *AdminHandler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r, "id")
	if !ok {
		return
	}
	var req patchStatusRequest
	if err := common.DecodeAndValidate(r, h.Validate, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	status, err := ParseStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	o, err := h.Svc.SetStatus(r.Context(), id, status, adminActor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

// Cancel cancels any non-terminal order.
func (h *AdminHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r, "id")
	if !ok {
		return
	}
	o, err := h.Svc.Cancel(r.Context(), id, adminActor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

// AddNote appends a staff note to the order.
func (h *AdminHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r, "id")
	if !ok {
		return
	}
	var req noteRequest
	if err := common.DecodeAndValidate(r, h.Validate, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	actor := adminActor(r)
	o, err := h.Svc.AddNote(r.Context(), id, req.Message, actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": o})
}

func adminActor(r *http.Request) Actor {
	userID, _ := common.UserID(r.Context())
	return Actor{UserID: userID, Admin: true}
}
