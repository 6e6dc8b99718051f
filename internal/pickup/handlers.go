package pickup

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-laundry/internal/common"
	"github.com/noah-isme/backend-laundry/internal/order"
)

// Handler serves the customer pickup endpoints.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// AdminHandler serves the staff pickup endpoints.
type AdminHandler struct {
	Svc      *Service
	Validate *validator.Validate
}

type addressPayload struct {
	Street   string `json:"street" validate:"required"`
	Area     string `json:"area" validate:"required"`
	City     string `json:"city" validate:"required"`
	Pincode  string `json:"pincode" validate:"required,in_pincode"`
	Landmark string `json:"landmark"`
}

type slotPayload struct {
	Label string `json:"label" validate:"required"`
	From  string `json:"from" validate:"required,datetime=15:04"`
	To    string `json:"to" validate:"required,datetime=15:04"`
}

type estimatedItemPayload struct {
	Type     string `json:"type" validate:"required"`
	Quantity int    `json:"quantity" validate:"gte=1,lte=1000"`
	Notes    string `json:"notes" validate:"max=500"`
}

type actualItemPayload struct {
	Type      string `json:"type" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=0,lte=1000"`
	Condition string `json:"condition" validate:"max=200"`
	Notes     string `json:"notes" validate:"max=500"`
}

type createRequest struct {
	Address        addressPayload         `json:"address" validate:"required"`
	Date           string                 `json:"date" validate:"required"`
	TimeSlot       slotPayload            `json:"timeSlot" validate:"required"`
	Instructions   string                 `json:"instructions" validate:"max=500"`
	EstimatedItems []estimatedItemPayload `json:"estimatedItems" validate:"max=50,dive"`
}

type statusRequest struct {
	Status      string              `json:"status" validate:"required"`
	AssignedTo  *string             `json:"assignedTo"`
	ActualItems []actualItemPayload `json:"actualItems" validate:"max=50,dive"`
	PickupNotes string              `json:"pickupNotes" validate:"max=1000"`
}

type assignRequest struct {
	AssignedTo string `json:"assignedTo"`
}

// Create schedules a pickup for the caller.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := common.DecodeAndValidate(r, h.Validate, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	date, err := common.ParseDate(req.Date)
	if err != nil {
		common.WriteError(w, common.InvalidField("date", "iso8601"))
		return
	}
	items := make([]EstimatedItem, 0, len(req.EstimatedItems))
	for _, it := range req.EstimatedItems {
		items = append(items, EstimatedItem{Type: strings.TrimSpace(it.Type), Quantity: it.Quantity, Notes: strings.TrimSpace(it.Notes)})
	}
	p, err := h.Svc.Create(r.Context(), CreateInput{
		CustomerID: actor.UserID,
		Address: order.Address{
			Street:   strings.TrimSpace(req.Address.Street),
			Area:     strings.TrimSpace(req.Address.Area),
			City:     strings.TrimSpace(req.Address.City),
			Pincode:  strings.TrimSpace(req.Address.Pincode),
			Landmark: strings.TrimSpace(req.Address.Landmark),
		},
		Date: date,
		TimeSlot: TimeSlot{
			Label: strings.TrimSpace(req.TimeSlot.Label),
			From:  req.TimeSlot.From,
			To:    req.TimeSlot.To,
		},
		Instructions:   strings.TrimSpace(req.Instructions),
		EstimatedItems: items,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": p})
}

// List returns the caller's pickups.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	actor.Admin = false
	listPickups(w, r, h.Svc, actor, 10)
}

// Get returns one of the caller's pickups.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pickupID(w, r, "pickupId")
	if !ok {
		return
	}
	actor.Admin = false
	p, err := h.Svc.Get(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": p})
}

// Cancel cancels one of the caller's pickups.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pickupID(w, r, "pickupId")
	if !ok {
		return
	}
	actor.Admin = false
	p, err := h.Svc.Cancel(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": p})
}

// List returns every pickup, filterable by status, date and assignedTo.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	listPickups(w, r, h.Svc, adminActor(r), 20)
}

// PatchStatus moves a pickup to a new status and records what was collected.
func (h *AdminHandler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pickupID(w, r, "id")
	if !ok {
		return
	}
	var req statusRequest
	if err := common.DecodeAndValidate(r, h.Validate, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	status, err := ParseStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	upd := StatusUpdate{Status: status, AssignedTo: req.AssignedTo, PickupNotes: req.PickupNotes}
	for _, it := range req.ActualItems {
		upd.ActualItems = append(upd.ActualItems, ActualItem{
			Type:      strings.TrimSpace(it.Type),
			Quantity:  it.Quantity,
			Condition: strings.TrimSpace(it.Condition),
			Notes:     strings.TrimSpace(it.Notes),
		})
	}
	p, err := h.Svc.SetStatus(r.Context(), id, upd, adminActor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": p})
}

// Assign hands a pickup to a staff member.
func (h *AdminHandler) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := pickupID(w, r, "id")
	if !ok {
		return
	}
	var req assignRequest
	if err := common.DecodeAndValidate(r, h.Validate, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	p, err := h.Svc.Assign(r.Context(), id, req.AssignedTo, adminActor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": p})
}

func listPickups(w http.ResponseWriter, r *http.Request, svc *Service, actor order.Actor, defaultSize int) {
	page := common.PageFromQuery(r, defaultSize)
	filter := ListFilter{Page: page.Number, PerPage: page.Size}
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("status")); raw != "" && raw != "all" {
		status, err := ParseStatus(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Status = &status
	}
	if actor.Admin {
		if raw := strings.TrimSpace(q.Get("date")); raw != "" {
			day, err := common.ParseDate(raw)
			if err != nil {
				common.WriteError(w, common.InvalidField("date", "iso8601"))
				return
			}
			filter.Date = &day
		}
		filter.AssignedTo = strings.TrimSpace(q.Get("assignedTo"))
	}
	pickups, total, err := svc.List(r.Context(), filter, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	if pickups == nil {
		pickups = []Pickup{}
	}
	common.WritePage(w, pickups, page, total)
}

func requireActor(w http.ResponseWriter, r *http.Request) (order.Actor, bool) {
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return order.Actor{}, false
	}
	return order.Actor{UserID: userID, Admin: common.IsAdmin(r.Context())}, true
}

func adminActor(r *http.Request) order.Actor {
	userID, _ := common.UserID(r.Context())
	return order.Actor{UserID: userID, Admin: true}
}

func pickupID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid pickup id", nil)
		return uuid.Nil, false
	}
	return id, true
}

// ErrorFor maps pickup errors onto API errors. It returns nil for unknown errors.
func ErrorFor(err error) *common.AppError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return common.NewAppError("NOT_FOUND", "Pickup not found", http.StatusNotFound, err)
	case errors.Is(err, ErrAlreadyTerminal):
		return common.NewAppError("ALREADY_TERMINAL", "Pickup cannot be changed at this stage", http.StatusBadRequest, err)
	case errors.Is(err, ErrInvalidStatus):
		return common.NewAppError("INVALID_STATUS", "Invalid status", http.StatusBadRequest, err)
	case errors.Is(err, ErrStaffRequired), errors.Is(err, ErrInvalidSlot):
		return common.NewAppError("VALIDATION_FAILED", err.Error(), http.StatusBadRequest, err)
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	if appErr := ErrorFor(err); appErr != nil {
		common.WriteError(w, appErr)
		return
	}
	common.WriteError(w, err)
}
