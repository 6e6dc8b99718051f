package promo

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-laundry/internal/common"
	"github.com/noah-isme/backend-laundry/internal/pricing"
)

// AdminHandler provides administrative promo management endpoints.
type AdminHandler struct {
	Svc      *Service
	Validate *validator.Validate
}

type createPayload struct {
	Code               string         `json:"code" validate:"required,min=3,max=20,alphanum"`
	Description        string         `json:"description" validate:"required,min=5,max=200"`
	DiscountType       DiscountType   `json:"discountType" validate:"required,oneof=percentage fixed"`
	DiscountValue      int64          `json:"discountValue" validate:"gte=0"`
	MaxDiscount        *pricing.Money `json:"maxDiscount" validate:"omitempty,gte=0"`
	MinOrderAmount     pricing.Money  `json:"minOrderAmount" validate:"gte=0"`
	MaxUsage           *int           `json:"maxUsage" validate:"omitempty,gte=0"`
	MaxUsagePerUser    *int           `json:"maxUsagePerUser" validate:"omitempty,gte=0"`
	ValidFrom          *time.Time     `json:"validFrom"`
	ValidUntil         time.Time      `json:"validUntil" validate:"required"`
	ApplicableServices []string       `json:"applicableServices"`
	ExcludedServices   []string       `json:"excludedServices"`
	UserRestrictions   restrictions   `json:"userRestrictions"`
}

type restrictions struct {
	NewUsersOnly      bool `json:"newUsersOnly"`
	ExistingUsersOnly bool `json:"existingUsersOnly"`
}

type updatePayload struct {
	Description        *string        `json:"description" validate:"omitempty,min=5,max=200"`
	DiscountType       *DiscountType  `json:"discountType" validate:"omitempty,oneof=percentage fixed"`
	DiscountValue      *int64         `json:"discountValue" validate:"omitempty,gte=0"`
	MaxDiscount        *pricing.Money `json:"maxDiscount" validate:"omitempty,gte=0"`
	MinOrderAmount     *pricing.Money `json:"minOrderAmount" validate:"omitempty,gte=0"`
	MaxUsage           *int           `json:"maxUsage" validate:"omitempty,gte=0"`
	MaxUsagePerUser    *int           `json:"maxUsagePerUser" validate:"omitempty,gte=0"`
	ValidFrom          *time.Time     `json:"validFrom"`
	ValidUntil         *time.Time     `json:"validUntil"`
	IsActive           *bool          `json:"isActive"`
	ApplicableServices []string       `json:"applicableServices"`
	ExcludedServices   []string       `json:"excludedServices"`
	NewUsersOnly       *bool          `json:"newUsersOnly"`
	ExistingUsersOnly  *bool          `json:"existingUsersOnly"`
	ClearMaxDiscount   bool           `json:"clearMaxDiscount"`
	ClearMaxUsage      bool           `json:"clearMaxUsage"`
}

// List returns promos, optionally filtered by isActive.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	page := common.PageFromQuery(r, 10)
	filter := ListFilter{Page: page.Number, PerPage: page.Size}
	if raw := strings.TrimSpace(r.URL.Query().Get("isActive")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "isActive must be true or false", nil)
			return
		}
		filter.Active = &active
	}
	promos, total, err := h.Svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if promos == nil {
		promos = []Promo{}
	}
	common.WritePage(w, promos, page, total)
}

// Get returns a single promo.
func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := promoID(w, r)
	if !ok {
		return
	}
	p, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": p})
}

// Create inserts a new promo.
func (h *AdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload createPayload
	if err := common.DecodeAndValidate(r, h.Validate, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	p, err := h.Svc.Create(r.Context(), CreateInput{
		Code:               payload.Code,
		Description:        payload.Description,
		DiscountType:       payload.DiscountType,
		DiscountValue:      payload.DiscountValue,
		MaxDiscount:        payload.MaxDiscount,
		MinOrderAmount:     payload.MinOrderAmount,
		MaxUsage:           payload.MaxUsage,
		MaxUsagePerUser:    payload.MaxUsagePerUser,
		ValidFrom:          payload.ValidFrom,
		ValidUntil:         payload.ValidUntil,
		ApplicableServices: payload.ApplicableServices,
		ExcludedServices:   payload.ExcludedServices,
		NewUsersOnly:       payload.UserRestrictions.NewUsersOnly,
		ExistingUsersOnly:  payload.UserRestrictions.ExistingUsersOnly,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": p})
}

// Update applies a partial update.
func (h *AdminHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := promoID(w, r)
	if !ok {
		return
	}
	var payload updatePayload
	if err := common.DecodeAndValidate(r, h.Validate, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	p, err := h.Svc.Update(r.Context(), id, Patch{
		Description:        payload.Description,
		DiscountType:       payload.DiscountType,
		DiscountValue:      payload.DiscountValue,
		MaxDiscount:        payload.MaxDiscount,
		MinOrderAmount:     payload.MinOrderAmount,
		MaxUsage:           payload.MaxUsage,
		MaxUsagePerUser:    payload.MaxUsagePerUser,
		ValidFrom:          payload.ValidFrom,
		ValidUntil:         payload.ValidUntil,
		Active:             payload.IsActive,
		ApplicableServices: payload.ApplicableServices,
		ExcludedServices:   payload.ExcludedServices,
		NewUsersOnly:       payload.NewUsersOnly,
		ExistingUsersOnly:  payload.ExistingUsersOnly,
		ClearMaxDiscount:   payload.ClearMaxDiscount,
		ClearMaxUsage:      payload.ClearMaxUsage,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": p})
}

// Delete deactivates the promo.
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := promoID(w, r)
	if !ok {
		return
	}
	if _, err := h.Svc.Deactivate(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats returns usage statistics.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id, ok := promoID(w, r)
	if !ok {
		return
	}
	stats, err := h.Svc.Stats(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": stats})
}

func promoID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid promo id", nil)
		return uuid.Nil, false
	}
	return id, true
}
