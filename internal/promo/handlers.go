package promo

import (
	"errors"
	"fmt"
	"net/http"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-laundry/internal/common"
	"github.com/noah-isme/backend-laundry/internal/pricing"
)

// Handler exposes the public promo preview endpoint.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type validateRequest struct {
	PromoCode   string        `json:"promoCode" validate:"required"`
	OrderAmount pricing.Money `json:"orderAmount" validate:"gte=0"`
	ServiceIDs  []string      `json:"serviceIds"`
}

type promoSummary struct {
	Code           string         `json:"code"`
	Description    string         `json:"description"`
	DiscountType   DiscountType   `json:"discountType"`
	DiscountValue  int64          `json:"discountValue"`
	MaxDiscount    *pricing.Money `json:"maxDiscount,omitempty"`
	MinOrderAmount pricing.Money  `json:"minOrderAmount"`
}

// ValidateCode previews the discount a code would give for an order amount.
func (h *Handler) ValidateCode(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "promo service not configured", nil)
		return
	}
	var req validateRequest
	if err := common.DecodeAndValidate(r, h.Validate, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	userID, _ := common.UserID(r.Context())
	quote, err := h.Svc.Preview(r.Context(), req.PromoCode, Check{
		UserID:      userID,
		OrderAmount: req.OrderAmount,
		ServiceIDs:  req.ServiceIDs,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	p := quote.Promo
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"valid":    true,
			"discount": quote.Discount,
			"message":  fmt.Sprintf("%s - ₹%s discount applied!", p.Description, pricing.Rupees(quote.Discount)),
			"promoCode": promoSummary{
				Code:           p.Code,
				Description:    p.Description,
				DiscountType:   p.DiscountType,
				DiscountValue:  p.DiscountValue,
				MaxDiscount:    p.MaxDiscount,
				MinOrderAmount: p.MinOrderAmount,
			},
		},
	})
}

// ErrorFor maps promo errors onto API errors. It returns nil for unknown errors.
func ErrorFor(err error) *common.AppError {
	var inel *IneligibleError
	switch {
	case errors.As(err, &inel):
		return common.NewAppError("PROMO_NOT_ELIGIBLE", inel.Message, http.StatusBadRequest, err).
			WithDetails(map[string]any{"reason": inel.Reason})
	case errors.Is(err, ErrNotFound):
		return common.NewAppError("NOT_FOUND", "Invalid promo code", http.StatusNotFound, err)
	case errors.Is(err, ErrConflict):
		return common.NewAppError("CONFLICT", "Promo code already exists", http.StatusConflict, err)
	case errors.Is(err, ErrInvalid):
		return common.NewAppError("VALIDATION_FAILED", err.Error(), http.StatusBadRequest, err)
	case errors.Is(err, ErrCapacityExceeded):
		return common.NewAppError("CAPACITY_EXCEEDED", "Promo code usage limit exceeded", http.StatusConflict, err)
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
