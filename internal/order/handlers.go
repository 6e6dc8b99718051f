package order

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-laundry/internal/common"
	"github.com/noah-isme/backend-laundry/internal/pricing"
	"github.com/noah-isme/backend-laundry/internal/promo"
)

// Handler serves the customer-facing order endpoints.
type Handler struct {
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

type customerPayload struct {
	FirstName string         `json:"firstName" validate:"required"`
	LastName  string         `json:"lastName" validate:"required"`
	Email     string         `json:"email" validate:"required,email"`
	Phone     string         `json:"phone" validate:"required,in_mobile"`
	Address   addressPayload `json:"address" validate:"required"`
}

type itemPayload struct {
	ServiceID           string        `json:"serviceId" validate:"required"`
	ServiceName         string        `json:"serviceName"`
	ItemName            string        `json:"itemName"`
	Quantity            int           `json:"quantity" validate:"gte=1,lte=1000"`
	UnitPrice           pricing.Money `json:"unitPrice" validate:"gte=0,lte=10000000"`
	Image               string        `json:"image"`
	SpecialInstructions string        `json:"specialInstructions"`
}

type schedulePayload struct {
	PickupDate   string `json:"pickupDate" validate:"required"`
	DeliveryDate string `json:"deliveryDate"`
	TimeSlot     string `json:"timeSlot"`
	Instructions string `json:"instructions"`
	Express      bool   `json:"express"`
}

type createRequest struct {
	CustomerInfo  customerPayload `json:"customerInfo" validate:"required"`
	Items         []itemPayload   `json:"items" validate:"required,min=1,dive"`
	Schedule      schedulePayload `json:"schedule" validate:"required"`
	PaymentMethod PaymentMethod   `json:"paymentMethod" validate:"required,oneof=card upi cod"`
	PromoCode     string          `json:"promoCode"`
}

type reviewRequest struct {
	Rating int    `json:"rating" validate:"required,min=1,max=5"`
	Review string `json:"review" validate:"max=1000"`
}

// Create places a new order. Authentication is optional; guest orders carry no customer id.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	var req createRequest
	if err := common.DecodeAndValidate(r, h.Validate, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if userID, ok := common.UserID(r.Context()); ok && userID != "" {
		in.CustomerID = &userID
	}
	placement, err := h.Svc.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	body := map[string]any{"data": placement.Order}
	if strings.TrimSpace(req.PromoCode) != "" {
		body["promo"] = promoNotice(placement, req.PromoCode)
	}
	common.JSON(w, http.StatusCreated, body)
}

// List returns the caller's orders.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	listOrders(w, r, h.Svc, Actor{UserID: userID})
}

// Get returns one of the caller's orders.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := orderID(w, r, "orderId")
	if !ok {
		return
	}
	o, err := h.Svc.Get(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

// Cancel cancels one of the caller's orders.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := orderID(w, r, "orderId")
	if !ok {
		return
	}
	o, err := h.Svc.Cancel(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

// Review stores a rating for a delivered order.
func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := orderID(w, r, "orderId")
	if !ok {
		return
	}
	var req reviewRequest
	if err := common.DecodeAndValidate(r, h.Validate, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	o, err := h.Svc.Review(r.Context(), id, req.Rating, req.Review, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

func (req createRequest) toInput() (CreateInput, error) {
	pickup, err := common.ParseDate(req.Schedule.PickupDate)
	if err != nil {
		return CreateInput{}, common.InvalidField("schedule.pickupDate", "iso8601")
	}
	schedule := Schedule{
		PickupDate:   pickup,
		TimeSlot:     strings.TrimSpace(req.Schedule.TimeSlot),
		Instructions: strings.TrimSpace(req.Schedule.Instructions),
		Express:      req.Schedule.Express,
	}
	if raw := strings.TrimSpace(req.Schedule.DeliveryDate); raw != "" {
		delivery, err := common.ParseDate(raw)
		if err != nil {
			return CreateInput{}, common.InvalidField("schedule.deliveryDate", "iso8601")
		}
		schedule.DeliveryDate = &delivery
	}
	items := make([]Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, Item{
			ServiceID:           strings.TrimSpace(it.ServiceID),
			ServiceName:         strings.TrimSpace(it.ServiceName),
			ItemName:            strings.TrimSpace(it.ItemName),
			Quantity:            it.Quantity,
			UnitPrice:           it.UnitPrice,
			Image:               it.Image,
			SpecialInstructions: strings.TrimSpace(it.SpecialInstructions),
		})
	}
	c := req.CustomerInfo
	return CreateInput{
		Customer: CustomerInfo{
			FirstName: strings.TrimSpace(c.FirstName),
			LastName:  strings.TrimSpace(c.LastName),
			Email:     strings.ToLower(strings.TrimSpace(c.Email)),
			Phone:     strings.TrimSpace(c.Phone),
			Address: Address{
				Street:   strings.TrimSpace(c.Address.Street),
				Area:     strings.TrimSpace(c.Address.Area),
				City:     strings.TrimSpace(c.Address.City),
				Pincode:  strings.TrimSpace(c.Address.Pincode),
				Landmark: strings.TrimSpace(c.Address.Landmark),
			},
		},
		Items:         items,
		Schedule:      schedule,
		PaymentMethod: req.PaymentMethod,
		PromoCode:     req.PromoCode,
	}, nil
}

func promoNotice(p Placement, requested string) map[string]any {
	notice := map[string]any{
		"applied": p.PromoApplied,
		"code":    promo.NormalizeCode(requested),
	}
	if p.PromoApplied {
		notice["discount"] = p.Order.Summary.Discount
		return notice
	}
	if appErr := ErrorFor(p.PromoError); appErr != nil {
		notice["error"] = map[string]any{"code": appErr.Code, "message": appErr.Message}
	}
	return notice
}

func listOrders(w http.ResponseWriter, r *http.Request, svc *Service, actor Actor) {
	if svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	page := common.PageFromQuery(r, 10)
	filter := ListFilter{Page: page.Number, PerPage: page.Size}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" && raw != "all" {
		status, err := ParseStatus(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Status = &status
	}
	orders, total, err := svc.List(r.Context(), filter, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	if orders == nil {
		orders = []Order{}
	}
	common.WritePage(w, orders, page, total)
}

func requireActor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return Actor{}, false
	}
	return Actor{UserID: userID, Admin: common.IsAdmin(r.Context())}, true
}

func orderID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return uuid.Nil, false
	}
	return id, true
}

// ErrorFor maps order and promo errors onto API errors. It returns nil for unknown errors.
func ErrorFor(err error) *common.AppError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return common.NewAppError("NOT_FOUND", "Order not found", http.StatusNotFound, err)
	case errors.Is(err, ErrPromoNotFound):
		return common.NewAppError("NOT_FOUND", "Invalid promo code", http.StatusNotFound, err)
	case errors.Is(err, ErrConflict):
		return common.NewAppError("CONFLICT", "Order number collision, please retry", http.StatusConflict, err)
	case errors.Is(err, ErrAlreadyTerminal):
		return common.NewAppError("ALREADY_TERMINAL", "Order cannot be cancelled at this stage", http.StatusBadRequest, err)
	case errors.Is(err, ErrInvalidStatus):
		return common.NewAppError("INVALID_STATUS", "Invalid order status", http.StatusBadRequest, err)
	case errors.Is(err, ErrIllegalTransition):
		return common.NewAppError("ILLEGAL_TRANSITION", err.Error(), http.StatusConflict, err)
	case errors.Is(err, ErrNotReviewable):
		return common.NewAppError("INVALID_STATE", "Order can only be reviewed after delivery", http.StatusBadRequest, err)
	case errors.Is(err, ErrInvalidRating), errors.Is(err, ErrInvalidNote), errors.Is(err, pricing.ErrInvalidCart):
		return common.NewAppError("VALIDATION_FAILED", err.Error(), http.StatusBadRequest, err)
	}
	return promo.ErrorFor(err)
}

func writeError(w http.ResponseWriter, err error) {
	if appErr := ErrorFor(err); appErr != nil {
		common.WriteError(w, appErr)
		return
	}
	common.WriteError(w, err)
}
