package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veloracommerce/fulfillment/internal/domain/order"
	"github.com/veloracommerce/fulfillment/internal/domain/payment"
	"github.com/veloracommerce/fulfillment/internal/service"
)

// OrderController handles order and line-item HTTP requests.
type OrderController struct {
	orderService    *service.OrderService
	lineItemService *service.LineItemService
}

func NewOrderController(orderService *service.OrderService, lineItemService *service.LineItemService) *OrderController {
	return &OrderController{
		orderService:    orderService,
		lineItemService: lineItemService,
	}
}

// Create handles POST /api/v1/orders
func (h *OrderController) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	customerID, _ := uuid.Parse(req.CustomerID)
	items := make([]service.LineItemInput, 0, len(req.Items))
	for _, in := range req.Items {
		vendorID, _ := uuid.Parse(in.VendorID)
		items = append(items, service.LineItemInput{
			VendorID:   vendorID,
			Kind:       order.Kind(in.Kind),
			Name:       in.Name,
			PriceCents: in.PriceCents,
			Quantity:   in.Quantity,
		})
	}

	o, err := h.orderService.CreateOrder(r.Context(), service.CreateOrderRequest{
		CustomerID: customerID,
		Currency:   req.Currency,
		Items:      items,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, FromOrder(o))
}

// Confirm handles POST /api/v1/orders/{id}/confirm
func (h *OrderController) Confirm(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid order id", Code: "invalid_id"})
		return
	}

	var req ConfirmOrderRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	p, err := h.orderService.ConfirmOrder(r.Context(), orderID, payment.GatewayName(req.Gateway))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromPayment(p))
}

// Get handles GET /api/v1/orders/{id}
func (h *OrderController) Get(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid order id", Code: "invalid_id"})
		return
	}

	o, err := h.orderService.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromOrder(o))
}

// Transition handles POST /api/v1/line-items/{id}/transition
func (h *OrderController) Transition(w http.ResponseWriter, r *http.Request) {
	lineItemID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid line item id", Code: "invalid_id"})
		return
	}

	var req TransitionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}
	actorID, _ := uuid.Parse(req.ActorID)

	li, err := h.lineItemService.Transition(r.Context(), lineItemID, order.Status(req.Target), actorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromLineItem(li))
}

// RequestRefund handles POST /api/v1/line-items/{id}/refund-request
func (h *OrderController) RequestRefund(w http.ResponseWriter, r *http.Request) {
	lineItemID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid line item id", Code: "invalid_id"})
		return
	}

	var req RefundRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}
	actorID, _ := uuid.Parse(req.ActorID)

	li, err := h.lineItemService.RequestRefund(r.Context(), lineItemID, req.AmountCents, req.Reason, actorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, FromLineItem(li))
}
