package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veloracommerce/fulfillment/internal/domain/booking"
	"github.com/veloracommerce/fulfillment/internal/service"
)

// BookingController handles booking HTTP requests.
type BookingController struct {
	bookingService *service.BookingService
}

func NewBookingController(bookingService *service.BookingService) *BookingController {
	return &BookingController{bookingService: bookingService}
}

// Create handles POST /api/v1/bookings
func (h *BookingController) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	customerID, _ := uuid.Parse(req.CustomerID)
	serviceID, _ := uuid.Parse(req.ServiceID)
	var providerID *uuid.UUID
	if req.ProviderID != nil {
		id, err := uuid.Parse(*req.ProviderID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid provider_id", Code: "invalid_id"})
			return
		}
		providerID = &id
	}

	b, err := h.bookingService.CreateBooking(r.Context(), service.CreateBookingRequest{
		CustomerID: customerID,
		ServiceID:  serviceID,
		ProviderID: providerID,
		StartAt:    req.StartAt,
		Timezone:   req.Timezone,
		Notes:      req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, FromBooking(b))
}

// Get handles GET /api/v1/bookings/{id}
func (h *BookingController) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid booking id", Code: "invalid_id"})
		return
	}

	b, err := h.bookingService.GetBooking(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromBooking(b))
}

// Cancel handles POST /api/v1/bookings/{id}/cancel
func (h *BookingController) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid booking id", Code: "invalid_id"})
		return
	}

	var req CancelBookingRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}
	actorID, _ := uuid.Parse(req.ActorID)

	b, err := h.bookingService.Cancel(r.Context(), id, actorID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromBooking(b))
}

// Confirm handles POST /api/v1/bookings/{id}/confirm
func (h *BookingController) Confirm(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.bookingService.Confirm)
}

// Start handles POST /api/v1/bookings/{id}/start
func (h *BookingController) Start(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.bookingService.Start)
}

// Complete handles POST /api/v1/bookings/{id}/complete
func (h *BookingController) Complete(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.bookingService.Complete)
}

// NoShow handles POST /api/v1/bookings/{id}/no-show
func (h *BookingController) NoShow(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.bookingService.MarkNoShow)
}

// Slots handles GET /api/v1/services/{id}/slots?date=YYYY-MM-DD&provider_id=
func (h *BookingController) Slots(w http.ResponseWriter, r *http.Request) {
	serviceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid service id", Code: "invalid_id"})
		return
	}

	dateStr := r.URL.Query().Get("date")
	day, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid or missing date, expected YYYY-MM-DD", Code: "invalid_date"})
		return
	}

	var providerID *uuid.UUID
	if raw := r.URL.Query().Get("provider_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid provider_id", Code: "invalid_id"})
			return
		}
		providerID = &id
	}

	slots, err := h.bookingService.AvailableSlots(r.Context(), serviceID, day, providerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SlotsResponse{
		ServiceID: serviceID.String(),
		Date:      dateStr,
		Slots:     slots,
	})
}

func (h *BookingController) simpleTransition(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, id uuid.UUID) (*booking.Booking, error),
) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid booking id", Code: "invalid_id"})
		return
	}

	b, err := fn(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromBooking(b))
}
