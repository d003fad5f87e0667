package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/driveshare/reservation-backend/internal/middleware"
	"github.com/driveshare/reservation-backend/internal/models"
	"github.com/driveshare/reservation-backend/internal/pricing"
	"github.com/driveshare/reservation-backend/internal/services"
)

// ReservationHandler handles the booking lifecycle endpoints
type ReservationHandler struct {
	reservationSvc *services.ReservationService
	logger         *logrus.Logger
}

// NewReservationHandler creates a new ReservationHandler
func NewReservationHandler(reservationSvc *services.ReservationService, logger *logrus.Logger) *ReservationHandler {
	return &ReservationHandler{
		reservationSvc: reservationSvc,
		logger:         logger,
	}
}

// respondDomainError maps the domain error taxonomy onto HTTP statuses
func respondDomainError(c *gin.Context, logger *logrus.Logger, err error) {
	var (
		validationErr *models.ValidationError
		conflictErr   *models.ConflictError
		notFoundErr   *models.NotFoundError
		unavailErr    *models.UnavailableError
		forbiddenErr  *models.ForbiddenError
		provErr       *models.ProviderError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"field":   validationErr.Field,
			"message": validationErr.Reason,
		})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":          "dates_unavailable",
			"message":        "The requested dates overlap an existing booking",
			"conflict_start": conflictErr.ConflictStart.Format(models.DateLayout),
			"conflict_end":   conflictErr.ConflictEnd.Format(models.DateLayout),
		})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.As(err, &unavailErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "vehicle_unlisted", "message": err.Error()})
	case errors.As(err, &forbiddenErr):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error()})
	case errors.As(err, &provErr):
		status := http.StatusBadGateway
		if provErr.Kind == models.ProviderTimeout {
			status = http.StatusGatewayTimeout
		}
		logger.WithError(err).Warn("Payment provider failure")
		c.JSON(status, gin.H{
			"error":     "payment_provider_error",
			"message":   "The payment provider could not be reached. Please try again.",
			"retryable": provErr.Retryable(),
		})
	default:
		logger.WithError(err).Error("Unhandled error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Something went wrong"})
	}
}

// CreateReservation creates a new reservation
// @Summary Create a reservation
// @Description Reserve a vehicle for a half-open date range [start_date, end_date)
// @Tags Reservations
// @Accept json
// @Produce json
// @Param request body models.CreateReservationRequest true "Reservation request"
// @Success 201 {object} models.BookingResponse "Reservation created"
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Failure 409 {object} map[string]interface{} "Dates unavailable"
// @Failure 422 {object} map[string]interface{} "Vehicle not listed"
// @Security BearerAuth
// @Router /api/v1/reservations [post]
func (h *ReservationHandler) CreateReservation(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req models.CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	booking, err := h.reservationSvc.CreateReservation(c.Request.Context(), userCtx.UserID, &req)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, services.ToBookingResponse(booking))
}

// GetReservation returns one reservation
// @Summary Get a reservation
// @Tags Reservations
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} models.BookingResponse
// @Failure 404 {object} map[string]interface{} "Not found"
// @Security BearerAuth
// @Router /api/v1/reservations/{id} [get]
func (h *ReservationHandler) GetReservation(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid booking ID"})
		return
	}

	booking, err := h.reservationSvc.GetBooking(c.Request.Context(), bookingID, userCtx.UserID)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, services.ToBookingResponse(booking))
}

// CancelReservation cancels a reservation
// @Summary Cancel a reservation
// @Description Cancel a pending or confirmed reservation. Cancelling an already settled reservation is a no-op.
// @Tags Reservations
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} models.BookingResponse "Current state after cancellation"
// @Failure 403 {object} map[string]interface{} "Not the renter or owner"
// @Failure 404 {object} map[string]interface{} "Not found"
// @Security BearerAuth
// @Router /api/v1/reservations/{id} [delete]
func (h *ReservationHandler) CancelReservation(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid booking ID"})
		return
	}

	booking, err := h.reservationSvc.CancelReservation(c.Request.Context(), bookingID, userCtx.UserID)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, services.ToBookingResponse(booking))
}

// OpenPaymentSession opens a provider checkout session for a pending booking
// @Summary Open a payment session
// @Description Open a checkout session with the chosen provider. Idempotent while a session is already open.
// @Tags Reservations
// @Accept json
// @Produce json
// @Param id path string true "Booking ID"
// @Param request body models.OpenPaymentSessionRequest true "Provider selection"
// @Success 201 {object} models.PaymentSessionResponse
// @Failure 400 {object} map[string]interface{} "Invalid request or booking not pending"
// @Failure 502 {object} map[string]interface{} "Provider unavailable"
// @Security BearerAuth
// @Router /api/v1/reservations/{id}/payment-session [post]
func (h *ReservationHandler) OpenPaymentSession(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid booking ID"})
		return
	}

	var req models.OpenPaymentSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	session, err := h.reservationSvc.OpenPaymentSession(c.Request.Context(), bookingID, userCtx.UserID, req.Provider)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, models.PaymentSessionResponse{
		SessionID:   session.ID,
		Provider:    session.Provider,
		RedirectURL: session.RedirectURL,
		Amount:      pricing.FormatAmount(session.AmountCents),
		Currency:    session.Currency,
	})
}

// GetAuditTrail returns the booking's transition history
// @Summary Get a reservation's audit trail
// @Tags Reservations
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /api/v1/reservations/{id}/audits [get]
func (h *ReservationHandler) GetAuditTrail(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid booking ID"})
		return
	}

	audits, err := h.reservationSvc.GetAuditTrail(c.Request.Context(), bookingID, userCtx.UserID)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"booking_id": bookingID, "audits": audits})
}

// CheckAvailability reports whether a vehicle is free for a date range
// @Summary Check vehicle availability
// @Tags Vehicles
// @Produce json
// @Param id path string true "Vehicle ID"
// @Param start_date query string true "Start date (YYYY-MM-DD)"
// @Param end_date query string true "End date, exclusive (YYYY-MM-DD)"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/vehicles/{id}/availability [get]
func (h *ReservationHandler) CheckAvailability(c *gin.Context) {
	vehicleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	start, err := time.Parse(models.DateLayout, c.Query("start_date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must be YYYY-MM-DD"})
		return
	}
	end, err := time.Parse(models.DateLayout, c.Query("end_date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must be YYYY-MM-DD"})
		return
	}

	conflict, err := h.reservationSvc.CheckAvailability(c.Request.Context(), vehicleID, start, end)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	if conflict == nil {
		c.JSON(http.StatusOK, gin.H{"available": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"available":      false,
		"conflict_start": conflict.StartDate.Format(models.DateLayout),
		"conflict_end":   conflict.EndDate.Format(models.DateLayout),
	})
}
