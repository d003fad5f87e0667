package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/driveshare/reservation-backend/internal/database"
	"github.com/driveshare/reservation-backend/internal/middleware"
	"github.com/driveshare/reservation-backend/internal/models"
	"github.com/driveshare/reservation-backend/internal/pricing"
)

// VehicleHandler handles host vehicle listing operations
type VehicleHandler struct {
	vehicleRepo *database.VehicleRepository
	logger      *logrus.Logger
}

// NewVehicleHandler creates a new VehicleHandler
func NewVehicleHandler(vehicleRepo *database.VehicleRepository, logger *logrus.Logger) *VehicleHandler {
	return &VehicleHandler{
		vehicleRepo: vehicleRepo,
		logger:      logger,
	}
}

// CreateVehicle lists a new vehicle
// @Summary List a vehicle
// @Tags Vehicles
// @Accept json
// @Produce json
// @Param request body models.CreateVehicleRequest true "Vehicle listing"
// @Success 201 {object} models.Vehicle
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Security BearerAuth
// @Router /api/v1/vehicles [post]
func (h *VehicleHandler) CreateVehicle(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req models.CreateVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	rateCents, err := pricing.ParseAmount(req.NightlyRate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nightly_rate must be a decimal amount like 75.00"})
		return
	}
	if rateCents <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nightly_rate must be positive"})
		return
	}

	vehicle := &models.Vehicle{
		ID:               uuid.New(),
		OwnerID:          userCtx.UserID,
		NightlyRateCents: rateCents,
		Currency:         req.Currency,
		Location:         req.Location,
		Timezone:         req.Timezone,
		IsListed:         true,
	}

	if err := h.vehicleRepo.Create(c.Request.Context(), vehicle); err != nil {
		h.logger.WithError(err).Error("Failed to create vehicle")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create vehicle"})
		return
	}

	c.JSON(http.StatusCreated, vehicle)
}

// GetVehicle returns one vehicle
// @Summary Get a vehicle
// @Tags Vehicles
// @Produce json
// @Param id path string true "Vehicle ID"
// @Success 200 {object} models.Vehicle
// @Failure 404 {object} map[string]interface{} "Not found"
// @Router /api/v1/vehicles/{id} [get]
func (h *VehicleHandler) GetVehicle(c *gin.Context) {
	vehicleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	vehicle, err := h.vehicleRepo.GetByID(c.Request.Context(), vehicleID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load vehicle")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load vehicle"})
		return
	}
	if vehicle == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not found"})
		return
	}

	c.JSON(http.StatusOK, vehicle)
}

// UpdateVehicle partially updates a vehicle listing
// @Summary Update a vehicle
// @Tags Vehicles
// @Accept json
// @Produce json
// @Param id path string true "Vehicle ID"
// @Param request body models.UpdateVehicleRequest true "Fields to update"
// @Success 200 {object} models.Vehicle
// @Failure 403 {object} map[string]interface{} "Not the owner"
// @Security BearerAuth
// @Router /api/v1/vehicles/{id} [patch]
func (h *VehicleHandler) UpdateVehicle(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	vehicleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	existing, err := h.vehicleRepo.GetByID(c.Request.Context(), vehicleID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load vehicle")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load vehicle"})
		return
	}
	if existing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not found"})
		return
	}
	if existing.OwnerID != userCtx.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the owner may update a vehicle"})
		return
	}

	var req models.UpdateVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	var rateCents *int64
	if req.NightlyRate != nil {
		cents, err := pricing.ParseAmount(*req.NightlyRate)
		if err != nil || cents <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "nightly_rate must be a positive decimal amount"})
			return
		}
		rateCents = &cents
	}

	updated, err := h.vehicleRepo.Update(c.Request.Context(), vehicleID, rateCents, req.Location, req.Timezone, req.IsListed)
	if err != nil {
		h.logger.WithError(err).Error("Failed to update vehicle")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update vehicle"})
		return
	}

	c.JSON(http.StatusOK, updated)
}

// ListMyVehicles returns the caller's listings
// @Summary List my vehicles
// @Tags Vehicles
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /api/v1/vehicles/mine [get]
func (h *VehicleHandler) ListMyVehicles(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	vehicles, err := h.vehicleRepo.ListByOwner(c.Request.Context(), userCtx.UserID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list vehicles")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list vehicles"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"vehicles": vehicles, "count": len(vehicles)})
}
