package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/citywheel/bikeshare-backend/bike"
	"github.com/citywheel/bikeshare-backend/internal/middleware"
	"github.com/citywheel/bikeshare-backend/inventory"
	"github.com/citywheel/bikeshare-backend/station"
)

type bikeResponse struct {
	ID            uuid.UUID   `json:"id"`
	Number        string      `json:"number"`
	Type          bike.Type   `json:"type"`
	Status        bike.Status `json:"status"`
	BatteryLevel  *int        `json:"batteryLevel,omitempty"`
	StationID     *uuid.UUID  `json:"stationId,omitempty"`
	AverageRating float64     `json:"averageRating"`
	TotalRatings  int         `json:"totalRatings"`
}

func toBikeResponse(b bike.Bike) bikeResponse {
	return bikeResponse{
		ID:            b.ID,
		Number:        b.Number,
		Type:          b.Type,
		Status:        b.Status,
		BatteryLevel:  b.BatteryLevel,
		StationID:     b.StationID,
		AverageRating: b.AverageRating,
		TotalRatings:  b.TotalRatings,
	}
}

func (a *API) bikesHandler(c *gin.Context) {
	bikes, err := a.br.GetBikes(c)
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}

	responses := make([]bikeResponse, 0, len(bikes))
	for _, b := range bikes {
		responses = append(responses, toBikeResponse(b))
	}
	c.JSON(200, responses)
}

// bikeHandler accepts either the internal UUID or the frame number riders
// scan off the bike.
func (a *API) bikeHandler(c *gin.Context) {
	param := c.Param("id")

	var b bike.Bike
	var err error
	if _, parseErr := uuid.Parse(param); parseErr == nil {
		b, err = a.br.GetBikeByID(c, param)
	} else {
		b, err = a.br.GetBike(c, param)
	}
	if err != nil {
		if errors.Is(err, bike.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "BIKE_NOT_FOUND", "message": "Bike not found"})
			return
		}
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}

	c.JSON(200, toBikeResponse(b))
}

type addBikeRequest struct {
	Number string `json:"number" binding:"required"`
	Type   string `json:"type" binding:"required"`
}

// addBikeHandler registers a new bike at a station, or moves an existing
// docked bike there.
func (a *API) addBikeHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	if _, ok := a.currentCustomer(c); !ok {
		return
	}

	stationID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req addBikeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	var typ bike.Type
	switch req.Type {
	case "standard":
		typ = bike.Standard
	case "electric":
		typ = bike.Electric
	default:
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Type must be standard or electric"})
		return
	}

	b, err := a.inv.AddBikeToStation(c, req.Number, typ, stationID)
	if err != nil {
		switch {
		case errors.Is(err, station.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"code": "STATION_NOT_FOUND", "message": "Station not found"})
		case errors.Is(err, inventory.ErrStationFull):
			c.JSON(http.StatusConflict, gin.H{"code": "STATION_FULL", "message": "Station has no spare docks"})
		case errors.Is(err, inventory.ErrStationInactive):
			c.JSON(http.StatusConflict, gin.H{"code": "STATION_INACTIVE", "message": "Station is not active"})
		case errors.Is(err, bike.ErrNotAvailable):
			c.JSON(http.StatusConflict, gin.H{"code": "BIKE_NOT_AVAILABLE", "message": "Bike cannot be moved right now"})
		default:
			logger.ErrorContext(c, "failed to add bike to station", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	c.JSON(http.StatusCreated, toBikeResponse(b))
}
