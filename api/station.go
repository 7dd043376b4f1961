package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/citywheel/bikeshare-backend/internal/middleware"
	"github.com/citywheel/bikeshare-backend/station"
)

type stationResponse struct {
	ID                     uuid.UUID `json:"id"`
	Name                   string    `json:"name"`
	Address                string    `json:"address"`
	Lat                    float64   `json:"latitude"`
	Lng                    float64   `json:"longitude"`
	Capacity               int       `json:"capacity"`
	AvailableStandardBikes int       `json:"availableStandardBikes"`
	AvailableElectricBikes int       `json:"availableElectricBikes"`
	Active                 bool      `json:"active"`
}

func toStationResponse(s station.Station) stationResponse {
	return stationResponse{
		ID:                     s.ID,
		Name:                   s.Name,
		Address:                s.Address,
		Lat:                    s.Latitude(),
		Lng:                    s.Longitude(),
		Capacity:               s.Capacity,
		AvailableStandardBikes: s.AvailableStandardBikes,
		AvailableElectricBikes: s.AvailableElectricBikes,
		Active:                 s.Active,
	}
}

func (a *API) stationsHandler(c *gin.Context) {
	stations, err := a.sr.GetStations(c)
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}

	var stationResponses []stationResponse
	for _, s := range stations {
		stationResponses = append(stationResponses, toStationResponse(s))
	}
	c.JSON(200, stationResponses)
}

func (a *API) stationHandler(c *gin.Context) {
	id := c.Param("id")

	s, err := a.sr.GetStation(c, id)
	if err != nil {
		if errors.Is(err, station.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "STATION_NOT_FOUND", "message": "Station not found"})
			return
		}
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}

	c.JSON(200, toStationResponse(s))
}

func (a *API) stationBikesHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id := c.Param("id")
	if _, err := a.sr.GetStation(c, id); err != nil {
		if errors.Is(err, station.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "STATION_NOT_FOUND", "message": "Station not found"})
			return
		}
		logger.ErrorContext(c, "failed to get station", "error", err)
		c.JSON(500, gin.H{"error": "internal error"})
		return
	}

	bikes, err := a.br.GetBikesAtStation(c, id)
	if err != nil {
		logger.ErrorContext(c, "failed to get bikes at station", "error", err)
		c.JSON(500, gin.H{"error": "internal error"})
		return
	}

	responses := make([]bikeResponse, 0, len(bikes))
	for _, b := range bikes {
		responses = append(responses, toBikeResponse(b))
	}
	c.JSON(200, responses)
}
