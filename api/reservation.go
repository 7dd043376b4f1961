package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	stripecustomer "github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/invoice"

	"github.com/citywheel/bikeshare-backend/bike"
	"github.com/citywheel/bikeshare-backend/customer"
	"github.com/citywheel/bikeshare-backend/internal/middleware"
	"github.com/citywheel/bikeshare-backend/inventory"
	"github.com/citywheel/bikeshare-backend/reservation"
	"github.com/citywheel/bikeshare-backend/station"
)

type reservationResponse struct {
	ID              uuid.UUID  `json:"id"`
	BikeID          uuid.UUID  `json:"bikeId"`
	StartStationID  uuid.UUID  `json:"startStationId"`
	EndStationID    *uuid.UUID `json:"endStationId,omitempty"`
	ReservationTime time.Time  `json:"reservationTime"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	DurationMinutes int        `json:"durationMinutes"`
	DistanceMeters  *float64   `json:"distanceMeters,omitempty"`

	BaseRate  decimal.Decimal `json:"baseRate"`
	TimeCost  decimal.Decimal `json:"timeCost"`
	Discount  decimal.Decimal `json:"discount"`
	TotalCost decimal.Decimal `json:"totalCost"`

	Status reservation.Status `json:"status"`
}

func toReservationResponse(res reservation.Reservation) reservationResponse {
	r := reservationResponse{
		ID:              res.ID,
		BikeID:          res.BikeID,
		StartStationID:  res.StartStationID,
		EndStationID:    res.EndStationID,
		ReservationTime: res.ReservationTime,
		StartTime:       res.StartTime,
		DurationMinutes: res.DurationMinutes,
		BaseRate:        res.BaseRate,
		TimeCost:        res.TimeCost,
		Discount:        res.Discount,
		TotalCost:       res.TotalCost,
		Status:          res.Status,
	}
	if res.EndTime.Valid {
		r.EndTime = &res.EndTime.Time
	}
	if res.DistanceMeters.Valid {
		r.DistanceMeters = &res.DistanceMeters.Float64
	}
	return r
}

type createReservationRequest struct {
	BikeID          string `json:"bikeId" binding:"required"`
	StationID       string `json:"stationId" binding:"required"`
	DurationMinutes int    `json:"durationMinutes" binding:"required"`
}

func (a *API) createReservationHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	cust, ok := a.currentCustomer(c)
	if !ok {
		return
	}

	var req createReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	res, err := a.engine.Create(c, reservation.CreateCommand{
		BikeID:          req.BikeID,
		StationID:       req.StationID,
		DurationMinutes: req.DurationMinutes,
		Customer:        cust,
	})
	if err != nil {
		reservationsTotal.WithLabelValues("rejected").Inc()
		switch {
		case errors.Is(err, bike.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"code": "BIKE_NOT_FOUND", "message": "Bike not found"})
		case errors.Is(err, station.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"code": "STATION_NOT_FOUND", "message": "Station not found"})
		case errors.Is(err, bike.ErrNotAvailable):
			c.JSON(http.StatusConflict, gin.H{"code": "BIKE_NOT_AVAILABLE", "message": "Bike is not available"})
		case errors.Is(err, reservation.ErrBikeNotAtStation):
			c.JSON(http.StatusConflict, gin.H{"code": "BIKE_NOT_AT_STATION", "message": "Bike is not at the specified station"})
		case errors.Is(err, reservation.ErrOpenReservation):
			c.JSON(http.StatusConflict, gin.H{"code": "OPEN_RESERVATION", "message": "Customer already has an open reservation"})
		case errors.Is(err, reservation.ErrInvalidDuration):
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_DURATION",
				"message": fmt.Sprintf("Duration must be at least %d minutes", reservation.MinimumDurationMinutes)})
		case errors.Is(err, inventory.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{"code": "CONFLICT", "message": "Try again"})
		default:
			logger.ErrorContext(c, "failed to create reservation", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	reservationsTotal.WithLabelValues("created").Inc()
	c.JSON(http.StatusCreated, toReservationResponse(res))
}

type endReservationRequest struct {
	StationID string `json:"stationId" binding:"required"`
}

func (a *API) endReservationHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	cust, ok := a.currentCustomer(c)
	if !ok {
		return
	}

	reservationID, ok := parseUUIDParam(c, "reservationId")
	if !ok {
		return
	}

	var req endReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	res, err := a.engine.EndRental(c, reservationID, req.StationID, cust)
	if err != nil {
		a.endRentalError(c, err)
		return
	}

	reservationsTotal.WithLabelValues("completed").Inc()

	// Billing is configured per environment; without a key the ride record
	// alone is the statement of what is owed.
	if stripe.Key != "" {
		go a.invoiceReservation(logger, cust, res)
	}

	c.JSON(http.StatusOK, toReservationResponse(res))
}

func (a *API) endRentalError(c *gin.Context, err error) {
	logger := middleware.GetLogger(c)

	switch {
	case errors.Is(err, reservation.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "RESERVATION_NOT_FOUND", "message": "Reservation not found"})
	case errors.Is(err, reservation.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"code": "NOT_AUTHORIZED", "message": "Not authorized to modify this reservation"})
	case errors.Is(err, reservation.ErrNotActive):
		c.JSON(http.StatusConflict, gin.H{"code": "NOT_ACTIVE", "message": "Reservation is not active"})
	case errors.Is(err, station.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "STATION_NOT_FOUND", "message": "Station not found"})
	case errors.Is(err, inventory.ErrStationFull):
		c.JSON(http.StatusConflict, gin.H{"code": "STATION_FULL", "message": "Return station has no spare docks"})
	case errors.Is(err, inventory.ErrStationInactive):
		c.JSON(http.StatusConflict, gin.H{"code": "STATION_INACTIVE", "message": "Return station is not active"})
	case errors.Is(err, inventory.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"code": "CONFLICT", "message": "Try again"})
	default:
		logger.ErrorContext(c, "failed to end rental", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (a *API) cancelReservationHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	cust, ok := a.currentCustomer(c)
	if !ok {
		return
	}

	reservationID, ok := parseUUIDParam(c, "reservationId")
	if !ok {
		return
	}

	res, err := a.engine.Cancel(c, reservationID, cust)
	if err != nil {
		switch {
		case errors.Is(err, reservation.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"code": "RESERVATION_NOT_FOUND", "message": "Reservation not found"})
		case errors.Is(err, reservation.ErrNotAuthorized):
			c.JSON(http.StatusForbidden, gin.H{"code": "NOT_AUTHORIZED", "message": "Not authorized to modify this reservation"})
		case errors.Is(err, reservation.ErrAlreadyFinished):
			c.JSON(http.StatusConflict, gin.H{"code": "ALREADY_FINISHED", "message": "Reservation already completed or cancelled"})
		case errors.Is(err, inventory.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{"code": "CONFLICT", "message": "Try again"})
		default:
			logger.ErrorContext(c, "failed to cancel reservation", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	reservationsTotal.WithLabelValues("cancelled").Inc()
	c.JSON(http.StatusOK, toReservationResponse(res))
}

func (a *API) activateReservationHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	cust, ok := a.currentCustomer(c)
	if !ok {
		return
	}

	reservationID, ok := parseUUIDParam(c, "reservationId")
	if !ok {
		return
	}

	res, err := a.engine.Activate(c, reservationID, cust)
	if err != nil {
		switch {
		case errors.Is(err, reservation.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"code": "RESERVATION_NOT_FOUND", "message": "Reservation not found"})
		case errors.Is(err, reservation.ErrNotAuthorized):
			c.JSON(http.StatusForbidden, gin.H{"code": "NOT_AUTHORIZED", "message": "Not authorized to modify this reservation"})
		case errors.Is(err, reservation.ErrNotScheduled):
			c.JSON(http.StatusConflict, gin.H{"code": "NOT_SCHEDULED", "message": "Reservation is not scheduled"})
		case errors.Is(err, reservation.ErrBikeNotAtStation):
			c.JSON(http.StatusConflict, gin.H{"code": "BIKE_NOT_AT_STATION", "message": "Bike is no longer at the start station"})
		case errors.Is(err, bike.ErrNotAvailable):
			c.JSON(http.StatusConflict, gin.H{"code": "BIKE_NOT_AVAILABLE", "message": "Bike is not available"})
		case errors.Is(err, inventory.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{"code": "CONFLICT", "message": "Try again"})
		default:
			logger.ErrorContext(c, "failed to activate reservation", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	c.JSON(http.StatusOK, toReservationResponse(res))
}

func (a *API) activeReservationsHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	cust, ok := a.currentCustomer(c)
	if !ok {
		return
	}

	reservations, err := a.engine.ActiveReservations(c, cust)
	if err != nil {
		logger.ErrorContext(c, "failed to get active reservations", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	responses := make([]reservationResponse, 0, len(reservations))
	for _, res := range reservations {
		responses = append(responses, toReservationResponse(res))
	}
	c.JSON(http.StatusOK, responses)
}

func (a *API) reservationHistoryHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	cust, ok := a.currentCustomer(c)
	if !ok {
		return
	}

	reservations, err := a.engine.History(c, cust)
	if err != nil {
		logger.ErrorContext(c, "failed to get reservation history", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	responses := make([]reservationResponse, 0, len(reservations))
	for _, res := range reservations {
		responses = append(responses, toReservationResponse(res))
	}
	c.JSON(http.StatusOK, responses)
}

// invoiceReservation bills a completed rental through Stripe. Runs detached
// from the request; failures are logged and the ride record stays the source
// of truth for what was owed.
func (a *API) invoiceReservation(logger *slog.Logger, cust *customer.Customer, res reservation.Reservation) {
	ctx := context.Background()
	cents := func(d decimal.Decimal) int64 {
		return d.Mul(decimal.NewFromInt(100)).IntPart()
	}

	// First completed rental for this customer: set them up in Stripe.
	if !cust.StripeID.Valid {
		sc, err := stripecustomer.New(&stripe.CustomerParams{
			Email: stripe.String(cust.Email.String),
			Metadata: map[string]string{
				"auth0_id": cust.Auth0ID,
				"id":       cust.ID.String(),
			},
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to create stripe customer", "customerId", cust.ID, "error", err)
			return
		}
		if err := a.cr.AddStripeIDToCustomer(cust.Auth0ID, sc.ID); err != nil {
			logger.ErrorContext(ctx, "failed to save stripe customer id", "customerId", cust.ID, "error", err)
			return
		}
		cust.StripeID = sql.NullString{String: sc.ID, Valid: true}
	}

	inParams := &stripe.InvoiceParams{
		Customer: stripe.String(cust.StripeID.String),
	}
	in, err := invoice.New(inParams)
	if err != nil {
		logger.ErrorContext(ctx, "failed to create invoice", "reservationId", res.ID, "error", err)
		return
	}

	lines := []*stripe.InvoiceAddLinesLineParams{
		{
			Amount:      stripe.Int64(cents(res.BaseRate)),
			Description: stripe.String("Rental base rate"),
		},
		{
			Amount:      stripe.Int64(cents(res.TimeCost)),
			Description: stripe.String(fmt.Sprintf("Ride - %d minutes", res.DurationMinutes)),
		},
	}
	if res.Discount.IsPositive() {
		lines = append(lines, &stripe.InvoiceAddLinesLineParams{
			Amount:      stripe.Int64(-cents(res.Discount)),
			Description: stripe.String("Premium plan discount"),
		})
	}

	if _, err := invoice.AddLines(in.ID, &stripe.InvoiceAddLinesParams{Lines: lines}); err != nil {
		logger.ErrorContext(ctx, "failed to add lines to invoice", "reservationId", res.ID, "error", err)
		return
	}

	if _, err := invoice.FinalizeInvoice(in.ID, &stripe.InvoiceFinalizeInvoiceParams{}); err != nil {
		logger.ErrorContext(ctx, "failed to finalize invoice", "reservationId", res.ID, "error", err)
		return
	}
	if _, err := invoice.Pay(in.ID, nil); err != nil {
		logger.ErrorContext(ctx, "failed to pay invoice", "reservationId", res.ID, "error", err)
	}
}
