package api

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/citywheel/bikeshare-backend/bike"
	"github.com/citywheel/bikeshare-backend/customer"
	"github.com/citywheel/bikeshare-backend/internal/auth0"
	"github.com/citywheel/bikeshare-backend/internal/middleware"
	"github.com/citywheel/bikeshare-backend/internal/o11y"
	"github.com/citywheel/bikeshare-backend/inventory"
	"github.com/citywheel/bikeshare-backend/reservation"
	"github.com/citywheel/bikeshare-backend/station"
)

var reservationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "reservations_total",
		Help: "Reservation operations by outcome",
	},
	[]string{"outcome"},
)

type API struct {
	r      *gin.Engine
	br     *bike.Repository
	sr     *station.Repository
	cr     *customer.Repository
	inv    *inventory.Store
	engine *reservation.Engine
	auth   auth0.Client
}

// New builds the router. The authn middleware guards every route that needs a
// user; production passes middleware.JWT, tests pass a fake.
func New(br *bike.Repository, sr *station.Repository, cr *customer.Repository,
	inv *inventory.Store, engine *reservation.Engine, auth auth0.Client,
	obs *o11y.Observability, authn gin.HandlerFunc,
	metricsUsername, metricsPassword string) *API {

	a := &API{
		r:      gin.New(),
		br:     br,
		sr:     sr,
		cr:     cr,
		inv:    inv,
		engine: engine,
		auth:   auth,
	}

	a.r.Use(gin.Recovery())
	a.r.Use(middleware.Tracing())
	a.r.Use(middleware.Logging(obs.Logger))
	a.r.Use(middleware.Metrics(obs.Registry))

	obs.Registry.MustRegister(reservationsTotal)

	a.r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	a.r.GET("/stations", a.stationsHandler)
	a.r.GET("/stations/:id", a.stationHandler)
	a.r.GET("/stations/:id/bikes", a.stationBikesHandler)
	a.r.GET("/bikes", a.bikesHandler)
	a.r.GET("/bikes/:id", a.bikeHandler)

	// gin.BasicAuth rejects empty usernames, so the scrape endpoint only
	// exists when credentials are configured.
	if metricsUsername != "" {
		metrics := a.r.Group("/metrics", gin.BasicAuth(gin.Accounts{
			metricsUsername: metricsPassword,
		}))
		metrics.GET("", gin.WrapH(promhttp.HandlerFor(obs.Registry, promhttp.HandlerOpts{})))
	}

	protected := a.r.Group("/")
	protected.Use(authn)
	{
		protected.GET("/me", a.getProfileHandler)
		protected.PUT("/me/plan", a.setPlanHandler)

		protected.POST("/stations/:id/bikes", a.addBikeHandler)

		protected.POST("/reservations", a.createReservationHandler)
		protected.GET("/reservations/active", a.activeReservationsHandler)
		protected.GET("/reservations/history", a.reservationHistoryHandler)
		protected.POST("/reservations/:reservationId/end", a.endReservationHandler)
		protected.POST("/reservations/:reservationId/cancel", a.cancelReservationHandler)
		protected.POST("/reservations/:reservationId/activate", a.activateReservationHandler)
	}

	return a
}

func (a *API) Router() *gin.Engine {
	return a.r
}

// currentCustomer resolves the authenticated subject to a customer record,
// provisioning one on first contact.
func (a *API) currentCustomer(c *gin.Context) (*customer.Customer, bool) {
	logger := middleware.GetLogger(c)

	auth0ID, ok := middleware.GetAuth0ID(c)
	if !ok {
		c.JSON(401, gin.H{"code": "UNAUTHORIZED", "message": "Authentication required"})
		return nil, false
	}

	cust, err := a.cr.GetCustomerByAuth0ID(auth0ID)
	if err != nil {
		if err != customer.ErrNotFound {
			logger.ErrorContext(c, "failed to get customer", "error", err)
			c.JSON(500, gin.H{"error": "internal error"})
			return nil, false
		}
		cust, err = a.cr.CreateCustomer(auth0ID)
		if err != nil {
			logger.ErrorContext(c, "failed to create customer", "error", err)
			c.JSON(500, gin.H{"error": "internal error"})
			return nil, false
		}
	}

	return cust, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(400, gin.H{"code": "INVALID_REQUEST", "message": "Invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}
