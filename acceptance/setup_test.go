package acceptance

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/citywheel/bikeshare-backend/api"
	"github.com/citywheel/bikeshare-backend/bike"
	"github.com/citywheel/bikeshare-backend/customer"
	"github.com/citywheel/bikeshare-backend/internal/auth0"
	"github.com/citywheel/bikeshare-backend/internal/middleware"
	"github.com/citywheel/bikeshare-backend/internal/o11y"
	"github.com/citywheel/bikeshare-backend/inventory"
	"github.com/citywheel/bikeshare-backend/reservation"
	"github.com/citywheel/bikeshare-backend/station"
)

type TestServer struct {
	DB     *sqlx.DB
	Router *gin.Engine
	Auth0  *auth0.FakeClient
}

func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	gin.SetMode(gin.TestMode)

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping acceptance tests")
	}

	db, err := sqlx.Connect("pgx", dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	applySchema(t, db)
	cleanupTestData(t, db)

	br := bike.NewRepository(db)
	sr := station.NewRepository(db)
	cr := customer.NewRepository(db)
	inv := inventory.NewStore(db)
	rr := reservation.NewRepository(db)

	obs, cleanup, err := o11y.Setup(t.Context())
	if err != nil {
		t.Fatalf("failed to set up observability: %v", err)
	}
	t.Cleanup(cleanup)

	engine := reservation.NewEngine(br, sr, inv, rr, obs.Logger)
	fakeAuth := auth0.NewFakeClient()

	a := api.New(br, sr, cr, inv, engine, fakeAuth, obs,
		fakeAuthMiddleware(), "metrics", "metrics")

	ts := &TestServer{
		DB:     db,
		Router: a.Router(),
		Auth0:  fakeAuth,
	}
	t.Cleanup(func() { db.Close() })

	return ts
}

// fakeAuthMiddleware reads the subject from the X-User-ID header instead of
// validating a JWT.
func fakeAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "Authentication required"})
			c.Abort()
			return
		}
		middleware.SetAuth0ID(c, userID)
		c.Next()
	}
}

func applySchema(t *testing.T, db *sqlx.DB) {
	t.Helper()

	schema := []string{
		`CREATE TABLE IF NOT EXISTS stations (
			id uuid PRIMARY KEY,
			name text NOT NULL,
			address text NOT NULL DEFAULT '',
			location point NOT NULL DEFAULT point(0, 0),
			capacity int NOT NULL,
			available_standard_bikes int NOT NULL DEFAULT 0,
			available_electric_bikes int NOT NULL DEFAULT 0,
			active boolean NOT NULL DEFAULT true
		)`,
		`CREATE TABLE IF NOT EXISTS bikes (
			id uuid PRIMARY KEY,
			number text NOT NULL UNIQUE,
			type text NOT NULL,
			status text NOT NULL DEFAULT 'available',
			battery_level int,
			station_id uuid REFERENCES stations (id),
			average_rating double precision NOT NULL DEFAULT 0,
			total_ratings int NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS customers (
			id uuid PRIMARY KEY,
			auth0_id text NOT NULL UNIQUE,
			stripe_id text,
			email text,
			name text,
			plan text NOT NULL DEFAULT 'standard',
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			id uuid PRIMARY KEY,
			bike_id uuid NOT NULL REFERENCES bikes (id),
			customer_id uuid NOT NULL REFERENCES customers (id),
			start_station_id uuid NOT NULL REFERENCES stations (id),
			end_station_id uuid REFERENCES stations (id),
			reservation_time timestamptz NOT NULL,
			start_time timestamptz NOT NULL,
			end_time timestamptz,
			duration_minutes int NOT NULL,
			distance_meters double precision,
			base_rate numeric NOT NULL,
			time_cost numeric NOT NULL,
			discount numeric NOT NULL,
			total_cost numeric NOT NULL,
			status text NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS reservations_open_customer_idx
		ON reservations (customer_id) WHERE status IN ('scheduled', 'active')`,
		`CREATE UNIQUE INDEX IF NOT EXISTS reservations_open_bike_idx
		ON reservations (bike_id) WHERE status IN ('scheduled', 'active')`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to apply schema: %v", err)
		}
	}
}

func cleanupTestData(t *testing.T, db *sqlx.DB) {
	t.Helper()

	for _, table := range []string{"reservations", "bikes", "customers", "stations"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Logf("warning: failed to clean %s: %v", table, err)
		}
	}
}

func (ts *TestServer) GET(path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)
	return w
}

func (ts *TestServer) POST(path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)
	return w
}

func (ts *TestServer) PUT(path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(http.MethodPut, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)
	return w
}

func asUser(userID string) map[string]string {
	return map[string]string{"X-User-ID": userID}
}

// CreateTestStation inserts a station with the given dock layout.
func (ts *TestServer) CreateTestStation(t *testing.T, name string, capacity, standard, electric int) string {
	t.Helper()
	var id string
	err := ts.DB.Get(&id, `
		INSERT INTO stations (id, name, location, capacity, available_standard_bikes, available_electric_bikes)
		VALUES (gen_random_uuid(), $1, point(53.3498, -6.2603), $2, $3, $4)
		RETURNING id
	`, name, capacity, standard, electric)
	if err != nil {
		t.Fatalf("failed to create test station: %v", err)
	}
	return id
}

// CreateTestBike inserts a docked, available bike.
func (ts *TestServer) CreateTestBike(t *testing.T, number, typ string, stationID string) string {
	t.Helper()
	var id string
	err := ts.DB.Get(&id, `
		INSERT INTO bikes (id, number, type, status, station_id)
		VALUES (gen_random_uuid(), $1, $2, 'available', $3)
		RETURNING id
	`, number, typ, stationID)
	if err != nil {
		t.Fatalf("failed to create test bike: %v", err)
	}
	return id
}

// CreateTestCustomer inserts a customer on the given plan.
func (ts *TestServer) CreateTestCustomer(t *testing.T, auth0ID, plan string) string {
	t.Helper()
	var id string
	err := ts.DB.Get(&id, `
		INSERT INTO customers (id, auth0_id, plan)
		VALUES (gen_random_uuid(), $1, $2)
		RETURNING id
	`, auth0ID, plan)
	if err != nil {
		t.Fatalf("failed to create test customer: %v", err)
	}
	return id
}

// StandardCount reads a station's standard bike counter directly.
func (ts *TestServer) StandardCount(t *testing.T, stationID string) int {
	t.Helper()
	var n int
	if err := ts.DB.Get(&n, "SELECT available_standard_bikes FROM stations WHERE id = $1", stationID); err != nil {
		t.Fatalf("failed to read station counter: %v", err)
	}
	return n
}

// BikeStatus reads a bike's status directly.
func (ts *TestServer) BikeStatus(t *testing.T, bikeID string) string {
	t.Helper()
	var status string
	if err := ts.DB.Get(&status, "SELECT status FROM bikes WHERE id = $1", bikeID); err != nil {
		t.Fatalf("failed to read bike status: %v", err)
	}
	return status
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}
