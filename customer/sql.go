package customer

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db: db,
	}
}

var ErrNotFound = errors.New("customer not found")

func (r *Repository) GetCustomerByAuth0ID(auth0ID string) (*Customer, error) {
	var customer Customer
	err := r.db.Get(&customer, getCustomerByAuth0IDQuery, auth0ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, err
	}
	return &customer, nil
}

const getCustomerByAuth0IDQuery = "SELECT * FROM customers WHERE auth0_id = $1"

func (r *Repository) GetCustomerByID(ctx context.Context, id uuid.UUID) (*Customer, error) {
	var customer Customer
	err := r.db.GetContext(ctx, &customer, getCustomerByIDQuery, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &customer, nil
}

const getCustomerByIDQuery = "SELECT * FROM customers WHERE id = $1"

// CreateCustomer provisions a record the first time an authenticated subject
// shows up. New customers start on the standard plan.
func (r *Repository) CreateCustomer(auth0ID string) (*Customer, error) {
	var customer Customer
	err := r.db.Get(&customer, createCustomerQuery, uuid.New(), auth0ID)
	return &customer, err
}

const createCustomerQuery = "INSERT INTO customers (id, auth0_id, plan) VALUES ($1, $2, 'standard') RETURNING *"

func (r *Repository) AddStripeIDToCustomer(auth0ID, stripeID string) error {
	_, err := r.db.Exec(addStripeIDToCustomerQuery, stripeID, auth0ID)
	return err
}

const addStripeIDToCustomerQuery = "UPDATE customers SET stripe_id = $1 WHERE auth0_id = $2"

func (r *Repository) UpdateProfile(ctx context.Context, auth0ID, email, name string) error {
	_, err := r.db.ExecContext(ctx, updateProfileQuery, email, name, auth0ID)
	return err
}

const updateProfileQuery = `UPDATE customers SET email = NULLIF($1, ''), name = NULLIF($2, '') WHERE auth0_id = $3`

func (r *Repository) SetPlan(ctx context.Context, id uuid.UUID, plan SubscriptionPlan) error {
	_, err := r.db.ExecContext(ctx, setPlanQuery, plan.String(), id)
	return err
}

const setPlanQuery = `UPDATE customers SET plan = $1 WHERE id = $2`
