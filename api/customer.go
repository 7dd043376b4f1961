package api

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/citywheel/bikeshare-backend/customer"
	"github.com/citywheel/bikeshare-backend/internal/middleware"
)

type profileResponse struct {
	ID    uuid.UUID                 `json:"id"`
	Email string                    `json:"email"`
	Name  string                    `json:"name"`
	Plan  customer.SubscriptionPlan `json:"plan"`
}

// getProfileHandler returns the caller's customer record. A record missing
// email or name is backfilled from the identity provider's userinfo endpoint.
func (a *API) getProfileHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	cust, ok := a.currentCustomer(c)
	if !ok {
		return
	}

	if !cust.Email.Valid || !cust.Name.Valid {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		info, err := a.auth.GetUserInfo(c, token)
		if err != nil {
			logger.WarnContext(c, "failed to fetch user info", "error", err)
		} else {
			if err := a.cr.UpdateProfile(c, cust.Auth0ID, info.Email, info.Name); err != nil {
				logger.ErrorContext(c, "failed to update profile", "error", err)
			} else {
				cust.Email = sql.NullString{String: info.Email, Valid: info.Email != ""}
				cust.Name = sql.NullString{String: info.Name, Valid: info.Name != ""}
			}
		}
	}

	c.JSON(http.StatusOK, profileResponse{
		ID:    cust.ID,
		Email: cust.Email.String,
		Name:  cust.Name.String,
		Plan:  cust.Plan,
	})
}

type setPlanRequest struct {
	Plan string `json:"plan" binding:"required"`
}

func (a *API) setPlanHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	cust, ok := a.currentCustomer(c)
	if !ok {
		return
	}

	var req setPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	var plan customer.SubscriptionPlan
	switch req.Plan {
	case "standard":
		plan = customer.PlanStandard
	case "premium":
		plan = customer.PlanPremium
	default:
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Plan must be standard or premium"})
		return
	}

	if err := a.cr.SetPlan(c, cust.ID, plan); err != nil {
		logger.ErrorContext(c, "failed to set plan", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, profileResponse{
		ID:    cust.ID,
		Email: cust.Email.String,
		Name:  cust.Name.String,
		Plan:  plan,
	})
}
