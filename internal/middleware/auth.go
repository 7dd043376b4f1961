package middleware

import (
	"net/http"
	"net/url"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gin-gonic/gin"
	adapter "github.com/gwatts/gin-adapter"
)

// auth0IDKey is the gin context key used when a test middleware injects the
// subject directly instead of going through JWT validation.
const auth0IDKey = "auth0ID"

// JWT validates bearer tokens against the tenant's JWKS and rejects requests
// without a valid token.
func JWT(domain, audience string) gin.HandlerFunc {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		panic("invalid auth0 domain: " + err.Error())
	}

	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)

	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{audience},
	)
	if err != nil {
		panic("failed to set up jwt validator: " + err.Error())
	}

	m := jwtmiddleware.New(
		jwtValidator.ValidateToken,
		jwtmiddleware.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code":"UNAUTHORIZED","message":"Authentication required"}`))
		}),
	)

	return adapter.Wrap(m.CheckJWT)
}

// GetAuth0ID extracts the authenticated subject from the request. It checks
// the gin context first so test middlewares can bypass JWT validation, then
// falls back to the validated claims.
func GetAuth0ID(c *gin.Context) (string, bool) {
	if v, ok := c.Get(auth0IDKey); ok {
		return v.(string), true
	}

	claims, ok := c.Request.Context().Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims)
	if !ok {
		return "", false
	}

	return claims.RegisteredClaims.Subject, true
}

// SetAuth0ID injects a subject for handlers downstream. Test use only.
func SetAuth0ID(c *gin.Context, auth0ID string) {
	c.Set(auth0IDKey, auth0ID)
}
