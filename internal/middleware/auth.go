package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"CapIot.occupancy/internal/models"
	"CapIot.occupancy/internal/utils"
	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/validator"
)

// NewJWTAuth returns middleware that requires a bearer token signed with
// HS256 using secret, issued by issuer for audience.
func NewJWTAuth(secret, issuer, audience string, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	keyFunc := func(ctx context.Context) (interface{}, error) {
		return []byte(secret), nil
	}

	jwtValidator, err := validator.New(
		keyFunc,
		validator.HS256,
		issuer,
		[]string{audience},
		validator.WithAllowedClockSkew(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set up the JWT validator: %w", err)
	}

	mw := jwtmiddleware.New(
		jwtValidator.ValidateToken,
		jwtmiddleware.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("JWT authentication failed", "path", r.URL.Path, "error", err)
			utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeUnauthorized, "Invalid token", http.StatusUnauthorized))
		}),
	)
	return mw.CheckJWT, nil
}
