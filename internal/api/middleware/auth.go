package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/danghamo/passport/internal/api/jsonrpcx"
	"github.com/danghamo/passport/internal/auth"
	"github.com/danghamo/passport/pkg/logger"
)

// UserContextKey is the key for storing user info in request context
type UserContextKey string

const (
	// UserIDContextKey stores the user ID in context
	UserIDContextKey UserContextKey = "user_id"
	// UserEmailContextKey stores the user email in context
	UserEmailContextKey UserContextKey = "user_email"
	// UserAnonymousContextKey stores the anonymous flag in context
	UserAnonymousContextKey UserContextKey = "user_anonymous"
)

var errMissingBearer = errors.New("missing or malformed bearer token")

// AuthMiddleware provides JWT authentication middleware
type AuthMiddleware struct {
	tokenService *auth.TokenService
	logger       *logger.Logger
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(tokenService *auth.TokenService, logger *logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
		logger:       logger.WithComponent("auth-middleware"),
	}
}

// RequireAuth returns a middleware that requires a valid session token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.claimsFromRequest(r)
		if err != nil {
			m.logger.Debug("JWT authentication failed", zap.Error(err))
			jsonrpcx.Error(w, nil, jsonrpcx.InvalidRequest, "Invalid or missing session token")
			return
		}

		m.logger.Debug("JWT authentication successful",
			zap.String("userId", claims.UserID),
			zap.Bool("anonymous", claims.IsAnonymous))

		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

func (m *AuthMiddleware) claimsFromRequest(r *http.Request) (*auth.TokenClaims, error) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, errMissingBearer
	}

	return m.tokenService.Validate(parts[1])
}

func withClaims(ctx context.Context, claims *auth.TokenClaims) context.Context {
	ctx = context.WithValue(ctx, UserIDContextKey, claims.UserID)
	ctx = context.WithValue(ctx, UserEmailContextKey, claims.Email)
	ctx = context.WithValue(ctx, UserAnonymousContextKey, claims.IsAnonymous)
	return ctx
}

// GetUserID extracts user ID from request context
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDContextKey).(string)
	return userID, ok
}

// IsAnonymousUser reports whether the request carries an anonymous session
func IsAnonymousUser(ctx context.Context) bool {
	anonymous, ok := ctx.Value(UserAnonymousContextKey).(bool)
	return ok && anonymous
}
