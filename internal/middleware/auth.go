package middleware

import (
	"context"
	"net/http"
	"strings"

	"authservice/internal/domain"
	"authservice/internal/pkg/jwt"
	"authservice/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// Identity is the authenticated caller, taken from a verified access token.
type Identity struct {
	UserID string
	Email  string
	Role   domain.UserRole
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// JWTAuth requires "Authorization: Bearer <access token>" and stores the
// caller's Identity in the request context.
func JWTAuth(tokens *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			response.Abort(c, http.StatusUnauthorized, "AUTH_HEADER_MISSING", "Missing Authorization header")
			return
		}

		scheme, tokenStr, found := strings.Cut(h, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tokenStr) == "" {
			response.Abort(c, http.StatusUnauthorized, "INVALID_AUTH_FORMAT", "Authorization header must be: Bearer <token>")
			return
		}

		claims, err := tokens.Verify(strings.TrimSpace(tokenStr))
		if err != nil {
			response.Abort(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
			return
		}

		id := Identity{
			UserID: claims.Subject,
			Email:  claims.Email,
			Role:   domain.UserRole(claims.Role),
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))

		c.Next()
	}
}
