// Package gate authenticates incoming requests and enforces the
// service-access permission before a request reaches the tool surface.
package gate

import (
	"context"
	"net/http"

	"gonggate/internal/token"
	"gonggate/internal/users"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type claimsContextKey struct{}

// WithClaims returns a context carrying verified session claims.
func WithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext extracts session claims placed by Middleware.
// It returns nil when the context carries none.
func ClaimsFromContext(ctx context.Context) *token.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(*token.Claims)
	return claims
}

// Middleware verifies the bearer token and checks that the subject
// still holds the gate permission. Claims travel on the request
// context so downstream handlers never reparse the token.
func Middleware(tokens *token.Service, userSvc *users.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := token.BearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims := tokens.Verify(raw)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		hasAccess, errAccess := userSvc.HasGateAccess(c.Request.Context(), claims.Subject)
		if errAccess != nil {
			log.WithError(errAccess).Error("gate access lookup failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "access check failed"})
			return
		}
		if !hasAccess {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access revoked"})
			return
		}

		c.Request = c.Request.WithContext(WithClaims(c.Request.Context(), claims))
		c.Next()
	}
}
