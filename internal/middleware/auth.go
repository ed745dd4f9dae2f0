package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/monocle-dev/relay/internal/auth"
	"github.com/monocle-dev/relay/internal/types"
)

type AuthenticatedUser struct {
	ID             uint   `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	OrganizationID uint   `json:"organization_id,omitempty"`
}

// AuthMiddleware accepts the token from the Authorization header, the token
// cookie, or the token query parameter, in that order. Browsers cannot set
// headers on a WebSocket handshake, hence the fallbacks.
func AuthMiddleware(tokens *auth.TokenManager) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenString, ok := extractToken(ctx)

		if !ok {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token is required"})
			return
		}

		claims, err := tokens.Verify(tokenString)

		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		ctx.Set(types.ContextUserKey, AuthenticatedUser{
			ID:             claims.UserID,
			Name:           claims.Name,
			Email:          claims.Email,
			OrganizationID: claims.OrganizationID,
		})
		ctx.Next()
	}
}

// WebhookAuth guards server-to-server endpoints with a shared secret.
func WebhookAuth(secret string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		provided := ctx.GetHeader(types.WebhookSecretHeader)

		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook secret"})
			return
		}

		ctx.Next()
	}
}

func extractToken(ctx *gin.Context) (string, bool) {
	if authHeader := ctx.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}

	if cookie, err := ctx.Cookie(types.TokenCookieName); err == nil && cookie != "" {
		return cookie, true
	}

	if token := ctx.Query(types.TokenQueryParam); token != "" {
		return token, true
	}

	return "", false
}
