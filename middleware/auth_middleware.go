package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/oberliner3/jhnyc-sub000/utils"
)

const (
	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"
)

// tokenFromRequest reads the JWT from the jwt_token cookie or a Bearer
// Authorization header.
func tokenFromRequest(c *gin.Context) string {
	if token, err := c.Cookie("jwt_token"); err == nil && token != "" {
		return token
	}
	return strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
}

// AuthRequired rejects requests without a valid JWT. A request carrying the
// configured default key in X-API-KEY is let through without a user.
func AuthRequired(defaultKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if defaultKey != "" && c.GetHeader("X-API-KEY") == defaultKey {
			c.Next()
			return
		}

		tokenString := tokenFromRequest(c)
		if tokenString == "" {
			log.Debug().Str("path", c.FullPath()).Msg("auth: no token in cookie or header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
			return
		}

		claims, err := utils.ValidateJWT(tokenString)
		if err != nil {
			log.Debug().Err(err).Msg("auth: invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}

// OptionalAuth attaches the user to the context when a valid JWT is present
// and otherwise lets the request through anonymously.
func OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString := tokenFromRequest(c); tokenString != "" {
			if claims, err := utils.ValidateJWT(tokenString); err == nil {
				c.Set(ContextUserID, claims.UserID)
				c.Set(ContextUserEmail, claims.Email)
			}
		}
		c.Next()
	}
}

// UserID returns the authenticated user id, if any.
func UserID(c *gin.Context) (int, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int)
	return id, ok
}
