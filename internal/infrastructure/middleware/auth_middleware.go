package middleware

import (
	"strings"

	"meshcall/internal/core/services"
	"meshcall/pkg/errors"

	"github.com/gin-gonic/gin"
)

const (
	SubjectKey = "subject"
	RoomKey    = "room"
)

// AuthMiddleware requires a bearer token issued by authService. The token's
// subject and room scope are stored on the gin context.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Error(errors.NewUnauthorizedError("authorization header required"))
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.Error(errors.NewUnauthorizedError("invalid authorization header format"))
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			c.Error(errors.NewUnauthorizedError(err.Error()))
			c.Abort()
			return
		}

		c.Set(SubjectKey, claims.Subject)
		c.Set(RoomKey, string(claims.Room))
		c.Next()
	}
}
