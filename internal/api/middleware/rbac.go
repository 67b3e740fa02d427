package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kuranet/kuranet/internal/auth"
	"github.com/kuranet/kuranet/internal/rbac"
)

// RequireAdmin ensures the user is an admin. It must run after the
// authentication middleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := auth.UserFromContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication credentials were not provided"})
			c.Abort()
			return
		}

		if !rbac.IsAdmin(user) {
			c.JSON(http.StatusForbidden, gin.H{"error": "you do not have permission to perform this action"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireCreator ensures the user holds the creator or admin role
func RequireCreator() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := auth.UserFromContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication credentials were not provided"})
			c.Abort()
			return
		}

		if !rbac.IsCreator(user) && !rbac.IsAdmin(user) {
			c.JSON(http.StatusForbidden, gin.H{"error": "you do not have permission to perform this action"})
			c.Abort()
			return
		}

		c.Next()
	}
}
