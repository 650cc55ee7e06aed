package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

// Permissions checked on the /v1 routes.
const (
	PermissionRead  = "fleet:read"
	PermissionWrite = "fleet:write"
)

// RequirePermission returns middleware that checks if the authenticated
// caller holds permission. PermissionAdmin satisfies any check, and
// PermissionWrite implies PermissionRead.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		perms, exists := c.Get(ctxKeyPermissions)
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": "FORBIDDEN", "message": "no permissions in context",
			})
			return
		}
		permList, ok := perms.([]string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": "FORBIDDEN", "message": "invalid permissions type",
			})
			return
		}

		if slices.Contains(permList, PermissionAdmin) || slices.Contains(permList, permission) {
			c.Next()
			return
		}
		if permission == PermissionRead && slices.Contains(permList, PermissionWrite) {
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"code": "FORBIDDEN", "message": "insufficient permissions",
		})
	}
}

// RequireMethodPermission picks PermissionRead for safe methods and
// PermissionWrite otherwise.
func RequireMethodPermission() gin.HandlerFunc {
	read := RequirePermission(PermissionRead)
	write := RequirePermission(PermissionWrite)
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			read(c)
		default:
			write(c)
		}
	}
}
