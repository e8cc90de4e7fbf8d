package mw

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"

	"hub-activity-backend/internal/tenant"
)

const tenantKey = "hub.tenant"

// TokenAuth resolves the caller from the Authorization header ("token <t>"
// or "Bearer <t>") and stores it in the gin context. Resolved tokens are
// cached for ttl so the hub is not asked on every request.
func TokenAuth(auth tenant.Authenticator, ttl time.Duration) gin.HandlerFunc {
	tokens := cache.New(ttl, 2*ttl)
	return func(c *gin.Context) {
		token := tokenFromHeader(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		if v, found := tokens.Get(token); found {
			c.Set(tenantKey, v.(*tenant.Tenant))
			c.Next()
			return
		}

		t, err := auth.Authenticate(c.Request.Context(), token)
		if errors.Is(err, tenant.ErrUnauthorized) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		if err != nil {
			log.Printf("[API] Token check failed: %v", err)
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "Failed to verify token"})
			return
		}

		tokens.SetDefault(token, t)
		c.Set(tenantKey, t)
		c.Next()
	}
}

func tokenFromHeader(h string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok {
		return ""
	}
	switch strings.ToLower(scheme) {
	case "token", "bearer":
		return strings.TrimSpace(token)
	default:
		return ""
	}
}

// CurrentTenant returns the authenticated caller, or nil.
func CurrentTenant(c *gin.Context) *tenant.Tenant {
	v, ok := c.Get(tenantKey)
	if !ok {
		return nil
	}
	t, _ := v.(*tenant.Tenant)
	return t
}

// RequireAdmin rejects callers that are not hub administrators.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		t := CurrentTenant(c)
		if t == nil || !t.Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Only administrators can access this endpoint"})
			return
		}
		c.Next()
	}
}

// RequireSelfOrAdmin rejects callers that are neither administrators nor
// the tenant named by the route parameter param.
func RequireSelfOrAdmin(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		t := CurrentTenant(c)
		if t == nil || !(t.Admin || t.Name == c.Param(param)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Permission denied"})
			return
		}
		c.Next()
	}
}
