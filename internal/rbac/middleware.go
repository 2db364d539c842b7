package rbac

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"voiceai-production/internal/auth"
	"voiceai-production/pkg/logger"
)

// TenantHeader lets a super_admin act on another tenant.
const TenantHeader = "X-Tenant-Id"

// RequireTenant enforces the multi-tenant invariant: tenant_id must exist in
// context. A super_admin may switch the acting tenant with TenantHeader;
// the header is ignored for everyone else.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		tid, err := auth.TenantID(ctx)
		if err != nil || tid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
			return
		}
		if override := strings.TrimSpace(c.GetHeader(TenantHeader)); override != "" && override != tid {
			role, _ := auth.Role(ctx)
			if IsSuperAdmin(role) {
				logger.FromGin(c).Info("acting tenant overridden", "from", tid, "to", override)
				c.Request = c.Request.WithContext(auth.WithTenant(ctx, override))
				c.Set("tenant_id", override)
			}
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - super_admin bypasses all checks
// - support is a hidden role and is denied unless explicitly allowed
// - tenant isolation is enforced via RequireTenant (use it in the chain)
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if IsSuperAdmin(role) {
			c.Next()
			return
		}
		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
