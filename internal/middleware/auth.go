package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tgo/engage/internal/model"
	"github.com/tgo/engage/internal/pkg/jwt"
	"github.com/tgo/engage/internal/pkg/response"
)

const (
	ContextKeyRequestID      = "request_id"
	ContextKeyUserID         = "user_id"
	ContextKeyRole           = "role"
	ContextKeyOrganizationID = "organization_id"
	ContextKeyAgentID        = "agent_id"
)

// AuthMiddleware authenticates bearer tokens.
type AuthMiddleware struct {
	jwtManager *jwt.Manager
}

func NewAuthMiddleware(jwtManager *jwt.Manager) *AuthMiddleware {
	return &AuthMiddleware{jwtManager: jwtManager}
}

// JWTAuth validates the Bearer token and resolves the caller's role and
// organization. Super admins choose the organization with X-Organization-ID.
func (m *AuthMiddleware) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			response.Unauthorized(c, "Authorization header must be a Bearer token")
			return
		}

		claims, err := m.jwtManager.ValidateToken(parts[1])
		if err != nil {
			response.Unauthorized(c, "Invalid or expired token")
			return
		}
		role, ok := model.ParseRole(claims.Role)
		if !ok {
			response.Forbidden(c, "Unknown role")
			return
		}

		orgID := claims.OrganizationID
		if header := c.GetHeader("X-Organization-ID"); header != "" && role == model.RoleSuperAdmin {
			id, err := uuid.Parse(header)
			if err != nil {
				response.Abort(c, 400, "INVALID_REQUEST", "Invalid organization ID")
				return
			}
			orgID = &id
		}
		if orgID == nil {
			response.Forbidden(c, "Token is not bound to an organization")
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyRole, role)
		c.Set(ContextKeyOrganizationID, *orgID)
		if claims.AgentID != nil {
			c.Set(ContextKeyAgentID, *claims.AgentID)
		}
		c.Next()
	}
}

// RequireCapability rejects callers whose role lacks the capability.
func RequireCapability(capability model.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !Role(c).Can(capability) {
			response.Forbidden(c, "Role may not perform this operation")
			return
		}
		c.Next()
	}
}

// Role returns the authenticated role.
func Role(c *gin.Context) model.Role {
	role, _ := c.Get(ContextKeyRole)
	r, _ := role.(model.Role)
	return r
}

// OrganizationID returns the organization the request acts on.
func OrganizationID(c *gin.Context) uuid.UUID {
	id, _ := c.Get(ContextKeyOrganizationID)
	orgID, _ := id.(uuid.UUID)
	return orgID
}

// AgentID returns the agent the caller acts as, if any.
func AgentID(c *gin.Context) (uuid.UUID, bool) {
	id, ok := c.Get(ContextKeyAgentID)
	if !ok {
		return uuid.Nil, false
	}
	agentID, ok := id.(uuid.UUID)
	return agentID, ok
}
