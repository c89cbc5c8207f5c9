package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/TechSanzo/chaturbate/internal/domain"
	"github.com/TechSanzo/chaturbate/internal/repository"
	"github.com/TechSanzo/chaturbate/internal/session"
	"github.com/TechSanzo/chaturbate/pkg/response"
)

// Context keys set by the auth middleware.
const (
	ctxUserID = "user_id"
	ctxEmail  = "email"
)

// AuthMiddleware validates bearer tokens on protected routes.
type AuthMiddleware struct {
	tokens *session.TokenManager
	users  repository.UserRepository
}

// NewAuthMiddleware creates an auth middleware.
func NewAuthMiddleware(tokens *session.TokenManager, users repository.UserRepository) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, users: users}
}

// RequireAuth rejects requests without a valid bearer token.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := m.claims(c)
		if !ok {
			response.Unauthorized(c, "missing or invalid token")
			c.Abort()
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxEmail, claims.Email)
		c.Next()
	}
}

// RequireRole rejects authenticated requests whose profile lacks the
// role.
func (m *AuthMiddleware) RequireRole(role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(ctxUserID)
		if userID == "" {
			response.Unauthorized(c, "missing or invalid token")
			c.Abort()
			return
		}

		user, err := m.users.GetByID(c.Request.Context(), userID)
		if err != nil {
			response.Forbidden(c, "profile not found")
			c.Abort()
			return
		}
		if user.Role != role {
			response.Forbidden(c, "insufficient role")
			c.Abort()
			return
		}
		c.Next()
	}
}

// OptionalAuth resolves identity when a token is present but lets the
// request through either way.
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := m.claims(c); ok {
			c.Set(ctxUserID, claims.UserID)
			c.Set(ctxEmail, claims.Email)
		}
		c.Next()
	}
}

func (m *AuthMiddleware) claims(c *gin.Context) (*session.Claims, bool) {
	header := c.GetHeader("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		// Fall back to the query for WebSocket upgrades, where headers
		// cannot be set from a browser client.
		token = c.Query("token")
	}
	if token == "" {
		return nil, false
	}

	claims, err := m.tokens.Validate(token)
	if err != nil {
		return nil, false
	}
	return claims, true
}
