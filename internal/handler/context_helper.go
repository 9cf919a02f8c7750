package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jamiebones/cbt-enroll-api/internal/middleware"
	"github.com/jamiebones/cbt-enroll-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// centerScope resolves the center an actor acts for when filtering lists.
func centerScope(claims *models.JWTClaims) string {
	if claims == nil {
		return ""
	}
	if claims.Role == models.RoleCenter {
		return claims.UserID
	}
	return claims.CenterOwnerID
}
