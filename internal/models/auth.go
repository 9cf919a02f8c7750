package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload of access tokens issued by the
// platform's identity service. This service only validates and reads them.
type JWTClaims struct {
	UserID        string   `json:"user_id"`
	Role          UserRole `json:"role"`
	CenterOwnerID string   `json:"center_owner_id,omitempty"`
	jwt.RegisteredClaims
}
