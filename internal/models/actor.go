package models

import "github.com/golang-jwt/jwt/v5"

// UserRole enumerates actor roles supplied by the authentication layer.
type UserRole string

const (
	RoleTeacher  UserRole = "TEACHER"
	RoleVerifier UserRole = "VERIFIER"
	RoleAdmin    UserRole = "ADMIN"
)

// JWTClaims carries the authenticated actor identity for a request.
type JWTClaims struct {
	UserID string   `json:"uid"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}

// CanReview reports whether the role may decide approval requests.
func (r UserRole) CanReview() bool {
	return r == RoleVerifier || r == RoleAdmin
}
