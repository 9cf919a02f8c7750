package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleCenter  UserRole = "test_center"
	RoleStudent UserRole = "student"
)

// User represents an account stored in the users table. Authentication is
// handled upstream; this service only reads accounts for admission checks.
type User struct {
	ID            string    `db:"id" json:"id"`
	Email         string    `db:"email" json:"email"`
	FullName      string    `db:"full_name" json:"full_name"`
	Role          UserRole  `db:"role" json:"role"`
	CenterOwnerID *string   `db:"center_owner_id" json:"center_owner_id,omitempty"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// OwningCenter resolves the center an account belongs to. Center accounts own
// themselves; students carry a reference to their center.
func (u *User) OwningCenter() string {
	if u.Role == RoleCenter {
		return u.ID
	}
	if u.CenterOwnerID != nil {
		return *u.CenterOwnerID
	}
	return ""
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
