package models

import "time"

// UserRole is the role carried in a rider's access token.
type UserRole string

const (
	RoleStudent UserRole = "STUDENT"
	RoleStaff   UserRole = "STAFF"
	RoleWarden  UserRole = "WARDEN"
	RoleAdmin   UserRole = "ADMIN"
	RolePlumber UserRole = "PLUMBER"
	RoleITStaff UserRole = "IT_STAFF"
	RoleCleaner UserRole = "CLEANER"
)

// User is the directory record joined into manifests.
type User struct {
	ID        int64     `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Name      string    `db:"name" json:"name"`
	Role      UserRole  `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
