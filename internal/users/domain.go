// Package users is the external user store the authorization engine reads
// from: who a user is, which single role they hold, and whether they are active.
package users

import "time"

// User represents a user account for management.
type User struct {
	ID        int64     `json:"id" yaml:"id"`
	Email     string    `json:"email" yaml:"email"`
	Name      string    `json:"name" yaml:"name"`
	RoleKey   string    `json:"role" yaml:"role"`
	IsActive  bool      `json:"isActive" yaml:"active"`
	CreatedAt time.Time `json:"createdAt" yaml:"-"`
}

// RoleCount aggregates membership of one role.
type RoleCount struct {
	Total  int
	Active int
}
