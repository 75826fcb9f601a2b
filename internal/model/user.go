// Package model defines the data structures shared by the sync layer.
package model

import (
	"time"
)

// User is the signed-in principal as reported by the backend. A nil *User
// means "not authenticated".
type User struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Avatar          string     `json:"avatar,omitempty"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
