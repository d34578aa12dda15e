// Package entity contains the core business objects of the project,
// each representing a unique, identifiable concept within the domain.
package entity

import "time"

// User is an account that can authenticate against the API.
type User struct {
	ID           int64     // Database-assigned, stable identifier.
	Email        string    // Unique login identifier, compared case-sensitively as stored.
	Name         string    // Display name.
	PasswordHash string    // bcrypt hash. Never serialized or logged.
	CreatedAt    time.Time // Registration time.
}

// UserProfile is the public projection of a User.
type UserProfile struct {
	ID    int64
	Email string
	Name  string
}

// Profile strips the credential fields from the user.
func (u *User) Profile() UserProfile {
	return UserProfile{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
	}
}
