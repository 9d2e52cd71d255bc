// Package model contains domain models passed between layers.
package model

import "time"

// User is a leaderboard participant identified by a unique username.
type User struct {
	Username  string
	FirstName string // optional
	LastName  string // optional
	ImageURL  string // optional profile image reference
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName joins the available name parts, falling back to the username.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	}
	return u.Username
}

// Credential associates a username with an opaque access token.
// At most one credential exists per username.
type Credential struct {
	Username    string
	AccessToken string
	UpdatedAt   time.Time
}
