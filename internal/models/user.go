package models

import "time"

type User struct {
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"password_hash"`
	Created      time.Time `json:"created"`
}

// Session is the stored half of a login token.
type Session struct {
	Token   string    `json:"token"`
	Email   string    `json:"email"`
	Created time.Time `json:"created"`
}

// Identity is what a valid token resolves to.
type Identity struct {
	Email string
	Token string
}

// Vars exposes the identity to page templates as &{email} and &{token}.
func (i Identity) Vars() map[string]string {
	if i.Email == "" {
		return map[string]string{}
	}
	return map[string]string{"email": i.Email, "token": i.Token}
}
