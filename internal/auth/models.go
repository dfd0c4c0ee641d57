// Package auth issues admin bearer tokens for credentials held in a users
// file and records every login attempt in the audit log.
package auth

// User is one account from the users file. Only the bcrypt hash is held.
type User struct {
	Email        string `json:"email"`
	Role         string `json:"role"`
	PasswordHash string `json:"password_hash"`
}
