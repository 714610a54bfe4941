package models

// Credential is one entry of the basic-auth user list.
// Only the bcrypt hash of the password is kept.
type Credential struct {
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
}
