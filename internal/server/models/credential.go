package models

import "time"

// Credential is the encrypted login for a group's shared subscription.
// One row per group; the plaintext is only ever reconstructed behind an
// access grant.
type Credential struct {
	GroupID       string
	EncryptedBlob []byte
	Nonce         []byte
	KeyVersion    int64
	UpdatedAt     time.Time
}

// CredentialView is the decrypted form returned to a grant holder.
type CredentialView struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Notes    string `json:"notes,omitempty"`
}
