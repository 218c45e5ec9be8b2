package models

import "time"

// PasswordResetToken holds only the SHA-256 digest of the mailed token;
// a copied database never yields a usable reset link. At most one unused
// token per user is live: issuance marks every prior unused row used.
type PasswordResetToken struct {
	ID        string
	UserID    string
	TokenHash string // sha256 hex of the raw token, never the raw value
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
	IP        string
	UserAgent string
	CreatedAt time.Time
}
