package models

import "time"

// TOTPSecret is one issued shared secret for a user. Rows are never
// updated or deleted; the newest row is the effective secret and older
// rows remain as an audit trail of rotations.
type TOTPSecret struct {
	ID        string
	UserID    string
	Secret    string // unpadded Base32, 32 characters
	CreatedAt time.Time
}
