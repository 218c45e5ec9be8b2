package models

import "time"

// Magic-link purposes. A token redeemed for one purpose can never be
// replayed into another flow.
const (
	MagicLinkPurposeBindTOTP = "bind_totp"
)

// MagicLinkToken is a single-use emailed bearer token. The raw value is
// stored: redemption only unlocks the second-factor binding step, never a
// session or a password change, so digest storage is not required here
// the way it is for password resets.
type MagicLinkToken struct {
	ID        string
	UserID    string
	Token     string // raw 64-hex value
	Purpose   string
	ExpiresAt time.Time
	UsedAt    *time.Time
	IP        string
	UserAgent string
	CreatedAt time.Time
}

// IsUsed reports whether the token has been redeemed.
func (t *MagicLinkToken) IsUsed() bool {
	return t.UsedAt != nil
}
