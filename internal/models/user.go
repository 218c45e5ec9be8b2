package models

import (
	"time"
)

// Account classes. Local accounts must use the institutional mail domain;
// cross-institution accounts may register any address but must name their
// school.
const (
	AccountTypeLocal = "local"
	AccountTypeCross = "cross"
)

type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	AccountType  string // "local" or "cross"
	SchoolName   string // cross accounts only
	StudentID    string // cross accounts only, optional
	IsHighRisk   bool   // requires a second factor on every login
	IsFirstLogin bool   // forces TOTP binding before the first session
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
