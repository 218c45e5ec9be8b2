package models

import "time"

// LoginLog is one append-only login attempt record. UserID and Email are
// nullable: a failure before the account is resolved logs whatever
// identity was available.
type LoginLog struct {
	ID        string
	UserID    *string
	Email     *string
	IP        string
	UserAgent string
	Success   bool
	CreatedAt time.Time
}
