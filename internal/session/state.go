// Package session models the per-session authentication state that the
// login state machine threads through each request. The state is an
// explicit value object: handlers decode it from a signed cookie, pass it
// to the service layer, and persist whatever successor state comes back.
// Nothing here is process-global and no session ever reads another's
// state.
package session

import (
	"time"
)

// Status is the position of a session in the login sequence.
type Status string

const (
	// StatusAnonymous is the initial state; only the email-identify
	// operation is accepted.
	StatusAnonymous Status = "anonymous"

	// StatusEmailConfirmed means the account exists; password plus
	// challenge code are accepted next.
	StatusEmailConfirmed Status = "email_confirmed"

	// StatusSecondFactorPending means the password was verified on a
	// high-risk account with an existing binding; a TOTP code completes
	// the login.
	StatusSecondFactorPending Status = "second_factor_pending"

	// StatusForcedSetupPending means the password was verified on a
	// high-risk account that has never logged in; binding a TOTP secret
	// is the only path forward, logout the only escape.
	StatusForcedSetupPending Status = "forced_setup_pending"

	// StatusAuthenticated is terminal until logout.
	StatusAuthenticated Status = "authenticated"
)

// State is the pending-authentication snapshot for one session. Exactly
// one State is active per session; transitions are one-directional except
// the explicit Reset.
type State struct {
	Status Status

	// User snapshot, populated from email_confirmed onward.
	UserID string
	Email  string
	Name   string

	// ChallengeHash is the digest of the currently displayed challenge
	// code, present only in email_confirmed. The cleartext code lives
	// nowhere but the rendered image.
	ChallengeHash string

	IssuedAt time.Time
}

// Anonymous returns the initial state.
func Anonymous() State {
	return State{Status: StatusAnonymous, IssuedAt: time.Now()}
}

// Reset discards every pending detail, including any outstanding
// challenge code. It is the "change account" action and the only backward
// transition.
func (s State) Reset() State {
	return Anonymous()
}

// WithEmailConfirmed advances to email_confirmed with a fresh challenge
// digest and the resolved user snapshot.
func (s State) WithEmailConfirmed(userID, email, name, challengeHash string) State {
	return State{
		Status:        StatusEmailConfirmed,
		UserID:        userID,
		Email:         email,
		Name:          name,
		ChallengeHash: challengeHash,
		IssuedAt:      time.Now(),
	}
}

// WithChallenge replaces the outstanding challenge digest, keeping the
// rest of the state. Used on reload and after every failed attempt.
func (s State) WithChallenge(challengeHash string) State {
	s.ChallengeHash = challengeHash
	s.IssuedAt = time.Now()
	return s
}

// WithStatus advances to the given post-password status, dropping the
// consumed challenge digest.
func (s State) WithStatus(status Status) State {
	s.Status = status
	s.ChallengeHash = ""
	s.IssuedAt = time.Now()
	return s
}

// IsAuthenticated reports whether the session has completed every
// required step.
func (s State) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated
}

// Is reports whether the session is in the given status; an empty State
// counts as anonymous.
func (s State) Is(status Status) bool {
	if s.Status == "" {
		return status == StatusAnonymous
	}
	return s.Status == status
}
