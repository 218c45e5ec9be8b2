package session

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName carries the serialized pending state between requests.
const CookieName = "campusauth_session"

const (
	// PendingTTL bounds how long a half-finished login survives.
	PendingTTL = 15 * time.Minute

	// AuthenticatedTTL is the session lifetime after the final step.
	AuthenticatedTTL = 12 * time.Hour
)

// Codec signs session state into a compact cookie value and verifies it
// back. HMAC keeps the state tamper-proof; sensitive values (challenge
// code, password material) are only ever stored as digests or not at all,
// so the payload being merely signed rather than encrypted leaks nothing
// usable.
type Codec struct {
	secret []byte
	secure bool
}

// NewCodec creates a Codec. secure controls the cookie Secure attribute
// and should be true everywhere except local development.
func NewCodec(secret []byte, secure bool) (*Codec, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes, got %d", len(secret))
	}
	return &Codec{secret: secret, secure: secure}, nil
}

type stateClaims struct {
	Status        string `json:"st"`
	UserID        string `json:"uid,omitempty"`
	Email         string `json:"eml,omitempty"`
	Name          string `json:"nam,omitempty"`
	ChallengeHash string `json:"chl,omitempty"`
	jwt.RegisteredClaims
}

// Encode signs the state into a cookie value.
func (c *Codec) Encode(s State) (string, error) {
	ttl := PendingTTL
	if s.IsAuthenticated() {
		ttl = AuthenticatedTTL
	}

	now := time.Now()
	claims := stateClaims{
		Status:        string(s.Status),
		UserID:        s.UserID,
		Email:         s.Email,
		Name:          s.Name,
		ChallengeHash: s.ChallengeHash,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session state: %w", err)
	}
	return signed, nil
}

// Decode verifies a cookie value and returns the state it carries.
// Anything invalid (bad signature, expired, wrong algorithm) comes back
// as a plain anonymous state plus the error for logging.
func (c *Codec) Decode(value string) (State, error) {
	claims := &stateClaims{}
	token, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return Anonymous(), fmt.Errorf("failed to parse session state: %w", err)
	}
	if !token.Valid {
		return Anonymous(), fmt.Errorf("invalid session token")
	}

	s := State{
		Status:        Status(claims.Status),
		UserID:        claims.UserID,
		Email:         claims.Email,
		Name:          claims.Name,
		ChallengeHash: claims.ChallengeHash,
	}
	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time
	}
	return s, nil
}

// FromRequest reads the session cookie, falling back to anonymous when
// the cookie is missing or unverifiable.
func (c *Codec) FromRequest(r *http.Request) State {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return Anonymous()
	}
	s, err := c.Decode(cookie.Value)
	if err != nil {
		return Anonymous()
	}
	return s
}

// Write sets the session cookie for the given state.
func (c *Codec) Write(w http.ResponseWriter, s State) error {
	value, err := c.Encode(s)
	if err != nil {
		return err
	}

	ttl := PendingTTL
	if s.IsAuthenticated() {
		ttl = AuthenticatedTTL
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear expires the session cookie.
func (c *Codec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
