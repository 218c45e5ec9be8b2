// Package totp implements the RFC 6238 time-based one-time password
// algorithm over unpadded Base32 secrets.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pchan-tw/campusauth/pkg/base32"
)

const (
	// DefaultSecretBytes yields a 32-character Base32 secret.
	DefaultSecretBytes = 20

	DefaultDigits = 6
	DefaultPeriod = 30 * time.Second

	// DefaultSkew accepts codes from the adjacent time step in either
	// direction to absorb clock drift between server and authenticator.
	// A valid code is therefore replayable for up to one extra step;
	// codes are deliberately not marked consumed, matching what standard
	// authenticator deployments tolerate.
	DefaultSkew = 1
)

// GenerateSecret returns a new random secret as unpadded Base32.
func GenerateSecret(byteLength int) (string, error) {
	if byteLength <= 0 {
		byteLength = DefaultSecretBytes
	}

	raw := make([]byte, byteLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}

	return base32.Encode(raw), nil
}

// BuildProvisioningURI renders the otpauth:// URI that authenticator apps
// consume via QR code. The issuer and account label are percent-encoded;
// the parameters carry no cryptographic role beyond informing the app.
func BuildProvisioningURI(issuer, account, secret string, digits int, period time.Duration) string {
	if digits <= 0 {
		digits = DefaultDigits
	}
	if period <= 0 {
		period = DefaultPeriod
	}

	label := url.PathEscape(issuer + ":" + account)
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprintf("%d", digits))
	q.Set("period", fmt.Sprintf("%d", int(period.Seconds())))

	return "otpauth://totp/" + label + "?" + q.Encode()
}

// ComputeCode returns the HOTP value for the given time step, left-padded
// with zeroes to digits characters.
func ComputeCode(secret string, timeStep int64, digits int) string {
	if digits <= 0 {
		digits = DefaultDigits
	}

	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], uint64(timeStep))

	mac := hmac.New(sha1.New, base32.Decode(secret))
	mac.Write(counter[:])
	sum := mac.Sum(nil)

	// Dynamic truncation: the low nibble of the last byte selects a
	// 4-byte window; the top bit is masked to avoid signedness issues.
	offset := sum[len(sum)-1] & 0x0F
	value := uint32(sum[offset]&0x7F)<<24 |
		uint32(sum[offset+1])<<16 |
		uint32(sum[offset+2])<<8 |
		uint32(sum[offset+3])

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, value%mod)
}

// Verify checks a submitted code against the secret at the current time.
// The code must be exactly digits numeric characters after trimming
// whitespace. The comparison is constant-time and the acceptance window
// is [now-skew, now+skew] steps, nothing wider.
func Verify(secret, code string, period time.Duration, digits, skew int) bool {
	return verifyAt(secret, code, time.Now(), period, digits, skew)
}

func verifyAt(secret, code string, now time.Time, period time.Duration, digits, skew int) bool {
	if period <= 0 {
		period = DefaultPeriod
	}
	if digits <= 0 {
		digits = DefaultDigits
	}
	if skew < 0 {
		skew = 0
	}

	code = strings.Join(strings.Fields(code), "")
	if len(code) != digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}

	step := now.Unix() / int64(period.Seconds())

	// Evaluate every candidate step so timing does not reveal which one
	// matched.
	match := 0
	for i := -skew; i <= skew; i++ {
		expected := ComputeCode(secret, step+int64(i), digits)
		match |= subtle.ConstantTimeCompare([]byte(code), []byte(expected))
	}

	return match == 1
}
