package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// ChallengeLength is the number of characters in a login challenge code.
const ChallengeLength = 6

// challengeCharset excludes nothing: the rendered image is the only place
// users read the code from, so ambiguity is the renderer's problem.
const challengeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateChallenge returns a fresh 6-character alphanumeric challenge
// code. Codes are single-use: callers must regenerate on every failed
// attempt or page reload.
func GenerateChallenge() (string, error) {
	buf := make([]byte, ChallengeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}

	code := make([]byte, ChallengeLength)
	for i, b := range buf {
		code[i] = challengeCharset[int(b)%len(challengeCharset)]
	}
	return string(code), nil
}

// HashChallenge returns the digest under which a challenge is carried in
// the (signed but not encrypted) session state. The cleartext code never
// leaves the server except through the renderer.
func HashChallenge(code string) string {
	sum := sha256.Sum256([]byte(normalizeChallenge(code)))
	return hex.EncodeToString(sum[:])
}

// VerifyChallenge compares a submitted code against the stored digest.
// Comparison is case-normalized and constant-time.
func VerifyChallenge(storedHash, submitted string) bool {
	if storedHash == "" {
		return false
	}
	sum := HashChallenge(submitted)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(sum)) == 1
}

func normalizeChallenge(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
