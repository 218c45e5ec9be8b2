package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
)

// opaqueTokenBytes is the entropy of emailed tokens; hex-encoding yields
// the 64-character form that travels in links.
const opaqueTokenBytes = 32

// opaqueTokenShape matches a well-formed emailed token. Checked before
// any database lookup so garbage input never reaches the store.
var opaqueTokenShape = regexp.MustCompile(`^[a-f0-9]{64}$`)

func newOpaqueToken() (string, error) {
	b := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// hashToken returns the hex SHA-256 digest under which reset tokens are
// stored. Bind tokens are stored raw; see the repository comments.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
