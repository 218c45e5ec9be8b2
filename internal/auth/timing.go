package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// FailureDelay pads failed authentication attempts to a minimum elapsed
// time so that "no such account", "wrong password" and "wrong challenge"
// are indistinguishable by response latency.
type FailureDelay struct {
	Base   time.Duration
	Jitter time.Duration
}

// Wait sleeps until at least Base (plus random jitter) has elapsed since
// start. Successful attempts are not delayed.
func (d FailureDelay) Wait(start time.Time) {
	target := d.Base + randomJitter(d.Jitter)
	if elapsed := time.Since(start); elapsed < target {
		time.Sleep(target - elapsed)
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(buf[:]) % uint64(max))
}
