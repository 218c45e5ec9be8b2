// Package base32 implements RFC 4648 Base32 without padding.
//
// It exists instead of encoding/base32 because authenticator secrets are
// hand-typed: Decode is case-insensitive and silently skips characters
// outside the alphabet (spaces, dashes, formatting noise), which the
// standard library decoder rejects.
package base32

import "strings"

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// Encode maps every 5-bit group of src to one alphabet character.
// The final partial group, if any, is zero-extended; no '=' padding is
// emitted. Because of the zero extension, inputs whose bit length is not
// a multiple of 40 do not round-trip bit-exact through Decode(Encode(x));
// the trailing incomplete byte is discarded on decode. That asymmetry is
// inherent to unpadded Base32, not a defect; 20-byte TOTP secrets (160
// bits) always round-trip.
func Encode(src []byte) string {
	if len(src) == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow((len(src)*8 + 4) / 5)

	var buf uint32
	var bits uint
	for _, c := range src {
		buf = buf<<8 | uint32(c)
		bits += 8
		for bits >= 5 {
			bits -= 5
			b.WriteByte(alphabet[(buf>>bits)&0x1F])
		}
	}
	if bits > 0 {
		b.WriteByte(alphabet[(buf<<(5-bits))&0x1F])
	}

	return b.String()
}

// Decode reassembles bytes from the 5-bit stream. Lowercase input is
// accepted and unrecognized characters are skipped. Trailing bits that do
// not form a whole byte are discarded.
func Decode(s string) []byte {
	out := make([]byte, 0, len(s)*5/8)

	var buf uint32
	var bits uint
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}

		var v uint32
		switch {
		case c >= 'A' && c <= 'Z':
			v = uint32(c - 'A')
		case c >= '2' && c <= '7':
			v = uint32(c-'2') + 26
		default:
			continue
		}

		buf = buf<<5 | v
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(buf>>bits))
		}
	}

	return out
}
