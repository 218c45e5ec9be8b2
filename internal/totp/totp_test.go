package totp

import (
	"strings"
	"testing"
	"time"

	pquerna "github.com/pquerna/otp"
	pquernatotp "github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pchan-tw/campusauth/pkg/base32"
)

// rfc6238Secret is the ASCII secret from RFC 6238 Appendix B.
var rfc6238Secret = base32.Encode([]byte("12345678901234567890"))

func TestComputeCode_RFC6238Vectors(t *testing.T) {
	// Appendix B reference values, truncated to six digits.
	vectors := []struct {
		unix int64
		code string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
		{20000000000, "353130"},
	}

	for _, v := range vectors {
		step := v.unix / 30
		assert.Equal(t, v.code, ComputeCode(rfc6238Secret, step, 6), "t=%d", v.unix)
	}
}

func TestComputeCode_MatchesReferenceImplementation(t *testing.T) {
	secret, err := GenerateSecret(DefaultSecretBytes)
	require.NoError(t, err)
	require.Len(t, secret, 32)

	now := time.Now()
	want, err := pquernatotp.GenerateCodeCustom(secret, now, pquernatotp.ValidateOpts{
		Period:    30,
		Digits:    pquerna.DigitsSix,
		Algorithm: pquerna.AlgorithmSHA1,
	})
	require.NoError(t, err)

	assert.Equal(t, want, ComputeCode(secret, now.Unix()/30, 6))
}

func TestVerify_AcceptsCurrentStepAtZeroSkew(t *testing.T) {
	secret, err := GenerateSecret(DefaultSecretBytes)
	require.NoError(t, err)

	now := time.Now()
	code := ComputeCode(secret, now.Unix()/30, 6)

	assert.True(t, verifyAt(secret, code, now, DefaultPeriod, 6, 0))
}

func TestVerify_SkewWindow(t *testing.T) {
	secret, err := GenerateSecret(DefaultSecretBytes)
	require.NoError(t, err)

	// Pin "now" to the middle of a step so adjacent-step codes are
	// unambiguous.
	now := time.Unix((time.Now().Unix()/30)*30+15, 0)
	step := now.Unix() / 30

	assert.True(t, verifyAt(secret, ComputeCode(secret, step-1, 6), now, DefaultPeriod, 6, 1))
	assert.True(t, verifyAt(secret, ComputeCode(secret, step+1, 6), now, DefaultPeriod, 6, 1))
	assert.False(t, verifyAt(secret, ComputeCode(secret, step-2, 6), now, DefaultPeriod, 6, 1))
	assert.False(t, verifyAt(secret, ComputeCode(secret, step+2, 6), now, DefaultPeriod, 6, 1))
}

func TestVerify_RejectsMalformedCodes(t *testing.T) {
	secret, err := GenerateSecret(DefaultSecretBytes)
	require.NoError(t, err)

	now := time.Now()
	valid := ComputeCode(secret, now.Unix()/30, 6)

	cases := []string{
		"",
		"12345",
		"1234567",
		"12345a",
		"abcdef",
		valid + "0",
		"٣٤٥٦٧٨", // non-ASCII digits
	}
	for _, c := range cases {
		assert.False(t, verifyAt(secret, c, now, DefaultPeriod, 6, 1), "code %q", c)
	}

	// Interior whitespace is stripped before the shape check.
	spaced := valid[:3] + " " + valid[3:]
	assert.True(t, verifyAt(secret, spaced, now, DefaultPeriod, 6, 1))
	assert.True(t, verifyAt(secret, "  "+valid+"\n", now, DefaultPeriod, 6, 1))
}

func TestGenerateSecret_Distinct(t *testing.T) {
	a, err := GenerateSecret(DefaultSecretBytes)
	require.NoError(t, err)
	b, err := GenerateSecret(DefaultSecretBytes)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestBuildProvisioningURI(t *testing.T) {
	uri := BuildProvisioningURI("TTU Auth", "s1234567@o365.ttu.edu.tw", "ABC234DEF567", 6, 30*time.Second)

	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/TTU%20Auth:s1234567@o365.ttu.edu.tw?"))
	assert.Contains(t, uri, "secret=ABC234DEF567")
	assert.Contains(t, uri, "issuer=TTU+Auth")
	assert.Contains(t, uri, "algorithm=SHA1")
	assert.Contains(t, uri, "digits=6")
	assert.Contains(t, uri, "period=30")
}
