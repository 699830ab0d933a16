package accounts_test

import (
	"testing"
	"time"

	"github.com/goliatone/go-accounts"
	"github.com/stretchr/testify/assert"
)

// base32 of the RFC 6238 reference secret "12345678901234567890".
const totpTestSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestTOTPReferenceVectors(t *testing.T) {
	t.Parallel()

	validator := accounts.HMACTOTPValidator{}

	cases := []struct {
		unix int64
		code string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1234567890, "005924"},
	}

	for _, tc := range cases {
		now := time.Unix(tc.unix, 0)
		assert.True(t, validator.VerifyCode(totpTestSecret, tc.code, now), "t=%d", tc.unix)
	}
}

func TestTOTPClockSkew(t *testing.T) {
	t.Parallel()

	validator := accounts.HMACTOTPValidator{}
	now := time.Unix(59, 0)

	// one step either side of the current window is accepted
	assert.True(t, validator.VerifyCode(totpTestSecret, "755224", now), "previous step")
	assert.True(t, validator.VerifyCode(totpTestSecret, "287082", now), "current step")
	assert.True(t, validator.VerifyCode(totpTestSecret, "359152", now), "next step")

	// two steps ahead is out of the skew window
	assert.False(t, validator.VerifyCode(totpTestSecret, "969429", now))
}

func TestTOTPRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	validator := accounts.HMACTOTPValidator{}
	now := time.Unix(59, 0)

	assert.False(t, validator.VerifyCode(totpTestSecret, "", now))
	assert.False(t, validator.VerifyCode(totpTestSecret, "28708", now), "too short")
	assert.False(t, validator.VerifyCode(totpTestSecret, "2870822", now), "too long")
	assert.False(t, validator.VerifyCode(totpTestSecret, "28708a", now), "non-numeric")
	assert.False(t, validator.VerifyCode("not base32!!", "287082", now))
	assert.False(t, validator.VerifyCode("", "287082", now))

	// surrounding whitespace from copy-paste is tolerated
	assert.True(t, validator.VerifyCode(totpTestSecret, " 287082 ", now))
}

func TestTOTPLowercasePaddedSecret(t *testing.T) {
	t.Parallel()

	validator := accounts.HMACTOTPValidator{}
	now := time.Unix(59, 0)

	assert.True(t, validator.VerifyCode("gezdgnbvgy3tqojqgezdgnbvgy3tqojq", "287082", now))
	assert.True(t, validator.VerifyCode(totpTestSecret+"==", "287082", now))
}
