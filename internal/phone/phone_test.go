package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+972501234567", "+972501234567"},
		{"+972 50-123-4567", "+972501234567"},
		{"00972501234567", "+972501234567"},
		{"050-1234567", "+972501234567"},
		{"(050) 123.4567", "+972501234567"},
		{"+1 (415) 555-0100", "+14155550100"},
		{"+972501234567\n", "+972501234567"},
		{"\r\n050\u00a01234567 ", "+972501234567"},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.in, "")
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestNormalize_CustomCountryCode(t *testing.T) {
	got, err := Normalize("07911123456", "44")
	require.NoError(t, err)
	assert.Equal(t, "+447911123456", got)
}

func TestNormalize_Invalid(t *testing.T) {
	_, err := Normalize("   ", "")
	assert.ErrorIs(t, err, ErrEmpty)

	for _, in := range []string{"501234567", "+97250abc4567", "+12345", "+1234567890123456"} {
		_, err := Normalize(in, "")
		assert.Error(t, err, in)
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("+972501234567"))
	assert.False(t, Valid("972501234567"))
	assert.False(t, Valid("+972 50 123"))
	assert.False(t, Valid("+123"))
}
