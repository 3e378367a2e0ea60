package serial

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		code      string
		number    string
		corrected bool
	}{
		{"strict", "MBAB-12345", "AB", "12345", false},
		{"embedded in label", "S/N: MBCD-0042 REV2", "CD", "0042", false},
		{"lower case and spaces", "mb ab - 778", "AB", "778", false},
		{"O read for zero", "MBAB-1O2O", "AB", "1020", true},
		{"L and I read for one", "MBAB-LI9", "AB", "119", true},
		{"zero read for O in code", "MB0K-123", "OK", "123", true},
		{"five read for S in code", "MB5T-900", "ST", "900", true},
		{"Z and S in number", "MBXY-Z5S1", "XY", "2551", true},
		{"missing dash", "MBAB123", "AB", "123", false},
		{"underscore dash", "MBAB_123", "AB", "123", false},
		{"space for dash", "mb ab 778", "AB", "778", false},
		{"trailing word with S", "MBAB-1234 SN", "AB", "1234", false},
		{"trailing word with L and O", "MBAB-1234 LOT 7", "AB", "1234", false},
		{"trailing word with O", "S/N: MBAB-0042 OK", "AB", "0042", false},
		{"trailing word with I", "MBAB-99 IN STOCK", "AB", "99", false},
		{"corrected number then word with Z", "MBAB-1O2O ZONE", "AB", "1020", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.code, s.ProductCode)
			assert.Equal(t, tt.number, s.Number)
			assert.Equal(t, tt.corrected, s.Corrected)
		})
	}
}

func TestParse_NoSerial(t *testing.T) {
	for _, text := range []string{"", "hello", "MB-123", "MBA-123", "MB7K-123", "MBAB-"} {
		_, err := Parse(text)
		assert.True(t, errors.Is(err, ErrNoSerial), "text %q", text)
	}
}

func TestSerialString(t *testing.T) {
	s, err := Parse("mbab-1o")
	require.NoError(t, err)
	assert.Equal(t, "MBAB-10", s.String())

	code, err := ProductCode("MBQR-5")
	require.NoError(t, err)
	assert.Equal(t, "QR", code)
}
