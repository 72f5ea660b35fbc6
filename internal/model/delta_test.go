package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDelta(t *testing.T) {
	day := 24 * time.Hour

	tests := []struct {
		input string
		want  time.Duration
	}{
		{"1d", day},
		{"2d", 2 * day},
		{"1w", 7 * day},
		{"1M", 30 * day},
		{"1y", 365 * day},
		{"2d3w", 2*day + 21*day},
		{"1y2M3w4d", 365*day + 60*day + 21*day + 4*day},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDelta(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDelta_Malformed(t *testing.T) {
	for _, input := range []string{"", "xx", "5", "d", "1h", "2d junk", "1m"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseDelta(input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}
