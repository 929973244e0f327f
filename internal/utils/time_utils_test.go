package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseStringTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"10s", 10 * time.Second},
		{"20M", 20 * time.Minute},
		{"48h", 48 * time.Hour},
		{"2d", 48 * time.Hour},
		{" 3D ", 72 * time.Hour},
		{"1h30m", 90 * time.Minute},
		{"250ms", 250 * time.Millisecond},
		{"0s", 0},
		{"", 0},
		{"xd", 0},
		{"soon", 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseStringTime(tt.in))
		})
	}
}
