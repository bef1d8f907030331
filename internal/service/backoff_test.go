package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	base := 30 * time.Second
	cap := 30 * time.Minute

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 8 * time.Minute},
		{6, 16 * time.Minute},
		{7, 30 * time.Minute},
		{20, 30 * time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, backoff(base, cap, tt.retryCount), "retry %d", tt.retryCount)
	}
}

func TestBackoff_BaseAboveCap(t *testing.T) {
	assert.Equal(t, time.Second, backoff(time.Minute, time.Second, 1))
}
