package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayDoublesUpToCap(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, Delay(0))
	assert.Equal(t, 1*time.Second, Delay(1))
	assert.Equal(t, 2*time.Second, Delay(2))
	assert.Equal(t, 16*time.Second, Delay(5))
	assert.Equal(t, 30*time.Second, Delay(6))
	assert.Equal(t, 30*time.Second, Delay(20))
}

func TestDelayHugeAttemptStaysCapped(t *testing.T) {
	// Past the shift-overflow guard the cap must still hold.
	assert.Equal(t, 30*time.Second, Delay(31))
	assert.Equal(t, 30*time.Second, Delay(1000))
}
