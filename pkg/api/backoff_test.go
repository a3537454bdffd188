package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelays(t *testing.T) {
	p := BackoffPolicy{
		MaxAttempts:    4,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     150 * time.Millisecond,
		Multiplier:     2.0,
	}
	assert.Equal(t, []time.Duration{
		50 * time.Millisecond,
		100 * time.Millisecond,
		150 * time.Millisecond, // capped, raw would be 200ms
	}, p.Delays())
}

func TestBackoffSingleAttemptHasNoDelays(t *testing.T) {
	assert.Nil(t, BackoffPolicy{MaxAttempts: 1}.Delays())
	assert.Nil(t, BackoffPolicy{MaxAttempts: 0}.Delays())
}

func TestBackoffDefaultMultiplier(t *testing.T) {
	p := BackoffPolicy{MaxAttempts: 3, InitialBackoff: 10 * time.Millisecond}
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
	}, p.Delays())
}
