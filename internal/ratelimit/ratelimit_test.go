package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckLimitAllowsUnderMax(t *testing.T) {
	s := New()
	defer s.Destroy()

	for i := 0; i < 3; i++ {
		res := s.CheckLimit("1.2.3.4", 3, time.Minute)
		assert.True(t, res.Allowed)
	}
}

func TestCheckLimitBlocksOnOverflow(t *testing.T) {
	s := New()
	defer s.Destroy()

	for i := 0; i < 3; i++ {
		s.CheckLimit("1.2.3.4", 3, time.Minute)
	}
	res := s.CheckLimit("1.2.3.4", 3, time.Minute)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestCheckLimitDisabledWhenMaxZero(t *testing.T) {
	s := New()
	defer s.Destroy()

	for i := 0; i < 100; i++ {
		res := s.CheckLimit("1.2.3.4", 0, time.Minute)
		assert.True(t, res.Allowed)
	}
}

func TestCheckLimitIndependentClients(t *testing.T) {
	s := New()
	defer s.Destroy()

	for i := 0; i < 3; i++ {
		s.CheckLimit("1.2.3.4", 3, time.Minute)
	}
	res := s.CheckLimit("5.6.7.8", 3, time.Minute)
	assert.True(t, res.Allowed)
}

func TestSweepRemovesStaleClients(t *testing.T) {
	s := New()
	defer s.Destroy()

	s.CheckLimit("1.2.3.4", 10, time.Minute)
	s.sweepOnce(time.Now().Add(2 * time.Hour))

	s.mu.Lock()
	_, ok := s.clients["1.2.3.4"]
	s.mu.Unlock()
	assert.False(t, ok)
}
