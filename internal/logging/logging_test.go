package logging

import (
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/assert"
)

func TestNewRateLimitedLogger(t *testing.T) {
	logger := NewRateLimitedLogger(10, level.Error(Logger))
	assert.NotNil(t, logger)

	assert.NoError(t, logger.Log("msg", "test"))
}

func TestRateLimitedLoggerDropsOverRate(t *testing.T) {
	logger := NewRateLimitedLogger(1, level.Error(Logger))

	assert.NoError(t, logger.Log("msg", "first"))
	// Immediately over budget: Allow() should report false and Log
	// returns nil without forwarding, rather than erroring.
	assert.NoError(t, logger.Log("msg", "second"))
}
