package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelayGrowsAndCapsAtHardLimit(t *testing.T) {
	d0 := RetryDelay(Downloads, 0)
	d1 := RetryDelay(Downloads, 1)
	d2 := RetryDelay(Downloads, 2)

	assert.Greater(t, d1, d0)
	assert.Greater(t, d2, d1)
	assert.LessOrEqual(t, d2, Policies[Downloads].HardLimit)
}

func TestRetryDelayNeverExceedsHardLimitEvenAtHighRetryCount(t *testing.T) {
	delay := RetryDelay(ProcessingCPU, 50)
	assert.LessOrEqual(t, delay, Policies[ProcessingCPU].HardLimit)
}

func TestPoliciesCoverAllFixedQueues(t *testing.T) {
	for _, name := range []Name{Downloads, Uploads, ProcessingCPU, AsyncOperations, Maintenance} {
		p, ok := Policies[name]
		assert.True(t, ok, "missing policy for %s", name)
		assert.GreaterOrEqual(t, p.MaxRetries, 1)
	}

	assert.GreaterOrEqual(t, Policies[Downloads].MaxRetries, 3)
	assert.GreaterOrEqual(t, Policies[Uploads].MaxRetries, 3)
	assert.GreaterOrEqual(t, Policies[Maintenance].MaxRetries, Policies[ProcessingCPU].MaxRetries)
}
