package platform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPreciseSleep_WaitsAtLeastDuration(t *testing.T) {
	start := time.Now()
	PreciseSleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Millisecond)
}

func TestPreciseSleep_NonPositiveReturnsImmediately(t *testing.T) {
	start := time.Now()
	PreciseSleep(0)
	PreciseSleep(-time.Second)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestNopBinder(t *testing.T) {
	var b Binder = NopBinder{}
	assert.NoError(t, b.Bind(0, 80))
}
