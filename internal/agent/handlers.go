package agent

import (
	"context"
	"sort"
	"time"

	"velu/internal/task"
)

// Echo returns the payload unchanged under "data".
func Echo(_ context.Context, p task.Payload) task.Result {
	return task.Success("echo").With("data", p.Clone())
}

// Analyzer reports the payload's key count and keys. Keys are sorted since
// payload maps carry no order.
func Analyzer(_ context.Context, p task.Payload) task.Result {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return task.Success("analyzer").With("result", map[string]any{
		"key_count": len(keys),
		"keys":      keys,
		"summary":   "analysis complete",
	})
}

const (
	defaultSleepSeconds = 15
	minSleepSeconds     = 1
	maxSleepSeconds     = 600
)

// NewSleep returns the sleep handler. The wait is not interruptible.
func NewSleep(sleep func(time.Duration)) Handler {
	if sleep == nil {
		sleep = time.Sleep
	}
	return func(_ context.Context, p task.Payload) task.Result {
		var in struct {
			Seconds float64 `mapstructure:"seconds"`
		}
		if err := p.Decode(&in); err != nil {
			return task.Failure("sleep", "invalid seconds")
		}
		if in.Seconds == 0 {
			in.Seconds = defaultSleepSeconds
		}
		seconds := int(in.Seconds)
		seconds = max(minSleepSeconds, min(seconds, maxSleepSeconds))
		sleep(time.Duration(seconds) * time.Second)
		return task.Success("sleep").With("slept_seconds", seconds)
	}
}
