package time

import (
	"context"
	"sync"
	"time"
)

const nowContextKey contextKey = iota

type (
	Clock interface {
		Now(context.Context) time.Time
	}

	// ManualClock only moves when told to.
	ManualClock struct {
		mutex *sync.RWMutex
		now   time.Time
	}

	systemClock struct{}
	contextKey  int
)

func NewClock() Clock {
	return systemClock{}
}

func (c systemClock) Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(nowContextKey).(time.Time); ok {
		return t
	}

	return time.Now()
}

// Freeze pins the system clock time for everything running within the returned context.
func Freeze(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, nowContextKey, t)
}

func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{
		mutex: &sync.RWMutex{},
		now:   now,
	}
}

func (c *ManualClock) Now(context.Context) time.Time {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.now
}

func (c *ManualClock) Set(t time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.now = t
}

func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.now = c.now.Add(d)
	return c.now
}
