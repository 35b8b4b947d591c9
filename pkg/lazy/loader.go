package lazy

import (
	"fmt"
	"sync"
)

// Loader builds its value on the first Load and keeps it, a failed build is not retried.
type Loader[T any] interface {
	MustLoad() T
	Load() (T, error)
	// IfLoaded calls f only when the value was built successfully, containers use it on shutdown.
	IfLoaded(f func(T))
}

type loader[T any] struct {
	provider func() (T, error)
	once     *sync.Once
	mutex    *sync.RWMutex
	loaded   bool
	value    T
	err      error
}

func New[T any](provider func() (T, error)) Loader[T] {
	return &loader[T]{
		provider: provider,
		once:     &sync.Once{},
		mutex:    &sync.RWMutex{},
	}
}

func (l *loader[T]) MustLoad() T {
	value, err := l.Load()
	if err != nil {
		panic(err)
	}

	return value
}

func (l *loader[T]) Load() (T, error) {
	l.once.Do(func() {
		value, err := l.provider()

		l.mutex.Lock()
		defer l.mutex.Unlock()
		if err != nil {
			l.err = fmt.Errorf("load value of %T: %w", l.value, err)
			return
		}
		l.loaded = true
		l.value = value
	})

	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.value, l.err
}

func (l *loader[T]) IfLoaded(f func(T)) {
	l.mutex.RLock()
	loaded, value := l.loaded, l.value
	l.mutex.RUnlock()

	if loaded {
		f(value)
	}
}
