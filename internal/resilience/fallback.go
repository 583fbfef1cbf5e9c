package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no backend in a [Group] produced a result.
var ErrAllFailed = errors.New("resilience: all backends failed")

// Backend is one named entry of a Group.
type Backend[T any] struct {
	Name  string
	Value T
}

// Group tries its backends in order, each behind its own Breaker.
type Group[T any] struct {
	entries []groupEntry[T]
}

type groupEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// NewGroup returns a Group over backends in preference order. Each backend
// gets a breaker configured from cfg with the backend's name.
func NewGroup[T any](cfg BreakerConfig, backends ...Backend[T]) *Group[T] {
	g := &Group[T]{}
	for _, b := range backends {
		bc := cfg
		bc.Name = b.Name
		g.entries = append(g.entries, groupEntry[T]{name: b.Name, value: b.Value, breaker: NewBreaker(bc)})
	}
	return g
}

// Len returns the number of backends.
func (g *Group[T]) Len() int { return len(g.entries) }

// Primary returns the first backend's value.
func (g *Group[T]) Primary() (T, bool) {
	if len(g.entries) == 0 {
		var zero T
		return zero, false
	}
	return g.entries[0].value, true
}

// States reports every backend's breaker state by name.
func (g *Group[T]) States() map[string]State {
	out := make(map[string]State, len(g.entries))
	for _, e := range g.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}

// Do calls fn on each backend in turn until one succeeds. A cancelled
// context stops the walk at once and returns the context error.
func Do[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for _, e := range g.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var result R
		err := e.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			result, err = fn(ctx, e.value)
			return err
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping backend with open circuit", "backend", e.name)
			continue
		}
		slog.Warn("resilience: backend failed", "backend", e.name, "err", err)
	}
	if lastErr == nil {
		lastErr = errors.New("no backends configured")
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
