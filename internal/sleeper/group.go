package sleeper

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config describes a group of sleepers.
type Config struct {
	Count    int
	Duration time.Duration
	Name     string // thread name, at most 15 bytes are kept
}

// Group is a fixed set of sleepers, each on its own pinned OS thread.
//
// Members never talk to each other and cannot be cancelled; a group ends
// when every member's sleep has elapsed or the process dies.
type Group struct {
	config Config
	eg     errgroup.Group

	pinned  chan error // one value per member, buffered so members never block
	started bool
	seen    int // pinned values consumed by Ready
}

// New validates config and returns a group that has not been started.
func New(config Config) (*Group, error) {
	if config.Count < 0 {
		return nil, fmt.Errorf("sleeper count must be >= 0")
	}
	if config.Duration < 0 {
		return nil, fmt.Errorf("sleep duration must be >= 0")
	}
	if config.Name == "" {
		return nil, fmt.Errorf("thread name must not be empty")
	}

	return &Group{
		config: config,
		pinned: make(chan error, config.Count),
	}, nil
}

// Count returns the number of members in the group.
func (g *Group) Count() int {
	return g.config.Count
}

// Start spawns every member. It panics if called twice.
func (g *Group) Start() {
	if g.started {
		panic("sleeper: Group started twice")
	}
	g.started = true

	for i := 0; i < g.config.Count; i++ {
		g.eg.Go(g.member)
	}
}

// member is the body of each sleeper goroutine.
func (g *Group) member() error {
	if err := Pin(g.config.Name); err != nil {
		g.pinned <- err
		return err
	}
	g.pinned <- nil
	return Sleep(g.config.Duration)
}

// Ready blocks until every member is pinned to a named thread, a member
// fails to pin, or ctx is done. A member reported ready may not have
// entered nanosleep yet.
//
// Ready is not safe for concurrent use.
func (g *Group) Ready(ctx context.Context) error {
	if !g.started {
		return fmt.Errorf("sleeper group not started")
	}

	for g.seen < g.config.Count {
		select {
		case err := <-g.pinned:
			g.seen++
			if err != nil {
				return fmt.Errorf("failed to pin sleeper: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Wait blocks until every member has returned and reports the first error.
func (g *Group) Wait() error {
	return g.eg.Wait()
}
