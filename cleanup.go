package regtest

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Guard releases an instance exactly once, no matter how many times Release
// is called.
type Guard struct {
	once    sync.Once
	release func() error
	err     error
}

func newGuard(release func() error) *Guard {
	return &Guard{release: release}
}

// Release runs the release function on first call and returns its result
// on every call.
func (g *Guard) Release() error {
	g.once.Do(func() {
		g.err = g.release()
	})
	return g.err
}

// guards is a LIFO stack of guards released by a controller's Close.
type guards struct {
	stack []*Guard
}

func (gs *guards) push(g *Guard) {
	gs.stack = append(gs.stack, g)
}

// releaseAll releases every guard, newest first, and empties the stack.
func (gs *guards) releaseAll() error {
	var merr *multierror.Error
	for i := len(gs.stack) - 1; i >= 0; i-- {
		if err := gs.stack[i].Release(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	gs.stack = nil
	return merr.ErrorOrNil()
}
