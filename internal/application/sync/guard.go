package sync

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	domain "github.com/care/erpsync/internal/domain/sync"
)

// Guard holds a per-record lease so at most one sync attempt per record is
// in flight at a time. The default policy lets late arrivals wait and share
// the leader's result; reject mode fails them immediately instead.
type Guard struct {
	reject bool
	group  singleflight.Group

	mu     sync.Mutex
	active map[string]struct{}
}

// NewGuard creates a guard. rejectConcurrent selects the reject policy.
func NewGuard(rejectConcurrent bool) *Guard {
	return &Guard{
		reject: rejectConcurrent,
		active: make(map[string]struct{}),
	}
}

// Do runs fn under the record's lease. In wait mode concurrent callers for
// the same record share a single execution and all receive its result. In
// reject mode a contended lease fails with ErrConcurrentSync and fn is not
// run.
func (g *Guard) Do(recordID uuid.UUID, fn func() domain.Result) (domain.Result, error) {
	key := recordID.String()

	if g.reject {
		g.mu.Lock()
		if _, busy := g.active[key]; busy {
			g.mu.Unlock()
			return domain.Result{}, fmt.Errorf("%w: record %s", domain.ErrConcurrentSync, key)
		}
		g.active[key] = struct{}{}
		g.mu.Unlock()

		defer func() {
			g.mu.Lock()
			delete(g.active, key)
			g.mu.Unlock()
		}()
		return fn(), nil
	}

	v, _, _ := g.group.Do(key, func() (any, error) {
		return fn(), nil
	})
	return v.(domain.Result), nil
}
