package changeset

import (
	"github.com/emirpasic/gods/trees/binaryheap"

	"crap-clone/history"
)

// Scheduler maintains the min-heap of ready changesets spec.md §4.3
// describes, keyed by (time, kind, stable id) for a deterministic,
// reproducible total order.
//
// Built on github.com/emirpasic/gods (already a ground-truth
// dependency, used there for ordered containers in inner.go and
// selection.go) rather than container/heap, matching the ground
// truth's habit of reaching for gods containers instead of hand-
// rolling heap boilerplate.
type Scheduler struct {
	db   *history.Database
	heap *binaryheap.Heap
}

func compareChangesets(db *history.Database) func(a, b interface{}) int {
	return func(a, b interface{}) int {
		ca := db.Changesets[a.(int)]
		cb := db.Changesets[b.(int)]
		if ca.Time != cb.Time {
			if ca.Time < cb.Time {
				return -1
			}
			return 1
		}
		if ca.Kind != cb.Kind {
			// Commits before tag releases on a tie: a commit that
			// lands at the same second as a tag release most likely
			// caused it (CVS tag timestamps are derived from the
			// versions they name), so let the data land before the
			// pointer moves. Documented tie-break per spec.md §9.
			if ca.Kind == history.KindCommit {
				return -1
			}
			return 1
		}
		if ca.ID != cb.ID {
			if ca.ID < cb.ID {
				return -1
			}
			return 1
		}
		return 0
	}
}

// NewScheduler builds a scheduler over db. The caller is responsible
// for having already run BuildCommits, BuildTags, Wire and
// branch.Analyse.
func NewScheduler(db *history.Database) *Scheduler {
	return &Scheduler{db: db, heap: binaryheap.NewWith(compareChangesets(db))}
}

// Seed pushes every changeset whose UnreadyCount is already zero.
func (s *Scheduler) Seed() {
	for _, cs := range s.db.Changesets {
		if cs.UnreadyCount == 0 {
			s.heap.Push(cs.ID)
		}
	}
}

// Next pops the minimum-keyed ready changeset, or returns ok=false
// once the heap is drained.
func (s *Scheduler) Next() (cs *history.Changeset, ok bool) {
	v, found := s.heap.Pop()
	if !found {
		return nil, false
	}
	return s.db.Changesets[v.(int)], true
}

// Emitted decrements the UnreadyCount of every child of cs and
// heap-inserts any child that reaches zero.
func (s *Scheduler) Emitted(cs *history.Changeset) {
	for _, child := range cs.Children {
		child.UnreadyCount--
		if child.UnreadyCount == 0 {
			s.heap.Push(child.ID)
		}
	}
}
