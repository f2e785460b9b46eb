package crawler

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

// Frontier implements the breadth-first crawl queue with deduplication
// against queued, in-flight and visited usernames.
type Frontier struct {
	mu       sync.Mutex
	items    []storage.ProfileRef
	queued   map[string]bool
	inFlight []storage.ProfileRef
	visited  map[string]storage.VisitRecord
	order    []string // visit order, for snapshots

	maxDepth    int
	maxProfiles int // 0 means unlimited
	dispatched  int

	now func() time.Time
}

// NewFrontier creates an empty frontier
func NewFrontier(maxDepth, maxProfiles int) *Frontier {
	return &Frontier{
		items:       make([]storage.ProfileRef, 0),
		queued:      make(map[string]bool),
		visited:     make(map[string]storage.VisitRecord),
		maxDepth:    maxDepth,
		maxProfiles: maxProfiles,
		now:         time.Now,
	}
}

// EnqueueSeeds adds operator-supplied usernames at depth 0.
// Returns the number of seeds added.
func (f *Frontier) EnqueueSeeds(usernames []string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	added := 0
	for _, raw := range usernames {
		name, ok := NormalizeUsername(raw)
		if !ok {
			logrus.Warnf("Skipping malformed seed %q", raw)
			continue
		}
		if f.push(storage.ProfileRef{Username: name}) {
			added++
		}
	}
	return added
}

// OfferFollowers enqueues parent's followers one level deeper.
// Nothing is enqueued once parent sits at the depth limit.
func (f *Frontier) OfferFollowers(parent storage.ProfileRef, candidates []string) int {
	if parent.Depth >= f.maxDepth {
		return 0
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	added := 0
	for _, raw := range candidates {
		name, ok := NormalizeUsername(raw)
		if !ok {
			logrus.Debugf("Skipping malformed follower %q of %s", raw, parent.Username)
			continue
		}
		if name == parent.Username {
			continue
		}
		if f.push(storage.ProfileRef{Username: name, SourceProfile: parent.Username, Depth: parent.Depth + 1}) {
			added++
		}
	}
	return added
}

// push appends ref unless the username is already known. Caller holds mu.
func (f *Frontier) push(ref storage.ProfileRef) bool {
	if f.queued[ref.Username] || f.isInFlight(ref.Username) {
		return false
	}
	if _, ok := f.visited[ref.Username]; ok {
		return false
	}
	f.queued[ref.Username] = true
	f.items = append(f.items, ref)
	return true
}

// Next pops the next candidate and marks it in flight.
// It returns false when the queue is empty or the profile budget is spent.
func (f *Frontier) Next() (storage.ProfileRef, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for len(f.items) > 0 {
		if f.maxProfiles > 0 && f.dispatched >= f.maxProfiles {
			return storage.ProfileRef{}, false
		}

		ref := f.items[0]
		f.items = f.items[1:]
		delete(f.queued, ref.Username)

		if _, ok := f.visited[ref.Username]; ok {
			continue
		}

		f.inFlight = append(f.inFlight, ref)
		f.dispatched++
		return ref, true
	}
	return storage.ProfileRef{}, false
}

// MarkVisited records the terminal outcome of an in-flight username
func (f *Frontier) MarkVisited(username string, outcome storage.Outcome, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	depth := 0
	if ref, ok := f.takeInFlight(username); ok {
		depth = ref.Depth
	}
	if _, ok := f.visited[username]; ok {
		return
	}
	f.visited[username] = storage.VisitRecord{
		Username:  username,
		Depth:     depth,
		Outcome:   outcome,
		Detail:    detail,
		VisitedAt: f.now().UTC(),
	}
	f.order = append(f.order, username)
}

// Return puts an undecided in-flight ref back at the head of the queue
// and refunds its share of the profile budget
func (f *Frontier) Return(ref storage.ProfileRef) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.takeInFlight(ref.Username); !ok {
		return
	}
	f.dispatched--
	f.queued[ref.Username] = true
	f.items = append([]storage.ProfileRef{ref}, f.items...)
}

func (f *Frontier) isInFlight(username string) bool {
	for _, ref := range f.inFlight {
		if ref.Username == username {
			return true
		}
	}
	return false
}

func (f *Frontier) takeInFlight(username string) (storage.ProfileRef, bool) {
	for i, ref := range f.inFlight {
		if ref.Username == username {
			f.inFlight = append(f.inFlight[:i], f.inFlight[i+1:]...)
			return ref, true
		}
	}
	return storage.ProfileRef{}, false
}

// Snapshot returns the queue, with in-flight refs at the head, and the
// visited set in visit order. Used for persisting state on checkpoint.
func (f *Frontier) Snapshot() ([]storage.ProfileRef, []storage.VisitRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()

	queue := make([]storage.ProfileRef, 0, len(f.inFlight)+len(f.items))
	queue = append(queue, f.inFlight...)
	queue = append(queue, f.items...)

	visited := make([]storage.VisitRecord, 0, len(f.order))
	for _, name := range f.order {
		visited = append(visited, f.visited[name])
	}
	return queue, visited
}

// Restore replaces the frontier contents with a checkpointed state.
// Every visited profile counts against the profile budget.
func (f *Frontier) Restore(queue []storage.ProfileRef, visited []storage.VisitRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.items = make([]storage.ProfileRef, 0, len(queue))
	f.queued = make(map[string]bool)
	f.inFlight = nil
	f.visited = make(map[string]storage.VisitRecord, len(visited))
	f.order = f.order[:0]

	for _, v := range visited {
		if _, ok := f.visited[v.Username]; ok {
			continue
		}
		f.visited[v.Username] = v
		f.order = append(f.order, v.Username)
	}
	for _, ref := range queue {
		f.push(ref)
	}
	f.dispatched = len(f.visited)
}

// Len returns the number of queued refs
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// InFlight returns the number of popped but undecided refs
func (f *Frontier) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inFlight)
}

// VisitedCount returns the size of the visited set
func (f *Frontier) VisitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visited)
}

// IsVisited reports whether username has a terminal outcome
func (f *Frontier) IsVisited(username string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.visited[username]
	return ok
}

// BudgetSpent reports whether the profile budget stops further dispatches
func (f *Frontier) BudgetSpent() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxProfiles > 0 && f.dispatched >= f.maxProfiles
}
