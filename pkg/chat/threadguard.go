package chat

import "sync"

// ThreadGuard is a per-thread try-lock for callers that hold no Session,
// such as the stateless proxy. A thread already held is reported busy
// rather than waited on.
type ThreadGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewThreadGuard creates an empty guard.
func NewThreadGuard() *ThreadGuard {
	return &ThreadGuard{held: make(map[string]struct{})}
}

// TryAcquire takes threadID if it is free. The returned release must be
// called exactly once when ok is true.
func (g *ThreadGuard) TryAcquire(threadID string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[threadID]; busy {
		return nil, false
	}
	g.held[threadID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, threadID)
			g.mu.Unlock()
		})
	}, true
}

// Held returns the number of threads currently held.
func (g *ThreadGuard) Held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.held)
}
