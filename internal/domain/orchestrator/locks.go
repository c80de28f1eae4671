package orchestrator

import "sync"

type opKind string

const (
	opStarting opKind = "starting"
	opStopping opKind = "stopping"
)

type operation struct {
	kind opKind
	done chan struct{}
}

// lockTable enforces at most one in-flight start or stop per profile.
// Checks and sets happen atomically under one mutex; the held operation
// exposes a done channel so a stop can wait for a start to resolve.
type lockTable struct {
	mu  sync.Mutex
	ops map[string]*operation
}

func newLockTable() *lockTable {
	return &lockTable{ops: make(map[string]*operation)}
}

// acquire takes the lock for a start, mapping a held lock to the
// lifecycle errors callers expect.
func (t *lockTable) acquire(profileID string, kind opKind) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.ops[profileID]; ok {
		if existing.kind == kind {
			return nil, ErrAlreadyInProgress
		}
		return nil, ErrConflictingOperation
	}

	op := &operation{kind: kind, done: make(chan struct{})}
	t.ops[profileID] = op
	return func() { t.release(profileID, op) }, nil
}

// tryAcquire is acquire with the holder's kind reported, so stop can
// distinguish "another stop" from "a start in flight".
func (t *lockTable) tryAcquire(profileID string, kind opKind) (func(), opKind, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.ops[profileID]; ok {
		return nil, existing.kind, ErrConflictingOperation
	}

	op := &operation{kind: kind, done: make(chan struct{})}
	t.ops[profileID] = op
	return func() { t.release(profileID, op) }, "", nil
}

// waiter returns the current holder's done channel, or nil when the
// lock is free.
func (t *lockTable) waiter(profileID string) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	if op, ok := t.ops[profileID]; ok {
		return op.done
	}
	return nil
}

func (t *lockTable) held(profileID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ops[profileID]
	return ok
}

// release frees the lock only if op still holds it, making double
// release harmless.
func (t *lockTable) release(profileID string, op *operation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if current, ok := t.ops[profileID]; ok && current == op {
		delete(t.ops, profileID)
		close(op.done)
	}
}
