package task

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type registration struct {
	id ListenerID
	fn Listener
}

// listenerSet is an immutable snapshot of the registrations per kind.
type listenerSet map[EventKind][]registration

// registry holds listeners keyed by event kind. Dispatch reads a snapshot,
// so listeners may be added or removed while events are being delivered,
// including from inside a listener.
type registry struct {
	mu   sync.Mutex
	set  atomic.Pointer[listenerSet]
	kind map[ListenerID]EventKind
}

func newRegistry() *registry {
	r := &registry{kind: make(map[ListenerID]EventKind)}
	r.set.Store(&listenerSet{})
	return r
}

func (r *registry) add(kind EventKind, fn Listener) ListenerID {
	id := ListenerID(uuid.NewString())

	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.set.Load()
	next := make(listenerSet, len(old)+1)
	for k, regs := range old {
		next[k] = regs
	}
	regs := make([]registration, len(old[kind]), len(old[kind])+1)
	copy(regs, old[kind])
	next[kind] = append(regs, registration{id: id, fn: fn})

	r.kind[id] = kind
	r.set.Store(&next)
	return id
}

func (r *registry) remove(id ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind, ok := r.kind[id]
	if !ok {
		return false
	}
	delete(r.kind, id)

	old := *r.set.Load()
	next := make(listenerSet, len(old))
	for k, regs := range old {
		next[k] = regs
	}
	var kept []registration
	for _, reg := range old[kind] {
		if reg.id != id {
			kept = append(kept, reg)
		}
	}
	if len(kept) == 0 {
		delete(next, kind)
	} else {
		next[kind] = kept
	}
	r.set.Store(&next)
	return true
}

func (r *registry) count(kind EventKind) int {
	return len((*r.set.Load())[kind])
}

// dispatch delivers ev to the listeners of its kind in registration order.
// A panicking listener is logged and does not stop delivery.
func (r *registry) dispatch(ev Event, logger *zap.Logger) {
	for _, reg := range (*r.set.Load())[ev.Kind] {
		func() {
			defer func() {
				if p := recover(); p != nil {
					logger.Error("listener panicked",
						zap.String("listener", string(reg.id)),
						zap.String("event", ev.Kind.String()),
						zap.Any("panic", p),
						zap.ByteString("stack", debug.Stack()))
				}
			}()
			reg.fn(ev)
		}()
	}
}
