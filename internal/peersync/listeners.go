package peersync

import (
	"log"
	"sync"

	"github.com/xelth-com/posyncgo/internal/protocol"
)

// Listener receives every sync payload originating from another device
type Listener func(protocol.SyncPayload)

// listenerSet is an explicit subscription registry; no ambient globals.
// Listeners are independent: a panicking listener is logged and the
// rest still run.
type listenerSet struct {
	mu   sync.RWMutex
	next int
	fns  map[int]Listener
}

func newListenerSet() *listenerSet {
	return &listenerSet{fns: make(map[int]Listener)}
}

// add registers a listener and returns its removal function
func (l *listenerSet) add(fn Listener) func() {
	l.mu.Lock()
	id := l.next
	l.next++
	l.fns[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

// dispatch invokes every listener with the payload
func (l *listenerSet) dispatch(payload protocol.SyncPayload) {
	l.mu.RLock()
	fns := make([]Listener, 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		invoke(fn, payload)
	}
}

func invoke(fn Listener, payload protocol.SyncPayload) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Sync: listener panic: %v", r)
		}
	}()
	fn(payload)
}
