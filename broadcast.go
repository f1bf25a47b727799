package patchfield

import (
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
)

// Broadcaster delivers events to registered observers in registration order.
type Broadcaster struct {
	mu        sync.Mutex
	observers []Observer
}

// NewBroadcaster returns a broadcaster without observers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Identifiable reports whether o can be registered: observers are matched by
// ==, so their dynamic type must be comparable.
func Identifiable(o Observer) bool {
	return o != nil && reflect.TypeOf(o).Comparable()
}

// Register adds o and reports whether it was not registered yet. Observers
// that are not Identifiable are refused.
func (b *Broadcaster) Register(o Observer) bool {
	if !Identifiable(o) {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.observers {
		if existing == o {
			return false
		}
	}
	b.observers = append(b.observers, o)
	return true
}

// Unregister removes o and reports whether it was registered.
func (b *Broadcaster) Unregister(o Observer) bool {
	if !Identifiable(o) {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.observers {
		if existing == o {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered observers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observers)
}

// Broadcast calls deliver for each live observer, one at a time. Failed
// deliveries are logged and skipped.
func (b *Broadcaster) Broadcast(event EventKind, deliver func(Observer) error) {
	for _, o := range b.live() {
		if err := deliver(o); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Broadcast",
				"event":    event,
				"error":    err.Error(),
			}).Warn("Observer delivery failed; skipping")
		}
	}
}

// live prunes dead observers and returns a snapshot of the remaining ones.
func (b *Broadcaster) live() []Observer {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.observers[:0]
	for _, o := range b.observers {
		if l, ok := o.(Liveness); ok && !l.Alive() {
			logrus.WithFields(logrus.Fields{
				"function": "Broadcast",
			}).Debug("Pruning dead observer")
			continue
		}
		kept = append(kept, o)
	}
	clear(b.observers[len(kept):])
	b.observers = kept
	return append([]Observer(nil), kept...)
}
