// Package notifier broadcasts change pings from a run table to its observers.
package notifier

import (
	"sync"
	"sync/atomic"
)

// Notifier fans a change ping out to every subscriber. A ping carries no
// payload: listeners re-read the table when they receive one. Pings that
// arrive while a listener still has one pending are coalesced.
type Notifier struct {
	seq atomic.Uint64

	mu        sync.RWMutex
	listeners map[chan struct{}]struct{}
	closed    bool
}

// New creates a Notifier.
func New() *Notifier {
	return &Notifier{
		listeners: make(map[chan struct{}]struct{}),
	}
}

// Subscribe returns a channel that receives pings and a function that
// unsubscribes and closes it. The function is safe to call more than once.
// Subscribing to a closed Notifier returns an already closed channel.
func (n *Notifier) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	n.listeners[ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { n.remove(ch) })
	}
}

func (n *Notifier) remove(ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.listeners[ch]; !ok {
		return
	}
	delete(n.listeners, ch)
	close(ch)
}

// Broadcast pings every listener without blocking.
func (n *Notifier) Broadcast() {
	n.seq.Add(1)

	n.mu.RLock()
	defer n.mu.RUnlock()
	for ch := range n.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Seq returns how many broadcasts have been sent.
func (n *Notifier) Seq() uint64 {
	return n.seq.Load()
}

// Len returns the number of subscribers.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

// Close closes every subscriber channel. Later broadcasts are dropped.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for ch := range n.listeners {
		delete(n.listeners, ch)
		close(ch)
	}
}
