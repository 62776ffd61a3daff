package fabric

import (
	"sync"
)

// hub fans payloads out to the local subscriptions of each channel.
// Backends use it to track which channels need a backend subscription.
type hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
	buffer int
}

func newHub(buffer int) *hub {
	return &hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// add registers a new subscription. first reports whether the channel had no
// subscribers before.
func (h *hub) add(channel string, onClose func(*Subscription)) (sub *Subscription, first bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false, ErrClosed
	}

	sub = newSubscription(channel, h.buffer, onClose)
	set, ok := h.subs[channel]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[channel] = set
	}
	set[sub] = struct{}{}
	return sub, !ok, nil
}

// remove drops the subscription. last reports whether the channel is now empty.
func (h *hub) remove(sub *Subscription) (last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[sub.channel]
	if !ok {
		return false
	}
	if _, ok := set[sub]; !ok {
		return false
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.channel)
		return true
	}
	return false
}

// dispatch delivers payload to every local subscriber of channel
func (h *hub) dispatch(channel string, payload []byte) int {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs[channel]))
	for sub := range h.subs[channel] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if sub.deliver(payload) {
			delivered++
		}
	}
	return delivered
}

// channels returns the names of all channels with at least one subscriber
func (h *hub) channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.subs))
	for name := range h.subs {
		names = append(names, name)
	}
	return names
}

func (h *hub) has(channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subs[channel]
	return ok
}

func (h *hub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// close terminates every subscription. It returns false if already closed.
func (h *hub) close() bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.closed = true
	all := h.subs
	h.subs = make(map[string]map[*Subscription]struct{})
	h.mu.Unlock()

	for _, set := range all {
		for sub := range set {
			sub.terminate()
		}
	}
	return true
}
