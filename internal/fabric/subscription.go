package fabric

import (
	"log/slog"
	"sync"
)

// Subscription is a live interest in one channel.
// Messages is closed after Close or when the owning fabric closes.
type Subscription struct {
	channel string
	ch      chan []byte

	mu      sync.Mutex // Protects closed and sends on ch
	closed  bool
	onClose func(*Subscription)
}

func newSubscription(channel string, buffer int, onClose func(*Subscription)) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Subscription{
		channel: channel,
		ch:      make(chan []byte, buffer),
		onClose: onClose,
	}
}

// Channel returns the subscribed channel name
func (s *Subscription) Channel() string {
	return s.channel
}

// Messages returns the stream of payloads published to the channel
func (s *Subscription) Messages() <-chan []byte {
	return s.ch
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	if s.terminate() && s.onClose != nil {
		s.onClose(s)
	}
}

// terminate closes the message stream without notifying the owner
func (s *Subscription) terminate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.ch)
	return true
}

// deliver enqueues payload without blocking. A full queue drops the payload.
func (s *Subscription) deliver(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- payload:
		return true
	default:
		slog.Warn("Dropping fabric message for slow subscriber", "channel", s.channel)
		return false
	}
}
