package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

const maxCapacity = 1 << 16

// ErrClosed is returned by Recv once the subscription or its channel has been closed.
var ErrClosed = errors.New("broadcast channel closed")

// Message is a single published payload. It is never mutated after Publish returns.
type Message struct {
	Payload string
	Origin  uuid.UUID // publishing connection, uuid.Nil for server-originated messages
	Seq     uint64
}

// LaggedError reports that a subscriber fell behind and Skipped messages were dropped for it.
// The next Recv continues with the oldest message still buffered.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("subscriber lagged behind, skipped %d messages", e.Skipped)
}

// Channel is a bounded multi-producer/multi-consumer broadcast queue.
type Channel struct {
	mu      sync.Mutex
	buf     []Message
	next    uint64 // sequence number of the next stored message
	base    uint64 // first sequence number stored since the ring was last emptied
	subs    int
	notify  chan struct{}
	closed  bool
	dropped uint64 // published while nobody was subscribed
}

// New creates a channel that buffers up to capacity messages per subscriber.
func New(capacity int) (*Channel, error) {
	if capacity < 1 || capacity > maxCapacity {
		return nil, fmt.Errorf("capacity must be between 1 and %d, got %d", maxCapacity, capacity)
	}
	return &Channel{
		buf:    make([]Message, capacity),
		notify: make(chan struct{}),
	}, nil
}

// Publish appends payload to the ring and wakes every waiting subscriber.
// It returns the number of subscribers that will observe the message; with none, the
// message is dropped.
func (c *Channel) Publish(payload string, origin uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0
	}
	if c.subs == 0 {
		c.dropped++
		return 0
	}

	c.buf[c.next%uint64(len(c.buf))] = Message{Payload: payload, Origin: origin, Seq: c.next}
	c.next++

	close(c.notify)
	c.notify = make(chan struct{})

	return c.subs
}

// Subscribe returns a Subscription that observes every message published after this call.
func (c *Channel) Subscribe() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Subscription{ch: c, pos: c.next, done: make(chan struct{})}
	if c.closed {
		s.closed = true
		return s
	}
	c.subs++
	return s
}

// Subscribers returns the number of open subscriptions.
func (c *Channel) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs
}

// Len returns the number of messages currently held in the ring.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.subs == 0 {
		return 0
	}
	return int(c.next - c.oldest())
}

// Cap returns the ring capacity.
func (c *Channel) Cap() int {
	return len(c.buf)
}

// Dropped returns how many messages were published while there were no subscribers.
func (c *Channel) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close wakes every receiver. Subsequent Recv calls return ErrClosed and Publish becomes a no-op.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.notify)
	clear(c.buf)
}

// oldest returns the sequence number of the oldest buffered message. Must be called with mu held.
func (c *Channel) oldest() uint64 {
	size := uint64(len(c.buf))
	if c.next-c.base < size {
		return c.base
	}
	return c.next - size
}

func (c *Channel) release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subs--
	if c.subs == 0 && !c.closed {
		// Nobody can read the buffered payloads anymore; new subscribers start at next.
		clear(c.buf)
		c.base = c.next
	}
}

// Subscription is one receiver's cursor into a Channel. A Subscription must only be read
// from a single goroutine.
type Subscription struct {
	ch   *Channel
	pos  uint64
	done chan struct{}

	closed    bool // guarded by ch.mu
	closeOnce sync.Once
}

// Recv returns the next message for this subscriber, blocking until one is published,
// ctx is done, or the subscription is closed.
//
// When the subscriber fell behind by more than the capacity, Recv returns a *LaggedError
// once and moves the cursor to the oldest buffered message.
func (s *Subscription) Recv(ctx context.Context) (Message, error) {
	c := s.ch
	for {
		c.mu.Lock()
		if s.closed || c.closed {
			c.mu.Unlock()
			return Message{}, ErrClosed
		}

		if oldest := c.oldest(); s.pos < oldest {
			skipped := oldest - s.pos
			s.pos = oldest
			c.mu.Unlock()
			return Message{}, &LaggedError{Skipped: skipped}
		}

		if s.pos < c.next {
			msg := c.buf[s.pos%uint64(len(c.buf))]
			s.pos++
			c.mu.Unlock()
			return msg, nil
		}

		wait := c.notify
		c.mu.Unlock()

		select {
		case <-wait:
		case <-s.done:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Close releases the subscription. It is safe to call more than once and from any goroutine.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.ch.mu.Lock()
		alreadyClosed := s.closed
		s.closed = true
		s.ch.mu.Unlock()

		close(s.done)
		if !alreadyClosed {
			s.ch.release()
		}
	})
}
