package chat

import (
	"context"

	"peerchat/network"
)

// RelayCapacity is the number of messages the relay queue holds before publishers block.
const RelayCapacity = 32

// Relay is the bounded queue between message producers and the single renderer.
type Relay struct {
	queue chan network.Message
}

// NewRelay returns a relay with the given capacity; non-positive means RelayCapacity.
func NewRelay(capacity int) *Relay {
	if capacity <= 0 {
		capacity = RelayCapacity
	}
	return &Relay{queue: make(chan network.Message, capacity)}
}

// Publish enqueues msg, waiting for a free slot until ctx is done. Messages are never dropped.
func (r *Relay) Publish(ctx context.Context, msg network.Message) error {
	select {
	case r.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages is the consumer side of the queue.
func (r *Relay) Messages() <-chan network.Message {
	return r.queue
}

// Len reports the number of queued messages.
func (r *Relay) Len() int {
	return len(r.queue)
}

// Cap reports the queue capacity.
func (r *Relay) Cap() int {
	return cap(r.queue)
}
