package adapter

import (
	"context"
	"iter"
	"sync"
)

// DefaultFeedBuffer is the per-subscriber mailbox depth.
const DefaultFeedBuffer = 16

// Feed fans a single telemetry producer out to any number of subscribers.
//
// Publish never blocks: when a subscriber's mailbox is full its oldest
// pending value is discarded, so a slow subscriber sees values in order but
// may skip some. Fail terminates the feed; every subscriber drains what it
// already holds and then receives the terminal error.
type Feed[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]chan T
	nextID uint64
	buffer int
	err    error
	done   chan struct{}
}

// NewFeed creates a feed with the given per-subscriber buffer.
func NewFeed[T any](buffer int) *Feed[T] {
	if buffer <= 0 {
		buffer = DefaultFeedBuffer
	}
	return &Feed[T]{
		subs:   make(map[uint64]chan T),
		buffer: buffer,
		done:   make(chan struct{}),
	}
}

// Publish delivers v to every current subscriber.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return
	}

	for _, ch := range f.subs {
		select {
		case ch <- v:
		default:
			// Mailbox full: drop the oldest value, keep the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// Fail terminates the feed with err. Later calls are ignored.
func (f *Feed[T]) Fail(err error) {
	if err == nil {
		err = ErrClosed
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return
	}
	f.err = err
	close(f.done)
}

// Err returns the terminal error, or nil while the feed is live.
func (f *Feed[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Subscribers returns the number of active subscriptions.
func (f *Feed[T]) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Subscribe returns a sequence of published values that ends when ctx is
// cancelled or the feed fails.
func (f *Feed[T]) Subscribe(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		ch, id, err := f.subscribe()
		if err != nil {
			yield(zero, err)
			return
		}
		defer f.unsubscribe(id)

		for {
			select {
			case <-ctx.Done():
				return
			case v := <-ch:
				if !yield(v, nil) {
					return
				}
			case <-f.done:
				for {
					select {
					case v := <-ch:
						if !yield(v, nil) {
							return
						}
					default:
						yield(zero, f.Err())
						return
					}
				}
			}
		}
	}
}

func (f *Feed[T]) subscribe() (chan T, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, 0, f.err
	}

	f.nextID++
	ch := make(chan T, f.buffer)
	f.subs[f.nextID] = ch
	return ch, f.nextID, nil
}

func (f *Feed[T]) unsubscribe(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
}
