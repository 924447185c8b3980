// Package queue serializes operations per key.
//
// Operations submitted for the same key run one at a time in submission
// order; each starts only after the previous one has settled, whether it
// succeeded, failed or panicked. Operations for different keys never wait on
// each other.
package queue

import (
	"context"
	"fmt"
	"sync"
)

// ErrorHook observes every failed operation before the error is returned to
// its submitter.
type ErrorHook func(key string, err error)

// Queue is a registry of per-key execution chains.
// The zero value is not usable; call New.
type Queue struct {
	mu     sync.Mutex
	chains map[string]*chain
	onErr  ErrorHook
}

// chain tracks the tail of one key's queue.
type chain struct {
	tail    chan struct{} // closed when the last submitted operation settles
	pending int           // submitted but not yet settled
}

// New creates an empty queue. hook may be nil.
func New(hook ErrorHook) *Queue {
	return &Queue{
		chains: make(map[string]*chain),
		onErr:  hook,
	}
}

// Do runs fn after every operation previously submitted for key has settled.
//
// If ctx is cancelled while waiting, fn never runs and ctx.Err() is returned;
// the chain still advances past the abandoned slot.
func Do[T any](ctx context.Context, q *Queue, key string, fn func() (T, error)) (T, error) {
	var zero T

	prev, done := q.enqueue(key)

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Keep our slot ordered behind prev so later operations still wait for it.
			go func() {
				<-prev
				q.settle(key, done)
			}()
			return zero, ctx.Err()
		}
	}

	result, err := run(q, key, done, fn)
	if err != nil {
		if q.onErr != nil {
			q.onErr(key, err)
		}
		return zero, err
	}
	return result, nil
}

// Run is Do for operations without a result.
func (q *Queue) Run(ctx context.Context, key string, fn func() error) error {
	_, err := Do(ctx, q, key, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Pending returns the number of operations submitted for key that have not settled.
func (q *Queue) Pending(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if c, ok := q.chains[key]; ok {
		return c.pending
	}
	return 0
}

// Keys returns the number of keys with unsettled operations.
func (q *Queue) Keys() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chains)
}

func run[T any](q *Queue, key string, done chan struct{}, fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queued operation on %s panicked: %v", key, r)
		}
		q.settle(key, done)
	}()
	return fn()
}

// enqueue appends a slot for key and returns the previous tail (nil when the
// key was idle) and the new slot's completion channel.
func (q *Queue) enqueue(key string) (prev <-chan struct{}, done chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	done = make(chan struct{})
	c, ok := q.chains[key]
	if !ok {
		c = &chain{}
		q.chains[key] = c
	} else {
		prev = c.tail
	}
	c.tail = done
	c.pending++
	return prev, done
}

func (q *Queue) settle(key string, done chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	close(done)
	c := q.chains[key]
	c.pending--
	if c.pending == 0 {
		delete(q.chains, key)
	}
}
