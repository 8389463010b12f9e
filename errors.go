package kstream

import "errors"

var (
	// ErrMessageTooLarge is returned by Put when a message exceeds
	// MaxMessageSize characters.
	ErrMessageTooLarge = errors.New("message exceeds maximum size")

	// ErrQueueFull is returned by Put when the producer buffer is at
	// capacity.
	ErrQueueFull = errors.New("producer queue is full")

	// ErrQueueClosed is returned by Put once the producer scope has begun
	// shutting down.
	ErrQueueClosed = errors.New("producer queue is closed")

	// ErrInvalidConcurrency is returned by RunProducer when the configured
	// concurrency is below one.
	ErrInvalidConcurrency = errors.New("max concurrency must be at least one")

	// ErrWorkerDied is returned by RunProducer when the dispatch worker exits
	// before the caller's function, or errors while draining.
	ErrWorkerDied = errors.New("producer worker exited unexpectedly")

	// ErrCleanupTimedOut is returned by RunProducer when the worker fails to
	// drain the queue within the configured cleanup timeout.
	ErrCleanupTimedOut = errors.New("timed out waiting for producer worker to drain")
)
