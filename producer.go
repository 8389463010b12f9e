package kstream

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"

	"github.com/usedatabrew/kstream/internal/queue"
)

const (
	partitionKeyLen = 25

	// workerMaxRespawns bounds how often a crashed worker loop is restarted
	// before the scope gives up.
	workerMaxRespawns = 5
)

// messageItem is a buffered message awaiting dispatch. attemptsLeft starts at
// MaxRetries+1 so the initial attempt counts against the budget; an item with
// no attempts left is ineligible and gets dropped.
type messageItem struct {
	payload      string
	partitionKey string
	attemptsLeft int
}

func (m messageItem) eligible() bool {
	return m.attemptsLeft >= 1
}

// Producer buffers messages and hands them to a background worker for
// dispatch. Put may be called from any number of goroutines.
type Producer struct {
	conf   ProducerConfig
	client StreamAPI
	log    *logrus.Entry
	stats  *producerMetrics
	queue  queue.Queue[messageItem]
}

// RunProducer runs fn with a producer attached to the given stream. The
// dispatch worker runs for the duration of the call; once fn returns, the
// buffer is closed and the worker drains it, bounded by
// conf.CleanupTimeout when set. The error from fn is propagated, unless the
// worker dies first or fails to drain in time.
func RunProducer(ctx context.Context, client StreamAPI, conf ProducerConfig, fn func(context.Context, *Producer) error) error {
	p, err := newProducer(client, conf)
	if err != nil {
		return err
	}
	conf = p.conf

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- p.runWorker(ctx)
	}()

	innerDone := make(chan error, 1)
	go func() {
		innerDone <- fn(ctx, p)
	}()

	select {
	case werr := <-workerDone:
		// The worker never finishes on its own: the queue is only closed
		// after fn returns.
		if werr != nil {
			return fmt.Errorf("%w: %v", ErrWorkerDied, werr)
		}
		return ErrWorkerDied
	case ierr := <-innerDone:
		p.queue.Close()
		if conf.CleanupTimeout > 0 {
			expiry := time.NewTimer(conf.CleanupTimeout)
			defer expiry.Stop()
			select {
			case werr := <-workerDone:
				if werr != nil {
					return fmt.Errorf("%w: %v", ErrWorkerDied, werr)
				}
			case <-expiry.C:
				return ErrCleanupTimedOut
			}
		} else if werr := <-workerDone; werr != nil {
			return fmt.Errorf("%w: %v", ErrWorkerDied, werr)
		}
		return ierr
	}
}

func newProducer(client StreamAPI, conf ProducerConfig) (*Producer, error) {
	conf = conf.withDefaults()
	if conf.MaxConcurrency < 1 {
		return nil, ErrInvalidConcurrency
	}

	clientID, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	return &Producer{
		conf:   conf,
		client: client,
		log: conf.Logger.WithFields(logrus.Fields{
			"stream":   conf.Stream,
			"clientID": clientID.String(),
		}),
		stats: newProducerMetrics(conf.Registerer, conf.Stream),
		queue: queue.NewBounded[messageItem](conf.QueueBounds),
	}, nil
}

// Put buffers a message for dispatch under a randomly generated partition
// key, which spreads messages across the stream's shards. It never blocks.
func (p *Producer) Put(msg string) error {
	if utf8.RuneCountInString(msg) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	item := messageItem{
		payload:      msg,
		partitionKey: randomPartitionKey(),
		attemptsLeft: p.conf.Retry.MaxRetries + 1,
	}
	switch p.queue.TryWrite(item) {
	case queue.Written:
		return nil
	case queue.Full:
		return ErrQueueFull
	default:
		return ErrQueueClosed
	}
}

func randomPartitionKey() string {
	b := make([]byte, partitionKeyLen)
	for i := range b {
		b[i] = byte('a' + rand.Intn(26))
	}
	return string(b)
}

// runWorker supervises the dispatch loop, respawning it a bounded number of
// times when it crashes.
func (p *Producer) runWorker(ctx context.Context) error {
	expBoff := backoff.NewExponentialBackOff()
	expBoff.InitialInterval = 300 * time.Millisecond
	expBoff.MaxInterval = 5 * time.Second
	expBoff.Reset()
	boff := backoff.WithMaxRetries(expBoff, workerMaxRespawns)
	for {
		err := p.workerLoop(ctx)
		if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return err
		}
		wait := boff.NextBackOff()
		if wait == backoff.Stop {
			p.log.WithError(err).Error("Producer worker crashed too often, giving up")
			return err
		}
		p.log.WithError(err).Errorf("Producer worker crashed, respawning in %v", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return err
		}
	}
}

// workerLoop reads chunks off the buffer and feeds them to the dispatch sink.
// Leftovers from a failed dispatch round are folded into the next chunk
// rather than re-queued, so retries survive the shutdown drain. Returns nil
// once the queue is closed and fully drained.
func (p *Producer) workerLoop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()

	var leftovers []messageItem
	for {
		chunk := p.queue.TakeBatch(p.conf.maxChunkSize(), minChunkingInterval)
		if len(leftovers) > 0 {
			chunk = append(leftovers, chunk...)
			leftovers = nil
		}
		if len(chunk) > 0 {
			leftovers = p.dispatch(ctx, chunk)
		}
		if len(leftovers) == 0 && p.queue.IsClosedAndEmpty() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
