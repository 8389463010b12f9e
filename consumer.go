package kstream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"

	"github.com/usedatabrew/kstream/internal/carousel"
	"github.com/usedatabrew/kstream/internal/queue"
)

const (
	// Resharding and pull cadences, calibrated to stay clear of the stream
	// service's rate limits while keeping retrieval prompt.
	reshardSuccessInterval = 10 * time.Second
	reshardFailureInterval = 3 * time.Second
	pullActiveInterval     = 70 * time.Millisecond
	pullIdleInterval       = 5 * time.Second
	pullFailureInterval    = 2 * time.Second

	// shardWaitInterval paces the pull loop while no shard with a live
	// iterator is available yet.
	shardWaitInterval = 250 * time.Millisecond

	// readPollInterval bounds each blocking wait inside Read so the call can
	// notice context cancellation.
	readPollInterval = 100 * time.Millisecond
)

// fetched pairs a pulled record with the shard it came from, so the read API
// can advance that shard's progress marker on delivery.
type fetched struct {
	shard  *shardState
	record *kinesis.Record
}

// Consumer pulls records from every open shard of a stream, rotating between
// shards one GetRecords call at a time. Reads may happen from any number of
// goroutines.
type Consumer struct {
	conf   ConsumerConfig
	client StreamAPI
	log    *logrus.Entry
	stats  *consumerMetrics

	// cMut guards the ring and the shard table. Network calls never run
	// under it.
	cMut   sync.Mutex
	ring   *carousel.Carousel[string]
	shards map[string]*shardState

	out *queue.Bounded[fetched]
}

// RunConsumer runs fn with a consumer attached to the given stream. The
// resharding and pull loops run in the background for the duration of the
// call and are torn down once fn returns.
func RunConsumer(ctx context.Context, client StreamAPI, conf ConsumerConfig, fn func(context.Context, *Consumer) error) error {
	c, err := newConsumer(client, conf)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.runReshardLoop(ctx)
	go c.runPullLoop(ctx)

	return fn(ctx, c)
}

func newConsumer(client StreamAPI, conf ConsumerConfig) (*Consumer, error) {
	conf = conf.withDefaults()

	clientID, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	return &Consumer{
		conf:   conf,
		client: client,
		log: conf.Logger.WithFields(logrus.Fields{
			"stream":   conf.Stream,
			"clientID": clientID.String(),
		}),
		stats:  newConsumerMetrics(conf.Registerer, conf.Stream),
		ring:   carousel.New[string](),
		shards: map[string]*shardState{},
		out:    queue.NewBounded[fetched](conf.BatchSize),
	}, nil
}

//------------------------------------------------------------------------------

// updateStreamState discovers shards that are not yet part of the rotation
// and acquires an iterator for each. Shards present in the saved state resume
// after their recorded sequence number; everything else starts at the
// configured iterator type.
func (c *Consumer) updateStreamState(ctx context.Context) error {
	ids, err := c.listOpenShards(ctx)
	if err != nil {
		return err
	}

	c.cMut.Lock()
	known := make(map[string]struct{}, len(c.shards))
	for id := range c.shards {
		known[id] = struct{}{}
	}
	c.cMut.Unlock()

	var freshIDs []string
	fresh := map[string]*shardState{}
	for _, id := range ids {
		if _, ok := known[id]; ok {
			continue
		}
		iter, err := c.acquireIterator(ctx, id)
		if err != nil {
			return err
		}
		freshIDs = append(freshIDs, id)
		fresh[id] = newShardState(id, iter)
	}
	if len(freshIDs) == 0 {
		return nil
	}

	c.cMut.Lock()
	for id, state := range fresh {
		if _, ok := c.shards[id]; !ok {
			c.shards[id] = state
		}
	}
	c.ring.Append(freshIDs...)
	c.ring.Nub()
	c.cMut.Unlock()

	c.stats.shards.Add(float64(len(freshIDs)))
	c.log.WithField("shards", freshIDs).Info("Added newly discovered shards to the rotation")
	return nil
}

func (c *Consumer) listOpenShards(ctx context.Context) ([]string, error) {
	var ids []string
	var nextToken *string
	for {
		req := &kinesis.ListShardsInput{}
		if nextToken != nil {
			req.NextToken = nextToken
		} else {
			req.StreamName = aws.String(c.conf.Stream)
		}
		res, err := c.client.ListShardsWithContext(ctx, req)
		if err != nil {
			return nil, err
		}
		for _, shard := range res.Shards {
			if isShardOpen(shard) {
				ids = append(ids, aws.StringValue(shard.ShardId))
			}
		}
		if res.NextToken == nil || *res.NextToken == "" {
			return ids, nil
		}
		nextToken = res.NextToken
	}
}

func (c *Consumer) acquireIterator(ctx context.Context, shardID string) (string, error) {
	iterType := c.conf.IteratorType
	var startingSequence *string
	if seq, ok := c.conf.SavedState[shardID]; ok && seq != "" {
		iterType = kinesis.ShardIteratorTypeAfterSequenceNumber
		startingSequence = aws.String(seq)
	}

	res, err := c.client.GetShardIteratorWithContext(ctx, &kinesis.GetShardIteratorInput{
		StreamName:             aws.String(c.conf.Stream),
		ShardId:                aws.String(shardID),
		ShardIteratorType:      aws.String(iterType),
		StartingSequenceNumber: startingSequence,
	})
	if err != nil {
		return "", err
	}

	iter := aws.StringValue(res.ShardIterator)
	if iter == "" && startingSequence != nil {
		// If we failed to obtain from a sequence we start from beginning
		c.log.WithField("shardID", shardID).
			Warn("Failed to obtain iterator from saved sequence, starting from the trim horizon")

		res, err := c.client.GetShardIteratorWithContext(ctx, &kinesis.GetShardIteratorInput{
			StreamName:        aws.String(c.conf.Stream),
			ShardId:           aws.String(shardID),
			ShardIteratorType: aws.String(kinesis.ShardIteratorTypeTrimHorizon),
		})
		if err != nil {
			return "", err
		}
		iter = aws.StringValue(res.ShardIterator)
	}
	if iter == "" {
		return "", errors.New("failed to obtain shard iterator")
	}
	return iter, nil
}

//------------------------------------------------------------------------------

// replenish performs one pull: it waits for the read buffer to drain, fetches
// the next batch from the shard under the cursor, and rotates the carousel.
// The iterator replacement, the buffer writes and the rotation happen under
// the shared cell's lock so the resharding loop and StreamState never observe
// a half-applied pull. Read and TryRead take records from the buffer without
// that lock.
func (c *Consumer) replenish(ctx context.Context) (int, error) {
	if err := c.out.AwaitEmpty(ctx); err != nil {
		return 0, err
	}

	shard, iter, err := c.awaitCurrentShard(ctx)
	if err != nil {
		return 0, err
	}

	res, err := c.client.GetRecordsWithContext(ctx, &kinesis.GetRecordsInput{
		Limit:         aws.Int64(int64(c.conf.BatchSize)),
		ShardIterator: aws.String(iter),
	})
	if err != nil {
		return 0, err
	}

	c.cMut.Lock()
	shard.setIterator(aws.StringValue(res.NextShardIterator))
	for _, record := range res.Records {
		c.out.TryWrite(fetched{shard: shard, record: record})
	}
	c.ring.MoveRight()
	c.cMut.Unlock()

	return len(res.Records), nil
}

// awaitCurrentShard blocks until the cursor points at a shard with a live
// iterator. Shards read to their end are rotated past so one closed shard
// can't stall the whole rotation.
func (c *Consumer) awaitCurrentShard(ctx context.Context) (*shardState, string, error) {
	wait := time.NewTicker(shardWaitInterval)
	defer wait.Stop()
	for {
		c.cMut.Lock()
		if id, ok := c.ring.Cursor(); ok {
			if shard := c.shards[id]; shard != nil {
				iter, live := shard.iteratorToken()
				if live && iter != "" {
					c.cMut.Unlock()
					return shard, iter, nil
				}
				if !live {
					c.ring.MoveRight()
				}
			}
		}
		c.cMut.Unlock()

		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-wait.C:
		}
	}
}

func (c *Consumer) runReshardLoop(ctx context.Context) {
	for {
		wait := reshardSuccessInterval
		if err := c.updateStreamState(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.WithError(err).Error("Failed to update stream shard state")
			wait = reshardFailureInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (c *Consumer) runPullLoop(ctx context.Context) {
	for {
		n, err := c.replenish(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			c.log.WithError(err).Error("Failed to pull records")
			wait = pullFailureInterval
		case n == 0:
			wait = pullIdleInterval
		default:
			c.stats.fetched.Add(float64(n))
			wait = pullActiveInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

//------------------------------------------------------------------------------

// Read blocks until a record is available, marks its sequence number as
// consumed on the owning shard, and returns it.
func (c *Consumer) Read(ctx context.Context) (*kinesis.Record, error) {
	for {
		if items := c.out.TakeBatch(1, readPollInterval); len(items) == 1 {
			return c.deliver(items[0]), nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// TryRead is the non-blocking variant of Read.
func (c *Consumer) TryRead() (*kinesis.Record, bool) {
	items := c.out.TakeBatch(1, 0)
	if len(items) != 1 {
		return nil, false
	}
	return c.deliver(items[0]), true
}

func (c *Consumer) deliver(f fetched) *kinesis.Record {
	if seq := aws.StringValue(f.record.SequenceNumber); seq != "" {
		f.shard.setLastSequence(seq)
	}
	c.stats.read.Inc()
	return f.record
}

// Source returns a channel fed by repeated Read calls. The channel closes
// when ctx is cancelled; records taken off it are not replayable.
func (c *Consumer) Source(ctx context.Context) <-chan *kinesis.Record {
	ch := make(chan *kinesis.Record)
	go func() {
		defer close(ch)
		for {
			record, err := c.Read(ctx)
			if err != nil {
				return
			}
			select {
			case ch <- record:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// StreamState snapshots the last consumed sequence number of every shard that
// has delivered at least one record through the read API. The snapshot can be
// persisted and handed to a future consumer as ConsumerConfig.SavedState.
func (c *Consumer) StreamState() map[string]string {
	c.cMut.Lock()
	defer c.cMut.Unlock()
	out := map[string]string{}
	for id, shard := range c.shards {
		if seq, ok := shard.lastSequence(); ok {
			out[id] = seq
		}
	}
	return out
}
