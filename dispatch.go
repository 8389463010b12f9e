package kstream

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kinesis"

	"github.com/usedatabrew/kstream/internal/task"
)

const (
	// sinkStagger spaces out the start of concurrent dispatch requests.
	sinkStagger = 100 * time.Millisecond

	// sendFailureBackoff is how long either sink waits after a failed
	// request before yielding its records back for retry.
	sendFailureBackoff = 5 * time.Second
)

// dispatch pushes a chunk of items through the configured sink and returns
// the items that must be retried. Ordering between fresh and retried items is
// not preserved.
func (p *Producer) dispatch(ctx context.Context, items []messageItem) []messageItem {
	if p.conf.Batching.Endpoint == EndpointSingle {
		return flatten(task.Map(ctx, p.conf.MaxConcurrency, sinkStagger, items, p.dispatchOne))
	}
	batches := splitBatches(items, p.conf.Batching.Size)
	return flatten(task.Map(ctx, p.conf.MaxConcurrency, sinkStagger, batches, p.dispatchBatch))
}

// dispatchOne sends a single record through PutRecord. A failed attempt costs
// the record one unit of its budget; eligibility is re-checked on the next
// round.
func (p *Producer) dispatchOne(ctx context.Context, item messageItem) []messageItem {
	if !item.eligible() {
		p.stats.dropped.Inc()
		return nil
	}
	_, err := p.client.PutRecordWithContext(ctx, &kinesis.PutRecordInput{
		Data:         []byte(item.payload),
		PartitionKey: aws.String(item.partitionKey),
		StreamName:   aws.String(p.conf.Stream),
	})
	if err != nil {
		p.stats.failed.Inc()
		p.log.WithError(err).Error("Failed to put record")
		select {
		case <-time.After(sendFailureBackoff):
		case <-ctx.Done():
		}
		item.attemptsLeft--
		p.stats.retried.Inc()
		return []messageItem{item}
	}
	p.stats.sent.Inc()
	return nil
}

// dispatchBatch sends a batch through PutRecords. When the call itself fails
// nothing was attempted per record, so the whole eligible batch is yielded
// back with its budget untouched; per-record errors in a successful call cost
// the failing records one attempt each.
func (p *Producer) dispatchBatch(ctx context.Context, batch []messageItem) []messageItem {
	var eligible []messageItem
	for _, item := range batch {
		if item.eligible() {
			eligible = append(eligible, item)
		} else {
			p.stats.dropped.Inc()
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	entries := make([]*kinesis.PutRecordsRequestEntry, len(eligible))
	for i, item := range eligible {
		entries[i] = &kinesis.PutRecordsRequestEntry{
			Data:         []byte(item.payload),
			PartitionKey: aws.String(item.partitionKey),
		}
	}

	res, err := p.client.PutRecordsWithContext(ctx, &kinesis.PutRecordsInput{
		Records:    entries,
		StreamName: aws.String(p.conf.Stream),
	})
	if err != nil {
		p.stats.failed.Add(float64(len(eligible)))
		p.log.WithError(err).Error("PutRecords request failed, requeueing batch")
		select {
		case <-time.After(sendFailureBackoff):
		case <-ctx.Done():
		}
		return eligible
	}

	var leftovers []messageItem
	for i, rec := range res.Records {
		if i >= len(eligible) {
			break
		}
		if rec.ErrorCode == nil || *rec.ErrorCode == "" {
			p.stats.sent.Inc()
			continue
		}
		p.stats.failed.Inc()
		item := eligible[i]
		item.attemptsLeft--
		if item.eligible() {
			p.stats.retried.Inc()
			leftovers = append(leftovers, item)
		} else {
			p.stats.dropped.Inc()
			p.log.WithField("errorCode", *rec.ErrorCode).
				Error("Dropping record after exhausting its attempt budget")
		}
	}
	return leftovers
}

func splitBatches(items []messageItem, size int) [][]messageItem {
	var batches [][]messageItem
	for len(items) > size {
		batches = append(batches, items[:size:size])
		items = items[size:]
	}
	if len(items) > 0 {
		batches = append(batches, items)
	}
	return batches
}

func flatten(results [][]messageItem) []messageItem {
	var out []messageItem
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}
