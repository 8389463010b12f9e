package kstream

import (
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/kinesis"
)

// stubStream implements StreamAPI with per-operation hooks and records every
// request it receives.
type stubStream struct {
	mu sync.Mutex

	putRecordFn   func(*kinesis.PutRecordInput) (*kinesis.PutRecordOutput, error)
	putRecordsFn  func(*kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error)
	getIteratorFn func(*kinesis.GetShardIteratorInput) (*kinesis.GetShardIteratorOutput, error)
	getRecordsFn  func(*kinesis.GetRecordsInput) (*kinesis.GetRecordsOutput, error)
	listShardsFn  func(*kinesis.ListShardsInput) (*kinesis.ListShardsOutput, error)

	putRecordCalls   []*kinesis.PutRecordInput
	putRecordsCalls  []*kinesis.PutRecordsInput
	getIteratorCalls []*kinesis.GetShardIteratorInput
	getRecordsCalls  []*kinesis.GetRecordsInput
}

func (s *stubStream) PutRecordWithContext(_ aws.Context, in *kinesis.PutRecordInput, _ ...request.Option) (*kinesis.PutRecordOutput, error) {
	s.mu.Lock()
	s.putRecordCalls = append(s.putRecordCalls, in)
	fn := s.putRecordFn
	s.mu.Unlock()
	if fn == nil {
		return &kinesis.PutRecordOutput{}, nil
	}
	return fn(in)
}

func (s *stubStream) PutRecordsWithContext(_ aws.Context, in *kinesis.PutRecordsInput, _ ...request.Option) (*kinesis.PutRecordsOutput, error) {
	s.mu.Lock()
	s.putRecordsCalls = append(s.putRecordsCalls, in)
	fn := s.putRecordsFn
	s.mu.Unlock()
	if fn == nil {
		out := &kinesis.PutRecordsOutput{}
		for range in.Records {
			out.Records = append(out.Records, &kinesis.PutRecordsResultEntry{})
		}
		return out, nil
	}
	return fn(in)
}

func (s *stubStream) GetShardIteratorWithContext(_ aws.Context, in *kinesis.GetShardIteratorInput, _ ...request.Option) (*kinesis.GetShardIteratorOutput, error) {
	s.mu.Lock()
	s.getIteratorCalls = append(s.getIteratorCalls, in)
	fn := s.getIteratorFn
	s.mu.Unlock()
	if fn == nil {
		return &kinesis.GetShardIteratorOutput{
			ShardIterator: aws.String("iter:" + aws.StringValue(in.ShardId) + ":0"),
		}, nil
	}
	return fn(in)
}

func (s *stubStream) GetRecordsWithContext(_ aws.Context, in *kinesis.GetRecordsInput, _ ...request.Option) (*kinesis.GetRecordsOutput, error) {
	s.mu.Lock()
	s.getRecordsCalls = append(s.getRecordsCalls, in)
	fn := s.getRecordsFn
	s.mu.Unlock()
	if fn == nil {
		return &kinesis.GetRecordsOutput{NextShardIterator: in.ShardIterator}, nil
	}
	return fn(in)
}

func (s *stubStream) ListShardsWithContext(_ aws.Context, in *kinesis.ListShardsInput, _ ...request.Option) (*kinesis.ListShardsOutput, error) {
	s.mu.Lock()
	fn := s.listShardsFn
	s.mu.Unlock()
	if fn == nil {
		return &kinesis.ListShardsOutput{}, nil
	}
	return fn(in)
}

func (s *stubStream) recordedPutRecords() []*kinesis.PutRecordsInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*kinesis.PutRecordsInput(nil), s.putRecordsCalls...)
}

func (s *stubStream) recordedIterators() []*kinesis.GetShardIteratorInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*kinesis.GetShardIteratorInput(nil), s.getIteratorCalls...)
}

func (s *stubStream) recordedGetRecords() []*kinesis.GetRecordsInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*kinesis.GetRecordsInput(nil), s.getRecordsCalls...)
}

// openShards builds a ListShards response of open shards with the given IDs.
func openShards(ids ...string) *kinesis.ListShardsOutput {
	out := &kinesis.ListShardsOutput{}
	for _, id := range ids {
		out.Shards = append(out.Shards, &kinesis.Shard{
			ShardId:             aws.String(id),
			SequenceNumberRange: &kinesis.SequenceNumberRange{StartingSequenceNumber: aws.String("0")},
		})
	}
	return out
}
