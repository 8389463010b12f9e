// Package kstream ingests and delivers records to a shard-partitioned Kinesis
// data stream. It provides a buffering Producer that dispatches batches with
// bounded concurrency and per-record retries, and a Consumer that round-robins
// the open shards of a stream while tracking per-shard progress.
package kstream

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/kinesis"
)

// StreamAPI is the subset of the Kinesis client used by this library, kept
// narrow to ease mocking. Both *kinesis.Kinesis and kinesisiface.KinesisAPI
// satisfy it.
type StreamAPI interface {
	PutRecordWithContext(aws.Context, *kinesis.PutRecordInput, ...request.Option) (*kinesis.PutRecordOutput, error)
	PutRecordsWithContext(aws.Context, *kinesis.PutRecordsInput, ...request.Option) (*kinesis.PutRecordsOutput, error)
	GetShardIteratorWithContext(aws.Context, *kinesis.GetShardIteratorInput, ...request.Option) (*kinesis.GetShardIteratorOutput, error)
	GetRecordsWithContext(aws.Context, *kinesis.GetRecordsInput, ...request.Option) (*kinesis.GetRecordsOutput, error)
	ListShardsWithContext(aws.Context, *kinesis.ListShardsInput, ...request.Option) (*kinesis.ListShardsOutput, error)
}
