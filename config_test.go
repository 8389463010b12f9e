package kstream

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProducerConfigDefaults(t *testing.T) {
	conf, err := ParseProducerConfig([]byte(`
stream: foo
`))
	require.NoError(t, err)

	assert.Equal(t, "foo", conf.Stream)
	assert.Equal(t, 200, conf.Batching.Size)
	assert.Equal(t, EndpointBatch, conf.Batching.Endpoint)
	assert.Equal(t, 5, conf.Retry.MaxRetries)
	assert.Equal(t, 10000, conf.QueueBounds)
	assert.Equal(t, 3, conf.MaxConcurrency)
	assert.Zero(t, conf.CleanupTimeout)
}

func TestParseProducerConfigOverrides(t *testing.T) {
	conf, err := ParseProducerConfig([]byte(`
stream: foo
batching:
  size: 50
  endpoint: single
retry:
  max_retries: 2
queue_bounds: 100
max_concurrency: 8
cleanup_timeout: 250ms
`))
	require.NoError(t, err)

	assert.Equal(t, 50, conf.Batching.Size)
	assert.Equal(t, EndpointSingle, conf.Batching.Endpoint)
	assert.Equal(t, 2, conf.Retry.MaxRetries)
	assert.Equal(t, 100, conf.QueueBounds)
	assert.Equal(t, 8, conf.MaxConcurrency)
	assert.Equal(t, 250*time.Millisecond, conf.CleanupTimeout)
}

func TestParseProducerConfigErrors(t *testing.T) {
	_, err := ParseProducerConfig([]byte(`{}`))
	assert.Error(t, err)

	_, err = ParseProducerConfig([]byte(`
stream: foo
batching:
  endpoint: carrier-pigeon
`))
	assert.Error(t, err)

	_, err = ParseProducerConfig([]byte(`
stream: foo
cleanup_timeout: soonish
`))
	assert.Error(t, err)
}

func TestParseConsumerConfigDefaults(t *testing.T) {
	conf, err := ParseConsumerConfig([]byte(`
stream: foo
`))
	require.NoError(t, err)

	assert.Equal(t, "foo", conf.Stream)
	assert.Equal(t, 200, conf.BatchSize)
	assert.Equal(t, kinesis.ShardIteratorTypeTrimHorizon, conf.IteratorType)
	assert.Empty(t, conf.SavedState)
}

func TestParseConsumerConfigOverrides(t *testing.T) {
	conf, err := ParseConsumerConfig([]byte(`
stream: foo
batch_size: 25
iterator_type: LATEST
saved_state:
  shard-a: "42"
`))
	require.NoError(t, err)

	assert.Equal(t, 25, conf.BatchSize)
	assert.Equal(t, kinesis.ShardIteratorTypeLatest, conf.IteratorType)
	assert.Equal(t, map[string]string{"shard-a": "42"}, conf.SavedState)
}

func TestParseConsumerConfigErrors(t *testing.T) {
	_, err := ParseConsumerConfig([]byte(`{}`))
	assert.Error(t, err)

	_, err = ParseConsumerConfig([]byte(`
stream: foo
iterator_type: AT_TIMESTAMP
`))
	assert.Error(t, err)
}

func TestMaxChunkSize(t *testing.T) {
	conf := NewProducerConfig("foo")
	assert.Equal(t, 600, conf.maxChunkSize())

	conf.Batching.Size = 10
	conf.MaxConcurrency = 2
	assert.Equal(t, 20, conf.maxChunkSize())
}
