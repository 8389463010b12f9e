package kstream

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// MaxMessageSize is the maximum length of a message in characters.
const MaxMessageSize = 51000

// Endpoint selects which Kinesis write operation the producer dispatches
// through.
const (
	// EndpointBatch dispatches through PutRecords in batches of
	// BatchPolicy.Size records.
	EndpointBatch = "batch"
	// EndpointSingle dispatches each record through its own PutRecord call.
	EndpointSingle = "single"
)

const (
	defaultBatchSize      = 200
	defaultMaxRetries     = 5
	defaultQueueBounds    = 10000
	defaultMaxConcurrency = 3

	// minChunkingInterval bounds how long buffered messages sit before being
	// committed to a dispatch round even when the chunk isn't full.
	minChunkingInterval = 5 * time.Second
)

// BatchPolicy controls how the producer groups messages into requests. Size
// is only honoured by the batch endpoint.
type BatchPolicy struct {
	Size     int    `yaml:"size"`
	Endpoint string `yaml:"endpoint"`
}

// RetryPolicy bounds how often a record is redispatched after a failure. A
// record is attempted at most MaxRetries+1 times in total.
type RetryPolicy struct {
	MaxRetries int `yaml:"max_retries"`
}

// ProducerConfig configures a producer scope. The zero value of optional
// fields is replaced with library defaults; use NewProducerConfig as a
// starting point when building configs by hand.
type ProducerConfig struct {
	// Stream is the name of the target Kinesis stream.
	Stream string `yaml:"stream"`

	Batching BatchPolicy `yaml:"batching"`
	Retry    RetryPolicy `yaml:"retry"`

	// QueueBounds caps the number of messages buffered between Put callers
	// and the dispatch worker.
	QueueBounds int `yaml:"queue_bounds"`

	// MaxConcurrency caps the number of in-flight requests per dispatch
	// round. Must be at least one.
	MaxConcurrency int `yaml:"max_concurrency"`

	// CleanupTimeout bounds how long RunProducer waits for the worker to
	// drain the queue after the caller's function returns. Zero waits
	// indefinitely.
	CleanupTimeout time.Duration `yaml:"-"`

	Logger     *logrus.Logger        `yaml:"-"`
	Registerer prometheus.Registerer `yaml:"-"`
}

// NewProducerConfig returns a ProducerConfig populated with defaults.
func NewProducerConfig(stream string) ProducerConfig {
	return ProducerConfig{
		Stream: stream,
		Batching: BatchPolicy{
			Size:     defaultBatchSize,
			Endpoint: EndpointBatch,
		},
		Retry:          RetryPolicy{MaxRetries: defaultMaxRetries},
		QueueBounds:    defaultQueueBounds,
		MaxConcurrency: defaultMaxConcurrency,
	}
}

func (conf ProducerConfig) withDefaults() ProducerConfig {
	if conf.Batching.Size <= 0 {
		conf.Batching.Size = defaultBatchSize
	}
	if conf.Batching.Endpoint == "" {
		conf.Batching.Endpoint = EndpointBatch
	}
	if conf.QueueBounds <= 0 {
		conf.QueueBounds = defaultQueueBounds
	}
	if conf.Logger == nil {
		conf.Logger = logrus.StandardLogger()
	}
	return conf
}

// maxChunkSize is the upper bound on messages handed to a single dispatch
// round: enough to fill every concurrent request of the batch endpoint.
func (conf ProducerConfig) maxChunkSize() int {
	return conf.Batching.Size * conf.MaxConcurrency
}

// ConsumerConfig configures a consumer scope.
type ConsumerConfig struct {
	// Stream is the name of the Kinesis stream to consume.
	Stream string `yaml:"stream"`

	// BatchSize is the record limit for each GetRecords call and the
	// capacity of the read buffer.
	BatchSize int `yaml:"batch_size"`

	// IteratorType determines where reading starts on shards with no saved
	// sequence number. Defaults to TRIM_HORIZON.
	IteratorType string `yaml:"iterator_type"`

	// SavedState maps shard IDs to the last sequence number already consumed,
	// as produced by Consumer.StreamState. Listed shards resume reading after
	// their saved position.
	SavedState map[string]string `yaml:"saved_state"`

	Logger     *logrus.Logger        `yaml:"-"`
	Registerer prometheus.Registerer `yaml:"-"`
}

// NewConsumerConfig returns a ConsumerConfig populated with defaults.
func NewConsumerConfig(stream string) ConsumerConfig {
	return ConsumerConfig{
		Stream:       stream,
		BatchSize:    defaultBatchSize,
		IteratorType: kinesis.ShardIteratorTypeTrimHorizon,
	}
}

func (conf ConsumerConfig) withDefaults() ConsumerConfig {
	if conf.BatchSize <= 0 {
		conf.BatchSize = defaultBatchSize
	}
	if conf.IteratorType == "" {
		conf.IteratorType = kinesis.ShardIteratorTypeTrimHorizon
	}
	if conf.Logger == nil {
		conf.Logger = logrus.StandardLogger()
	}
	return conf
}

type producerConfigYAML struct {
	ProducerConfig `yaml:",inline"`
	CleanupTimeout string `yaml:"cleanup_timeout"`
}

// ParseProducerConfig unmarshals a YAML document over the default producer
// config. Durations are expressed as strings, e.g. "250ms".
func ParseProducerConfig(data []byte) (ProducerConfig, error) {
	wrapped := producerConfigYAML{ProducerConfig: NewProducerConfig("")}
	if err := yaml.Unmarshal(data, &wrapped); err != nil {
		return ProducerConfig{}, fmt.Errorf("parsing producer config: %w", err)
	}
	conf := wrapped.ProducerConfig
	if wrapped.CleanupTimeout != "" {
		d, err := time.ParseDuration(wrapped.CleanupTimeout)
		if err != nil {
			return ProducerConfig{}, fmt.Errorf("parsing cleanup timeout: %w", err)
		}
		conf.CleanupTimeout = d
	}
	if conf.Stream == "" {
		return ProducerConfig{}, fmt.Errorf("a stream name is required")
	}
	switch conf.Batching.Endpoint {
	case EndpointBatch, EndpointSingle:
	default:
		return ProducerConfig{}, fmt.Errorf("unrecognised endpoint '%v'", conf.Batching.Endpoint)
	}
	return conf, nil
}

// ParseConsumerConfig unmarshals a YAML document over the default consumer
// config.
func ParseConsumerConfig(data []byte) (ConsumerConfig, error) {
	conf := NewConsumerConfig("")
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return ConsumerConfig{}, fmt.Errorf("parsing consumer config: %w", err)
	}
	if conf.Stream == "" {
		return ConsumerConfig{}, fmt.Errorf("a stream name is required")
	}
	switch conf.IteratorType {
	case kinesis.ShardIteratorTypeTrimHorizon, kinesis.ShardIteratorTypeLatest:
	default:
		return ConsumerConfig{}, fmt.Errorf("unrecognised iterator type '%v'", conf.IteratorType)
	}
	return conf, nil
}
