package kstream

import (
	"sync"

	"github.com/aws/aws-sdk-go/service/kinesis"
)

// shardState tracks a single shard's read position. The iterator is mutated
// by the pull loop, the last sequence number by the read API, and both are
// read concurrently, so access goes through the mutex; shard identity never
// changes.
type shardState struct {
	id string

	mu       sync.Mutex
	iterator string
	ended    bool
	lastSeq  string
}

func newShardState(id, iterator string) *shardState {
	return &shardState{id: id, iterator: iterator}
}

// iteratorToken returns the current iterator and whether the shard still has
// one. A shard whose GetRecords response carried no next iterator has been
// read to its end.
func (s *shardState) iteratorToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iterator, !s.ended
}

func (s *shardState) setIterator(iterator string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterator = iterator
	if iterator == "" {
		s.ended = true
	}
}

func (s *shardState) setLastSequence(seq string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeq = seq
}

func (s *shardState) lastSequence() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq, s.lastSeq != ""
}

// isShardOpen reports whether a shard can still receive records. Closed
// shards carry an ending sequence number, although some local stream mocks
// report the literal string "null" on open shards.
func isShardOpen(s *kinesis.Shard) bool {
	if s.SequenceNumberRange == nil {
		return true
	}
	if s.SequenceNumberRange.EndingSequenceNumber == nil {
		return true
	}
	return *s.SequenceNumberRange.EndingSequenceNumber == "null"
}
