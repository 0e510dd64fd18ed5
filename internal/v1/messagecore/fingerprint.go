package messagecore

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// seqCounter is the per-broker-instance monotone sequence generator; reset
// to zero on restart (ephemeral counters are not persisted across restart,
// per the recovery contract).
var seqCounter int64

// NextSeq returns a strictly-increasing sequence number for this broker
// instance's lifetime.
func NextSeq() int64 {
	return atomic.AddInt64(&seqCounter, 1)
}

// NewMessageID returns a random, non-timestamp-derived message id. The
// broker never trusts a client-supplied id.
func NewMessageID() string {
	return uuid.NewString()
}
