// Package messagecore implements the broker's routing pipeline: message
// fingerprinting, the bounded multi-level priority queue, ack/retry
// pending-delivery tracking, and the TTL sweeper. The priority queue is
// grounded on the teacher's dual-channel (send/prioritySend) non-blocking
// per-connection buffer in transport/client.go, generalized from two
// levels to the spec's five.
package messagecore

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"github.com/agentbus/broker/internal/v1/types"
)

// QueueMax is the soft cap; beyond it new BULK/LOW entries are rejected.
// HardCap (2x) still admits CRITICAL/HIGH.
const (
	QueueMax         = 10_000
	QueueHardCap     = 2 * QueueMax
	AgeThreshold     = 30 * time.Second
)

var ErrOverloaded = errors.New("messagecore: queue overloaded")

type entry struct {
	msg      *types.Message
	enqueued time.Time
}

// PriorityQueue is a bounded multi-level FIFO queue. Dequeue always returns
// the oldest entry at the highest non-empty level; entries waiting longer
// than AgeThreshold at their level are promoted by one level on the next
// dequeue attempt, giving an eventual-delivery guarantee under steady
// high-priority load.
type PriorityQueue struct {
	mu     sync.Mutex
	levels []*list.List // index 0 = CRITICAL ... 4 = BULK
	size   int
}

func NewPriorityQueue() *PriorityQueue {
	q := &PriorityQueue{levels: make([]*list.List, len(types.Levels))}
	for i := range q.levels {
		q.levels[i] = list.New()
	}
	return q
}

// Enqueue adds msg at its priority level, applying the soft/hard cap
// backpressure policy.
func (q *PriorityQueue) Enqueue(msg *types.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	level := msg.Priority.Level()
	if level < 0 {
		level = types.PriorityNormal.Level()
	}

	if q.size >= QueueHardCap {
		return ErrOverloaded
	}
	if q.size >= QueueMax && (msg.Priority == types.PriorityBulk || msg.Priority == types.PriorityLow) {
		return ErrOverloaded
	}

	q.levels[level].PushBack(entry{msg: msg, enqueued: time.Now()})
	q.size++
	return nil
}

// Dequeue pops the oldest entry at the highest non-empty level, promoting
// any entry that has aged past AgeThreshold at its current level before
// selecting.
func (q *PriorityQueue) Dequeue() (*types.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.promoteAgedLocked()

	for lvl := 0; lvl < len(q.levels); lvl++ {
		l := q.levels[lvl]
		if front := l.Front(); front != nil {
			l.Remove(front)
			q.size--
			return front.Value.(entry).msg, true
		}
	}
	return nil, false
}

// promoteAgedLocked moves any entry that has waited longer than
// AgeThreshold at levels 1..N up by exactly one level, preserving FIFO
// order within the destination level by appending at the back of the
// already-aged-checked prefix (entries are only ever promoted once per
// dequeue pass to avoid runaway promotion across many empty dequeues).
func (q *PriorityQueue) promoteAgedLocked() {
	now := time.Now()
	for lvl := 1; lvl < len(q.levels); lvl++ {
		l := q.levels[lvl]
		var next *list.Element
		for e := l.Front(); e != nil; e = next {
			next = e.Next()
			en := e.Value.(entry)
			if now.Sub(en.enqueued) > AgeThreshold {
				l.Remove(e)
				q.size--
				q.levels[lvl-1].PushBack(en)
				q.size++
			}
		}
	}
}

// Len returns the total queued entries across all levels.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// DepthByPriority returns the current depth of a single level, used to
// feed the admin metrics gauge.
func (q *PriorityQueue) DepthByPriority(p types.Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	lvl := p.Level()
	if lvl < 0 {
		return 0
	}
	return q.levels[lvl].Len()
}
