package client

import (
	"sync"
	"time"

	pb "github.com/mnohosten/interbank/pkg/protocol"
)

// QueueState is the offline queue's position in its retry cycle.
type QueueState int

const (
	// QueueIdle means the queue is empty.
	QueueIdle QueueState = iota
	// QueueDraining means queued transactions may be attempted now.
	QueueDraining
	// QueueCoolingDown means a transport failure happened less than one
	// cooldown ago; attempts wait.
	QueueCoolingDown
)

func (s QueueState) String() string {
	switch s {
	case QueueIdle:
		return "idle"
	case QueueDraining:
		return "draining"
	case QueueCoolingDown:
		return "cooling-down"
	default:
		return "unknown"
	}
}

// pendingTxn is one queued transaction and its attempt count.
type pendingTxn struct {
	txn      *pb.Transaction
	attempts int
}

// offlineQueue is the client's FIFO of payments that failed to reach the
// gateway. It holds no I/O: the client drives RPC attempts and feeds the
// results back, which keeps the state machine testable with virtual time.
// Only the head is ever attempted, preserving per-client send order.
type offlineQueue struct {
	mu          sync.Mutex
	items       []*pendingTxn
	lastFailure time.Time
	failed      bool
	cooldown    time.Duration
	maxAttempts int
	clock       Clock
}

func newOfflineQueue(cooldown time.Duration, maxAttempts int, clock Clock) *offlineQueue {
	return &offlineQueue{
		cooldown:    cooldown,
		maxAttempts: maxAttempts,
		clock:       clock,
	}
}

// Enqueue appends a transaction behind everything already queued.
func (q *offlineQueue) Enqueue(txn *pb.Transaction) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, &pendingTxn{txn: txn})
}

// Len returns the number of queued transactions.
func (q *offlineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// State derives the current state from queue contents and the time of the
// most recent transport failure.
func (q *offlineQueue) State() QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return QueueIdle
	}
	if q.failed && q.clock.Now().Sub(q.lastFailure) < q.cooldown {
		return QueueCoolingDown
	}
	return QueueDraining
}

// CooldownRemaining returns how long until the next attempt is allowed.
func (q *offlineQueue) CooldownRemaining() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.failed {
		return 0
	}
	remaining := q.cooldown - q.clock.Now().Sub(q.lastFailure)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Head returns the transaction to attempt next, or nil when empty.
func (q *offlineQueue) Head() *pb.Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	return q.items[0].txn
}

// RecordSuccess removes the head after the gateway answered (whatever the
// business outcome) and ends any cooldown.
func (q *offlineQueue) RecordSuccess() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) > 0 {
		q.items = q.items[1:]
	}
	q.failed = false
}

// RecordFailure notes a transport failure attempting the head and starts
// the cooldown. When the head has exhausted its attempts it is dropped
// and returned so the caller can report it.
func (q *offlineQueue) RecordFailure() *pb.Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.failed = true
	q.lastFailure = q.clock.Now()

	if len(q.items) == 0 {
		return nil
	}
	head := q.items[0]
	head.attempts++
	if head.attempts >= q.maxAttempts {
		q.items = q.items[1:]
		return head.txn
	}
	return nil
}
