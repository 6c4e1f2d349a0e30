package twopc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// MockParticipant is a scriptable participant for coordinator tests.
type MockParticipant struct {
	id              string
	prepareResponse bool
	prepareError    error
	commitError     error
	abortError      error
	prepareDelay    time.Duration
	prepareCalled   int
	commitCalled    int
	abortCalled     int
	mu              sync.Mutex
}

func NewMockParticipant(id string) *MockParticipant {
	return &MockParticipant{
		id:              id,
		prepareResponse: true,
	}
}

func (m *MockParticipant) ID() string {
	return m.id
}

func (m *MockParticipant) Prepare(ctx context.Context, txnID string) (bool, error) {
	m.mu.Lock()
	m.prepareCalled++
	delay := m.prepareDelay
	resp := m.prepareResponse
	err := m.prepareError
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	return resp, err
}

func (m *MockParticipant) Commit(ctx context.Context, txnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitCalled++
	return m.commitError
}

func (m *MockParticipant) Abort(ctx context.Context, txnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abortCalled++
	return m.abortError
}

func (m *MockParticipant) GetCallCounts() (prepare, commit, abort int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prepareCalled, m.commitCalled, m.abortCalled
}

func TestCoordinatorBasic(t *testing.T) {
	coord := NewCoordinator("txn-1", 5*time.Second)

	if coord.State() != CoordinatorStateInit {
		t.Errorf("expected state Init, got %v", coord.State())
	}
}

func TestAddParticipants(t *testing.T) {
	coord := NewCoordinator("txn-1", 5*time.Second)

	p1 := NewMockParticipant("bank_a")
	p2 := NewMockParticipant("bank_b")

	if err := coord.AddParticipant(p1); err != nil {
		t.Fatalf("failed to add participant 1: %v", err)
	}
	if err := coord.AddParticipant(p2); err != nil {
		t.Fatalf("failed to add participant 2: %v", err)
	}

	if err := coord.AddParticipant(p1); !errors.Is(err, ErrParticipantAlreadyAdded) {
		t.Errorf("expected ErrParticipantAlreadyAdded, got %v", err)
	}
}

func TestSuccessfulCommit(t *testing.T) {
	coord := NewCoordinator("txn-1", 5*time.Second)

	p1 := NewMockParticipant("bank_a")
	p2 := NewMockParticipant("bank_b")
	p3 := NewMockParticipant("bank_c")

	coord.AddParticipant(p1)
	coord.AddParticipant(p2)
	coord.AddParticipant(p3)

	if err := coord.Execute(context.Background()); err != nil {
		t.Fatalf("2PC execution failed: %v", err)
	}

	if coord.State() != CoordinatorStateCommitted {
		t.Errorf("expected state Committed, got %v", coord.State())
	}

	for _, p := range []*MockParticipant{p1, p2, p3} {
		prep, comm, abrt := p.GetCallCounts()
		if prep != 1 {
			t.Errorf("participant %s: expected 1 prepare call, got %d", p.ID(), prep)
		}
		if comm != 1 {
			t.Errorf("participant %s: expected 1 commit call, got %d", p.ID(), comm)
		}
		if abrt != 0 {
			t.Errorf("participant %s: expected 0 abort calls, got %d", p.ID(), abrt)
		}
	}
}

func TestAbortOnNoVote(t *testing.T) {
	coord := NewCoordinator("txn-1", 5*time.Second)

	p1 := NewMockParticipant("bank_a")
	p2 := NewMockParticipant("bank_b")
	p2.prepareResponse = false

	coord.AddParticipant(p1)
	coord.AddParticipant(p2)

	err := coord.Execute(context.Background())
	if !errors.Is(err, ErrPrepareFailed) {
		t.Fatalf("expected ErrPrepareFailed, got %v", err)
	}

	if coord.State() != CoordinatorStateAborted {
		t.Errorf("expected state Aborted, got %v", coord.State())
	}

	// Only the yes voter holds a reservation to release.
	_, comm1, abrt1 := p1.GetCallCounts()
	if comm1 != 0 || abrt1 != 1 {
		t.Errorf("bank_a: expected 0 commits and 1 abort, got %d and %d", comm1, abrt1)
	}
	_, comm2, abrt2 := p2.GetCallCounts()
	if comm2 != 0 || abrt2 != 0 {
		t.Errorf("bank_b: expected no second-phase calls, got %d commits and %d aborts", comm2, abrt2)
	}
}

func TestAbortOnPrepareError(t *testing.T) {
	coord := NewCoordinator("txn-1", 5*time.Second)

	p1 := NewMockParticipant("bank_a")
	p2 := NewMockParticipant("bank_b")
	p2.prepareError = errors.New("connection refused")

	coord.AddParticipant(p1)
	coord.AddParticipant(p2)

	err := coord.Execute(context.Background())
	if !errors.Is(err, ErrPrepareFailed) {
		t.Fatalf("expected ErrPrepareFailed, got %v", err)
	}
	if coord.State() != CoordinatorStateAborted {
		t.Errorf("expected state Aborted, got %v", coord.State())
	}

	if !coord.Voted("bank_a") {
		t.Error("expected bank_a to have voted yes")
	}
	if coord.Voted("bank_b") {
		t.Error("expected bank_b to count as a no vote")
	}

	_, _, abrt := p2.GetCallCounts()
	if abrt != 0 {
		t.Errorf("bank_b never prepared, expected 0 abort calls, got %d", abrt)
	}
}

func TestCommitError(t *testing.T) {
	coord := NewCoordinator("txn-1", 5*time.Second)

	p1 := NewMockParticipant("bank_a")
	p2 := NewMockParticipant("bank_b")
	p2.commitError = errors.New("commit refused")

	coord.AddParticipant(p1)
	coord.AddParticipant(p2)

	err := coord.Execute(context.Background())
	if !errors.Is(err, ErrCommitFailed) {
		t.Fatalf("expected ErrCommitFailed, got %v", err)
	}

	// No reverts after the commit point: bank_a's commit stands.
	_, comm, abrt := p1.GetCallCounts()
	if comm != 1 || abrt != 0 {
		t.Errorf("bank_a: expected 1 commit and 0 aborts, got %d and %d", comm, abrt)
	}
}

func TestPrepareTimeout(t *testing.T) {
	coord := NewCoordinator("txn-1", 100*time.Millisecond)

	p1 := NewMockParticipant("bank_a")
	p2 := NewMockParticipant("bank_b")
	p2.prepareDelay = 300 * time.Millisecond

	coord.AddParticipant(p1)
	coord.AddParticipant(p2)

	err := coord.Execute(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if coord.State() != CoordinatorStateAborted {
		t.Errorf("expected state Aborted, got %v", coord.State())
	}
}

func TestManualPrepareAndCommit(t *testing.T) {
	coord := NewCoordinator("txn-1", 5*time.Second)

	p1 := NewMockParticipant("bank_a")
	p2 := NewMockParticipant("bank_b")

	coord.AddParticipant(p1)
	coord.AddParticipant(p2)

	ctx := context.Background()

	allPrepared, err := coord.Prepare(ctx)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if !allPrepared {
		t.Fatal("expected a unanimous yes")
	}
	if coord.State() != CoordinatorStatePreparing {
		t.Errorf("expected state Preparing, got %v", coord.State())
	}

	if err := coord.AddParticipant(NewMockParticipant("bank_c")); !errors.Is(err, ErrCoordinatorNotInit) {
		t.Errorf("expected ErrCoordinatorNotInit after prepare, got %v", err)
	}

	if err := coord.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if coord.State() != CoordinatorStateCommitted {
		t.Errorf("expected state Committed, got %v", coord.State())
	}
}

func TestManualAbort(t *testing.T) {
	coord := NewCoordinator("txn-1", 5*time.Second)

	p1 := NewMockParticipant("bank_a")
	p2 := NewMockParticipant("bank_b")

	coord.AddParticipant(p1)
	coord.AddParticipant(p2)

	ctx := context.Background()
	coord.Prepare(ctx)

	if err := coord.Abort(ctx); err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if coord.State() != CoordinatorStateAborted {
		t.Errorf("expected state Aborted, got %v", coord.State())
	}

	for _, p := range []*MockParticipant{p1, p2} {
		_, _, abrt := p.GetCallCounts()
		if abrt != 1 {
			t.Errorf("participant %s: expected 1 abort call, got %d", p.ID(), abrt)
		}
	}
}

func TestCommitWithoutPrepare(t *testing.T) {
	coord := NewCoordinator("txn-1", 5*time.Second)
	coord.AddParticipant(NewMockParticipant("bank_a"))

	if err := coord.Commit(context.Background()); !errors.Is(err, ErrCoordinatorNotPreparing) {
		t.Errorf("expected ErrCoordinatorNotPreparing, got %v", err)
	}
}

func TestAbortAfterCommit(t *testing.T) {
	coord := NewCoordinator("txn-1", 5*time.Second)
	coord.AddParticipant(NewMockParticipant("bank_a"))

	ctx := context.Background()
	if err := coord.Execute(ctx); err != nil {
		t.Fatalf("2PC execution failed: %v", err)
	}

	if err := coord.Abort(ctx); !errors.Is(err, ErrAlreadyCommitted) {
		t.Errorf("expected ErrAlreadyCommitted, got %v", err)
	}
}

func TestContextCancellation(t *testing.T) {
	coord := NewCoordinator("txn-1", 30*time.Second)

	p1 := NewMockParticipant("bank_a")
	p1.prepareDelay = time.Second
	coord.AddParticipant(p1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := coord.Execute(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestConcurrentParticipants(t *testing.T) {
	coord := NewCoordinator("txn-1", 10*time.Second)

	numParticipants := 50
	for i := 0; i < numParticipants; i++ {
		p := NewMockParticipant(string(rune('a'+i%26)) + string(rune('a'+i/26)))
		p.prepareDelay = time.Duration(i%10) * time.Millisecond
		if err := coord.AddParticipant(p); err != nil {
			t.Fatalf("failed to add participant %d: %v", i, err)
		}
	}

	start := time.Now()
	if err := coord.Execute(context.Background()); err != nil {
		t.Fatalf("2PC execution failed: %v", err)
	}
	duration := time.Since(start)

	// Sequential prepares would sum the delays; parallel ones overlap.
	if duration > 500*time.Millisecond {
		t.Errorf("execution took too long: %v (expected parallel prepare)", duration)
	}
	if coord.State() != CoordinatorStateCommitted {
		t.Errorf("expected state Committed, got %v", coord.State())
	}
}
