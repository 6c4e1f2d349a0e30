package twopc

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CoordinatorState represents the state of a 2PC coordinator
type CoordinatorState int

const (
	CoordinatorStateInit CoordinatorState = iota
	CoordinatorStatePreparing
	CoordinatorStateCommitting
	CoordinatorStateAborting
	CoordinatorStateCommitted
	CoordinatorStateAborted
)

// Participant represents a resource that participates in 2PC. For the
// payments platform a participant is one bank's side of a transaction,
// reached over gRPC.
type Participant interface {
	// Prepare asks the participant to vote on the transaction.
	// A yes vote means the participant holds a reservation until
	// Commit or Abort arrives.
	Prepare(ctx context.Context, txnID string) (bool, error)

	// Commit finalizes the transaction at the participant.
	Commit(ctx context.Context, txnID string) error

	// Abort releases the participant's reservation.
	Abort(ctx context.Context, txnID string) error

	// ID returns the participant's unique identifier.
	ID() string
}

// participantRecord tracks one participant's vote during the protocol.
// Second-phase messages are sent only to participants whose vote was yes:
// a participant that never prepared holds no reservation to finalize or
// release.
type participantRecord struct {
	participant Participant
	prepareVote bool
	mu          sync.Mutex
}

// Coordinator drives the two-phase commit protocol for a single
// transaction across an ordered set of participants.
type Coordinator struct {
	txnID        string
	state        CoordinatorState
	participants []*participantRecord
	ids          map[string]struct{}
	mu           sync.RWMutex
	timeout      time.Duration
}

// NewCoordinator creates a coordinator for txnID. The timeout bounds each
// phase; zero selects a 30 second default.
func NewCoordinator(txnID string, timeout time.Duration) *Coordinator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Coordinator{
		txnID:   txnID,
		state:   CoordinatorStateInit,
		ids:     make(map[string]struct{}),
		timeout: timeout,
	}
}

// AddParticipant appends a participant. Order is preserved so callers get
// a stable prepare order.
func (c *Coordinator) AddParticipant(participant Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CoordinatorStateInit {
		return ErrCoordinatorNotInit
	}

	id := participant.ID()
	if _, exists := c.ids[id]; exists {
		return fmt.Errorf("%w: %s", ErrParticipantAlreadyAdded, id)
	}
	c.ids[id] = struct{}{}
	c.participants = append(c.participants, &participantRecord{participant: participant})

	return nil
}

// Prepare executes phase 1: it sends Prepare to every participant in
// parallel and waits for all votes before returning. It returns true only
// on a unanimous yes; an RPC error counts as a no vote from that
// participant and is reported alongside.
func (c *Coordinator) Prepare(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.state != CoordinatorStateInit {
		c.mu.Unlock()
		return false, ErrCoordinatorNotInit
	}
	c.state = CoordinatorStatePreparing
	c.mu.Unlock()

	prepareCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type prepareResult struct {
		participantID string
		vote          bool
		err           error
	}

	resultsChan := make(chan prepareResult, len(c.participants))
	var wg sync.WaitGroup

	for _, record := range c.participants {
		wg.Add(1)
		go func(rec *participantRecord) {
			defer wg.Done()

			vote, err := rec.participant.Prepare(prepareCtx, c.txnID)

			rec.mu.Lock()
			rec.prepareVote = err == nil && vote
			rec.mu.Unlock()

			resultsChan <- prepareResult{
				participantID: rec.participant.ID(),
				vote:          vote,
				err:           err,
			}
		}(record)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	allVotedYes := true
	var prepareErrors []error

	for result := range resultsChan {
		if result.err != nil {
			prepareErrors = append(prepareErrors, fmt.Errorf("participant %s: %w", result.participantID, result.err))
			allVotedYes = false
		} else if !result.vote {
			allVotedYes = false
		}
	}

	if len(prepareErrors) > 0 {
		return false, fmt.Errorf("prepare phase: %v", prepareErrors)
	}

	return allVotedYes, nil
}

// Commit executes phase 2 after a unanimous yes. Commit messages go to
// every participant that voted yes. A commit error does not revert other
// participants; the coordinator has crossed the commit point.
func (c *Coordinator) Commit(ctx context.Context) error {
	c.mu.Lock()
	if c.state != CoordinatorStatePreparing {
		c.mu.Unlock()
		return ErrCoordinatorNotPreparing
	}
	c.state = CoordinatorStateCommitting
	c.mu.Unlock()

	commitErrors := c.finish(ctx, func(ctx context.Context, p Participant) error {
		return p.Commit(ctx, c.txnID)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(commitErrors) > 0 {
		c.state = CoordinatorStateAborted
		return fmt.Errorf("commit phase: %v", commitErrors)
	}
	c.state = CoordinatorStateCommitted
	return nil
}

// Abort releases reservations at every participant that voted yes.
// Participants that voted no (or were never reached) hold no state.
func (c *Coordinator) Abort(ctx context.Context) error {
	c.mu.Lock()
	if c.state == CoordinatorStateCommitted {
		c.mu.Unlock()
		return ErrAlreadyCommitted
	}
	c.state = CoordinatorStateAborting
	c.mu.Unlock()

	abortErrors := c.finish(ctx, func(ctx context.Context, p Participant) error {
		return p.Abort(ctx, c.txnID)
	})

	c.mu.Lock()
	c.state = CoordinatorStateAborted
	c.mu.Unlock()

	if len(abortErrors) > 0 {
		return fmt.Errorf("abort phase: %v", abortErrors)
	}
	return nil
}

// finish fans a second-phase message out to the yes-voters in parallel and
// collects the errors.
func (c *Coordinator) finish(ctx context.Context, send func(context.Context, Participant) error) []error {
	phaseCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type phaseResult struct {
		participantID string
		err           error
	}

	resultsChan := make(chan phaseResult, len(c.participants))
	var wg sync.WaitGroup

	for _, record := range c.participants {
		record.mu.Lock()
		voted := record.prepareVote
		record.mu.Unlock()
		if !voted {
			continue
		}

		wg.Add(1)
		go func(rec *participantRecord) {
			defer wg.Done()
			resultsChan <- phaseResult{
				participantID: rec.participant.ID(),
				err:           send(phaseCtx, rec.participant),
			}
		}(record)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	var errs []error
	for result := range resultsChan {
		if result.err != nil {
			errs = append(errs, fmt.Errorf("participant %s: %w", result.participantID, result.err))
		}
	}
	return errs
}

// Execute runs the full protocol: prepare, then commit or abort. A prepare
// failure aborts the yes-voters and returns ErrPrepareFailed; a commit
// failure returns ErrCommitFailed without reverting.
func (c *Coordinator) Execute(ctx context.Context) error {
	allPrepared, err := c.Prepare(ctx)
	if err != nil {
		_ = c.Abort(ctx)
		return fmt.Errorf("%w: %v", ErrPrepareFailed, err)
	}
	if !allPrepared {
		_ = c.Abort(ctx)
		return ErrPrepareFailed
	}

	if err := c.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	return nil
}

// State returns the current coordinator state.
func (c *Coordinator) State() CoordinatorState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Voted reports whether the participant with the given id voted yes in the
// prepare phase.
func (c *Coordinator) Voted(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, record := range c.participants {
		if record.participant.ID() == id {
			record.mu.Lock()
			defer record.mu.Unlock()
			return record.prepareVote
		}
	}
	return false
}
