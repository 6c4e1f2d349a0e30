package twopc

import "errors"

var (
	// ErrCoordinatorNotInit is returned when a phase is started on a coordinator not in init state
	ErrCoordinatorNotInit = errors.New("coordinator not in init state")

	// ErrCoordinatorNotPreparing is returned when trying to commit without preparing first
	ErrCoordinatorNotPreparing = errors.New("coordinator not in preparing state")

	// ErrAlreadyCommitted is returned when trying to abort an already committed transaction
	ErrAlreadyCommitted = errors.New("transaction already committed")

	// ErrParticipantAlreadyAdded is returned when adding a duplicate participant
	ErrParticipantAlreadyAdded = errors.New("participant already added")

	// ErrPrepareFailed is returned by Execute when any participant votes no or a prepare RPC fails
	ErrPrepareFailed = errors.New("prepare phase failed")

	// ErrCommitFailed is returned by Execute when a commit RPC fails after the commit decision;
	// participants that committed stay committed
	ErrCommitFailed = errors.New("commit phase failed")
)
