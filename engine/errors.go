package engine

import "errors"

var (
	ErrInvalidVote       = errors.New("invalid vote")
	ErrUnknownVoter      = errors.New("vote from unknown validator")
	ErrConflictingVote   = errors.New("conflicting vote (equivocation)")
	ErrDuplicateVote     = errors.New("duplicate vote")
	ErrInvalidProposal   = errors.New("invalid proposal")
	ErrNotProposer       = errors.New("proposal from wrong proposer")
	ErrInvalidHeight     = errors.New("invalid height")
	ErrInvalidRound      = errors.New("invalid round")
	ErrAlreadyStarted    = errors.New("already started")
	ErrNotStarted        = errors.New("not started")
	ErrNilValidatorSet   = errors.New("nil validator set")
	ErrNotInValidatorSet = errors.New("node is not in the validator set")
)
