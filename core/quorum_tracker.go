package core

import "sync"

// QuorumTracker counts distinct signing identities against a delegation
// set and reports whether a strict majority has signed: each direct key
// delegate contributes one vote, and all signing keys belonging to one
// referenced person collectively contribute a single vote for that
// person.

type QuorumTracker struct {
	mu         sync.Mutex
	delegation int            // |delegations| for this document
	votes      map[string]struct{}
}

// NewQuorumTracker returns a tracker over a delegation set of the given
// size; a strict majority (votes > delegation/2) is required to pass.
func NewQuorumTracker(delegationSize int) *QuorumTracker {
	return &QuorumTracker{
		delegation: delegationSize,
		votes:      make(map[string]struct{}),
	}
}

// AddVote records a vote for the given identity key (a raw public-key
// string for a direct delegate, or "person:<urn>" for a person delegate).
// Duplicate votes for the same identity are idempotent. It returns the
// current number of distinct votes.
func (qt *QuorumTracker) AddVote(identity string) int {
	qt.mu.Lock()
	qt.votes[identity] = struct{}{}
	n := len(qt.votes)
	qt.mu.Unlock()
	return n
}

// HasQuorum reports whether the number of distinct votes exceeds half the
// delegation size: strictly greater than n/2, per the quorum-arithmetic
// invariant.
func (qt *QuorumTracker) HasQuorum() bool {
	qt.mu.Lock()
	n := len(qt.votes)
	qt.mu.Unlock()
	return n*2 > qt.delegation
}

// Count returns the number of distinct votes recorded so far.
func (qt *QuorumTracker) Count() int {
	qt.mu.Lock()
	defer qt.mu.Unlock()
	return len(qt.votes)
}

// Reset clears all recorded votes, leaving the delegation size unchanged.
func (qt *QuorumTracker) Reset() {
	qt.mu.Lock()
	qt.votes = make(map[string]struct{})
	qt.mu.Unlock()
}
