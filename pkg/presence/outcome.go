package presence

import "github.com/consultease/consultease/pkg/models"

// OutcomeKind tags the result of one presence update.
type OutcomeKind string

const (
	// OutcomeApplied means the update committed; Snapshot carries the
	// post-commit row.
	OutcomeApplied OutcomeKind = "applied"
	// OutcomeDeferred means persistence was unhealthy and the update was
	// queued for replay; Reason says why.
	OutcomeDeferred OutcomeKind = "deferred"
	// OutcomeFailed means the update could not be applied; Err carries the
	// typed error.
	OutcomeFailed OutcomeKind = "failed"
)

// UpdateOutcome is the tagged result of HandleStatusUpdate and
// HandleMacStatus. Exactly one of Snapshot, Reason, or Err is meaningful,
// selected by Kind.
type UpdateOutcome struct {
	Kind     OutcomeKind
	Snapshot models.Faculty
	Reason   string
	Err      error
}

// Applied wraps a committed snapshot.
func Applied(snapshot models.Faculty) UpdateOutcome {
	return UpdateOutcome{Kind: OutcomeApplied, Snapshot: snapshot}
}

// Deferred wraps a queued-for-replay result.
func Deferred(reason string) UpdateOutcome {
	return UpdateOutcome{Kind: OutcomeDeferred, Reason: reason}
}

// Failed wraps a terminal error.
func Failed(err error) UpdateOutcome {
	return UpdateOutcome{Kind: OutcomeFailed, Err: err}
}
