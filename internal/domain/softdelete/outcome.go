package softdelete

// Operation is the state transition being applied.
type Operation int

const (
	OpDelete Operation = iota + 1
	OpRestore
)

func (o Operation) String() string {
	switch o {
	case OpDelete:
		return "delete"
	case OpRestore:
		return "restore"
	}
	return "unknown"
}

func (o Operation) before() EventName {
	if o == OpRestore {
		return BeforeSoftRestore
	}
	return BeforeSoftDelete
}

func (o Operation) after() EventName {
	if o == OpRestore {
		return AfterSoftRestore
	}
	return AfterSoftDelete
}

// Outcome is the result of SoftDelete / SoftRestore.
//
// The zero value is OutcomeNoop: the record already was in the target state
// and nothing was written. Only OutcomeApplied means a commit happened.
type Outcome int

const (
	// OutcomeNoop means no attribute differed; no transaction was opened.
	OutcomeNoop Outcome = iota
	// OutcomeApplied means the changes were written and committed.
	OutcomeApplied
	// OutcomeRejected means a before listener vetoed; rolled back.
	OutcomeRejected
	// OutcomeFailed means the update matched no row; rolled back.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoop:
		return "noop"
	case OutcomeApplied:
		return "applied"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Applied reports whether the transition was committed.
func (o Outcome) Applied() bool {
	return o == OutcomeApplied
}
