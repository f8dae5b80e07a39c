package pagination

// Status is the in-flight state of a Collection. Exactly one variant holds
// at a time; any non-idle status blocks the other mutators.
type Status int

const (
	StatusIdle Status = iota
	StatusLoadingFirst
	StatusLoadingMore
	StatusRefreshing
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoadingFirst:
		return "loading_first"
	case StatusLoadingMore:
		return "loading_more"
	case StatusRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Loading reports whether a fetch is in flight.
func (s Status) Loading() bool {
	return s != StatusIdle
}

// Outcome tells the caller what an operation did. It is informational only;
// the collection state is the source of truth.
type Outcome int

const (
	// OutcomeApplied means the fetch succeeded and its result was applied.
	OutcomeApplied Outcome = iota
	// OutcomeFailed means the fetch failed and LastError was set.
	OutcomeFailed
	// OutcomeRejected means the guard refused to start a fetch.
	OutcomeRejected
	// OutcomeStale means the fetch finished after being superseded and its
	// result was discarded.
	OutcomeStale
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeFailed:
		return "failed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Operation names, used in errors, logs and metric labels.
const (
	OpLoadFirst = "load_first"
	OpLoadNext  = "load_next"
	OpRefresh   = "refresh"
)
