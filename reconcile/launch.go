package reconcile

import (
	"sort"

	"github.com/provrun/provrun/conncheck"
)

// ConnectionOutcome is the per-provider connection test result used for
// launch gating.
type ConnectionOutcome string

const (
	OutcomeSuccess ConnectionOutcome = "SUCCESS"
	OutcomeFailure ConnectionOutcome = "FAILURE"
	OutcomePending ConnectionOutcome = "PENDING"
)

// OutcomeFromVerdict collapses a poll verdict into a launch-gating outcome.
func OutcomeFromVerdict(v conncheck.Verdict) ConnectionOutcome {
	if v.Success {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// CanAdvanceToLaunch reports whether a scan launch may proceed: at least
// one provider must have a successful connection test.
func CanAdvanceToLaunch(results map[string]ConnectionOutcome) bool {
	for _, outcome := range results {
		if outcome == OutcomeSuccess {
			return true
		}
	}
	return false
}

// LaunchableProviderIDs returns exactly the provider ids whose connection
// test succeeded, sorted for deterministic launch order.
func LaunchableProviderIDs(results map[string]ConnectionOutcome) []string {
	ids := make([]string, 0, len(results))
	for id, outcome := range results {
		if outcome == OutcomeSuccess {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
