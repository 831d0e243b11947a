package session

import (
	"slices"
	"time"

	"github.com/openmined/docsync/internal/reconcile"
)

type Failure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

type PlannedAction struct {
	Path string         `json:"path"`
	Kind reconcile.Kind `json:"kind"`
}

// Report is the outcome of one run. It is returned to the caller and never
// persisted.
type Report struct {
	RunID               string          `json:"runId"`
	Succeeded           []string        `json:"succeeded"`
	Failed              []Failure       `json:"failed"`
	Conflicts           []string        `json:"conflicts"`
	SkippedUnauthorized []string        `json:"skippedUnauthorized"`
	Planned             []PlannedAction `json:"planned,omitempty"`
	Refused             bool            `json:"refused"`
	RefusalReason       string          `json:"refusalReason,omitempty"`
	DryRun              bool            `json:"dryRun"`
	ManifestCommitted   bool            `json:"manifestCommitted"`
	Duration            time.Duration   `json:"duration"`
}

// Event reports one executed path.
type Event struct {
	Path string
	Kind reconcile.Kind
	Err  error
}

// Clean reports whether the run left nothing pending.
func (r *Report) Clean() bool {
	return !r.Refused && len(r.Failed) == 0 && len(r.Conflicts) == 0 && len(r.SkippedUnauthorized) == 0
}

func (r *Report) sort() {
	slices.Sort(r.Succeeded)
	slices.Sort(r.Conflicts)
	slices.Sort(r.SkippedUnauthorized)
	slices.SortFunc(r.Failed, func(a, b Failure) int {
		if a.Path < b.Path {
			return -1
		}
		if a.Path > b.Path {
			return 1
		}
		return 0
	})
}
