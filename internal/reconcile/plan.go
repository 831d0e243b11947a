package reconcile

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/docsync/internal/docstore"
	"github.com/openmined/docsync/internal/manifest"
	"github.com/openmined/docsync/internal/scanner"
)

// Inputs are the three views of the directory a plan is built from.
type Inputs struct {
	Manifest manifest.Entries
	Local    map[string]*scanner.FileRecord
	Remote   map[string]*docstore.Document

	// Blocked paths failed to scan; their local state is unknown.
	Blocked func(path string) bool
	// Excluded paths are outside synchronization.
	Excluded func(path string) bool
}

// Skipped is an action that was planned but not allowed.
type Skipped struct {
	Path   string `json:"path"`
	Kind   Kind   `json:"kind"`
	Reason string `json:"reason"`
}

// Plan holds exactly one action per path, sorted by path.
type Plan struct {
	Actions []Action
	Skipped []Skipped
	Blocked []string
	// Prior is the manifest the plan started from.
	Prior manifest.Entries
}

// Pending returns the actions that need I/O.
func (p *Plan) Pending() []Action {
	var out []Action
	for _, a := range p.Actions {
		switch a.(type) {
		case *NoOp, *Conflict:
		default:
			out = append(out, a)
		}
	}
	return out
}

func (p *Plan) Conflicts() []*Conflict {
	var out []*Conflict
	for _, a := range p.Actions {
		if c, ok := a.(*Conflict); ok {
			out = append(out, c)
		}
	}
	return out
}

func (p *Plan) Counts() map[Kind]int {
	counts := make(map[Kind]int)
	for _, a := range p.Actions {
		counts[a.Kind()]++
	}
	return counts
}

// Empty reports whether applying the plan would change nothing.
func (p *Plan) Empty() bool {
	return len(p.Pending()) == 0 && len(p.Conflicts()) == 0 && len(p.Skipped) == 0
}

// BuildPlan classifies every path known to any of the three sources. It does
// no I/O.
func BuildPlan(in Inputs) *Plan {
	paths := mapset.NewThreadUnsafeSet[string]()
	for p := range in.Manifest {
		paths.Add(p)
	}
	for p := range in.Local {
		paths.Add(p)
	}
	for p := range in.Remote {
		paths.Add(p)
	}

	sorted := paths.ToSlice()
	slices.Sort(sorted)

	plan := &Plan{Prior: in.Manifest}
	for _, p := range sorted {
		var prior *manifest.Entry
		if e, ok := in.Manifest[p]; ok {
			prior = &e
		}

		if in.Excluded != nil && in.Excluded(p) {
			plan.Actions = append(plan.Actions, &NoOp{Path: p, Entry: prior})
			continue
		}
		if in.Blocked != nil && in.Blocked(p) {
			plan.Blocked = append(plan.Blocked, p)
			plan.Actions = append(plan.Actions, &NoOp{Path: p, Entry: prior})
			continue
		}

		plan.Actions = append(plan.Actions, classify(p, in.Local[p], in.Remote[p], prior))
	}
	return plan
}

func classify(p string, local *scanner.FileRecord, remote *docstore.Document, prior *manifest.Entry) Action {
	// an empty file and a tombstone are both "absent"
	var d, s string
	if local != nil && local.Size > 0 {
		d = local.ContentHash
	}
	if remote != nil && !remote.Deleted {
		s = remote.ContentHash
	}

	switch {
	case d == "" && s == "":
		return &NoOp{Path: p}
	case d == s:
		return &NoOp{Path: p, Entry: converged(p, local, remote, prior)}
	}

	if prior == nil {
		switch {
		case s == "":
			return &Push{Path: p, Local: local, Remote: remote}
		case d == "":
			return &Pull{Path: p, Remote: remote, Local: local}
		default:
			return &Conflict{Path: p, Local: local, Remote: remote}
		}
	}

	m := prior.ContentHash
	localChanged := d != m
	remoteChanged := s != m

	switch {
	case !localChanged && remoteChanged && s == "":
		return &DeleteLocal{Path: p, Local: local, Remote: remote}
	case !localChanged && remoteChanged:
		return &Pull{Path: p, Remote: remote, Local: local}
	case localChanged && !remoteChanged && d == "":
		return &DeleteRemote{Path: p, Remote: remote, Local: local}
	case localChanged && !remoteChanged:
		return &Push{Path: p, Local: local, Remote: remote}
	// both changed from here on
	case d == "":
		// deleted here, edited there: keep the edit
		return &Pull{Path: p, Remote: remote, Local: local}
	case s == "":
		// edited here, deleted there: keep the edit
		return &Push{Path: p, Local: local, Remote: remote}
	default:
		return &Conflict{Path: p, Local: local, Remote: remote, Manifest: prior}
	}
}

// converged keeps the prior entry when it already describes the synced
// version so that touching a file does not rewrite the manifest.
func converged(p string, local *scanner.FileRecord, remote *docstore.Document, prior *manifest.Entry) *manifest.Entry {
	if prior != nil && prior.ContentHash == remote.ContentHash && prior.Timestamp == remote.Timestamp {
		return prior
	}
	return &manifest.Entry{
		Path:        p,
		ContentHash: remote.ContentHash,
		Timestamp:   remote.Timestamp,
		FileModTime: local.ModTime.UnixMilli(),
	}
}
