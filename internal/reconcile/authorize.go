package reconcile

import (
	"log/slog"

	"github.com/openmined/docsync/internal/manifest"
	"github.com/openmined/docsync/internal/policy"
)

// Writer decides write access per path.
type Writer interface {
	CanWrite(path, author string) bool
}

type AuthorizeOptions struct {
	// OverwriteOwned resolves conflicts in favour of the store, but only on
	// paths the author may write.
	OverwriteOwned bool
}

// Authorize drops writes the author is not allowed to make. Pulls and local
// deletes are never restricted.
func Authorize(plan *Plan, w Writer, author string, opts AuthorizeOptions) *Plan {
	out := &Plan{
		Skipped: append([]Skipped(nil), plan.Skipped...),
		Blocked: plan.Blocked,
		Prior:   plan.Prior,
	}

	for _, a := range plan.Actions {
		switch a := a.(type) {
		case *Push, *DeleteRemote:
			if !w.CanWrite(a.Target(), author) {
				slog.Info("sync skip", "op", a.Kind(), "path", a.Target(), "reason", policy.ErrUnauthorized)
				out.Skipped = append(out.Skipped, Skipped{
					Path:   a.Target(),
					Kind:   a.Kind(),
					Reason: policy.ErrUnauthorized.Error(),
				})
				// the path keeps its prior manifest entry
				out.Actions = append(out.Actions, &NoOp{Path: a.Target(), Entry: priorEntry(plan, a.Target())})
				continue
			}
		case *Conflict:
			if opts.OverwriteOwned {
				if w.CanWrite(a.Path, author) {
					out.Actions = append(out.Actions, &Pull{Path: a.Path, Remote: a.Remote, Local: a.Local})
					continue
				}
				// the conflict stays and the refused override is reported too
				slog.Warn("sync conflict override refused", "path", a.Path, "reason", policy.ErrUnauthorized)
				out.Skipped = append(out.Skipped, Skipped{
					Path:   a.Path,
					Kind:   a.Kind(),
					Reason: policy.ErrUnauthorized.Error(),
				})
			}
		}
		out.Actions = append(out.Actions, a)
	}
	return out
}

func priorEntry(plan *Plan, path string) *manifest.Entry {
	if e, ok := plan.Prior[path]; ok {
		return &e
	}
	return nil
}
