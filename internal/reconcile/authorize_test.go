package reconcile

import (
	"testing"

	"github.com/openmined/docsync/internal/docstore"
	"github.com/openmined/docsync/internal/manifest"
	"github.com/openmined/docsync/internal/policy"
	"github.com/openmined/docsync/internal/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceAddr = "@alice.baaaa"
	bobAddr   = "@bob.bbbbb"
)

func TestAuthorize(t *testing.T) {
	owned := "~" + aliceAddr + "/notes"
	open := "open.txt"

	plan := BuildPlan(Inputs{
		Manifest: manifest.Entries{
			owned:          entry(owned, "v1", 1),
			"~alice/gone":  entry("~alice/gone", "v1", 1),
			"~alice/pull":  entry("~alice/pull", "v1", 1),
			"conflict.txt": entry("conflict.txt", "v1", 1),
		},
		Local: map[string]*scanner.FileRecord{
			owned:          file(owned, "bob edit"),
			open:           file(open, "new"),
			"~alice/pull":  file("~alice/pull", "v1"),
			"conflict.txt": file("conflict.txt", "mine"),
		},
		Remote: map[string]*docstore.Document{
			owned:          doc(owned, "v1", 1),
			"~alice/gone":  doc("~alice/gone", "v1", 1),
			"~alice/pull":  doc("~alice/pull", "v2", 2),
			"conflict.txt": doc("conflict.txt", "theirs", 2),
		},
	})

	out := Authorize(plan, policy.New(nil), bobAddr, AuthorizeOptions{})

	kinds := map[string]Kind{}
	for _, a := range out.Actions {
		kinds[a.Target()] = a.Kind()
	}
	assert.Equal(t, KindNoOp, kinds[owned], "push to someone else's path is dropped")
	assert.Equal(t, KindNoOp, kinds["~alice/gone"], "tombstone on someone else's path is dropped")
	assert.Equal(t, KindPull, kinds["~alice/pull"], "reads are never restricted")
	assert.Equal(t, KindPush, kinds[open])
	assert.Equal(t, KindConflict, kinds["conflict.txt"])

	require.Len(t, out.Skipped, 2)
	assert.Equal(t, owned, out.Skipped[0].Path)
	assert.Equal(t, KindPush, out.Skipped[0].Kind)
	assert.Equal(t, "~alice/gone", out.Skipped[1].Path)
	assert.Equal(t, KindDeleteRemote, out.Skipped[1].Kind)

	// skipped paths keep their stale manifest entry so they are retried
	for _, a := range out.Actions {
		if a.Target() == owned {
			require.NotNil(t, a.(*NoOp).Entry)
			assert.Equal(t, docstore.HashBytes([]byte("v1")), a.(*NoOp).Entry.ContentHash)
		}
	}
}

func TestAuthorizeConflictOverride(t *testing.T) {
	owned := "~" + aliceAddr + "/c.txt"

	build := func() *Plan {
		return BuildPlan(Inputs{
			Manifest: manifest.Entries{
				owned:   entry(owned, "v1", 1),
				"c.txt": entry("c.txt", "v1", 1),
			},
			Local: map[string]*scanner.FileRecord{
				owned:   file(owned, "local"),
				"c.txt": file("c.txt", "local"),
			},
			Remote: map[string]*docstore.Document{
				owned:   doc(owned, "remote", 2),
				"c.txt": doc("c.txt", "remote", 2),
			},
		})
	}

	t.Run("without override conflicts stay", func(t *testing.T) {
		out := Authorize(build(), policy.New(nil), bobAddr, AuthorizeOptions{})
		assert.Len(t, out.Conflicts(), 2)
		assert.Empty(t, out.Skipped)
	})

	t.Run("override only where writable", func(t *testing.T) {
		out := Authorize(build(), policy.New(nil), bobAddr, AuthorizeOptions{OverwriteOwned: true})
		conflicts := out.Conflicts()
		require.Len(t, conflicts, 1)
		assert.Equal(t, owned, conflicts[0].Path)

		// the refused override is also reported as skipped
		require.Len(t, out.Skipped, 1)
		assert.Equal(t, owned, out.Skipped[0].Path)
		assert.Equal(t, KindConflict, out.Skipped[0].Kind)
		assert.Equal(t, policy.ErrUnauthorized.Error(), out.Skipped[0].Reason)

		for _, a := range out.Actions {
			if a.Target() == "c.txt" {
				assert.Equal(t, KindPull, a.Kind())
			}
		}
	})

	t.Run("owner may override", func(t *testing.T) {
		out := Authorize(build(), policy.New(nil), aliceAddr, AuthorizeOptions{OverwriteOwned: true})
		assert.Empty(t, out.Conflicts())
		assert.Empty(t, out.Skipped)
		assert.Len(t, out.Pending(), 2)
	})
}
