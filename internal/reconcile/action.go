// Package reconcile compares a directory, its manifest and the store, plans
// one action per path and applies those actions.
package reconcile

import (
	"fmt"

	"github.com/openmined/docsync/internal/docstore"
	"github.com/openmined/docsync/internal/manifest"
	"github.com/openmined/docsync/internal/scanner"
)

type Kind int

const (
	KindNoOp Kind = iota
	KindPull
	KindPush
	KindDeleteLocal
	KindDeleteRemote
	KindConflict
)

var kindNames = map[Kind]string{
	KindNoOp:         "noop",
	KindPull:         "pull",
	KindPush:         "push",
	KindDeleteLocal:  "delete-local",
	KindDeleteRemote: "delete-remote",
	KindConflict:     "conflict",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Action is one planned step for one path. The set of implementations is
// closed; see Executor.Apply.
type Action interface {
	Target() string
	Kind() Kind
	action()
}

// Pull writes the store's document to disk. Local is the file the plan saw
// (nil if none); it must be unchanged when the pull lands.
type Pull struct {
	Path   string
	Remote *docstore.Document
	Local  *scanner.FileRecord
}

// Push publishes the local file. Remote is the version the plan saw (nil or
// a tombstone if none); a newer store version aborts the push.
type Push struct {
	Path   string
	Local  *scanner.FileRecord
	Remote *docstore.Document
}

// DeleteLocal removes a file whose document was deleted in the store.
type DeleteLocal struct {
	Path   string
	Local  *scanner.FileRecord
	Remote *docstore.Document
}

// DeleteRemote publishes a tombstone for a file deleted locally.
type DeleteRemote struct {
	Path   string
	Remote *docstore.Document
	Local  *scanner.FileRecord // a zero-size file, or nil
}

// Conflict is left untouched and reported.
type Conflict struct {
	Path     string
	Local    *scanner.FileRecord
	Remote   *docstore.Document
	Manifest *manifest.Entry
}

// NoOp needs no I/O. Entry is the manifest entry to keep for the path, nil
// when the path should leave the manifest.
type NoOp struct {
	Path  string
	Entry *manifest.Entry
}

func (a *Pull) Target() string         { return a.Path }
func (a *Push) Target() string         { return a.Path }
func (a *DeleteLocal) Target() string  { return a.Path }
func (a *DeleteRemote) Target() string { return a.Path }
func (a *Conflict) Target() string     { return a.Path }
func (a *NoOp) Target() string         { return a.Path }

func (a *Pull) Kind() Kind         { return KindPull }
func (a *Push) Kind() Kind         { return KindPush }
func (a *DeleteLocal) Kind() Kind  { return KindDeleteLocal }
func (a *DeleteRemote) Kind() Kind { return KindDeleteRemote }
func (a *Conflict) Kind() Kind     { return KindConflict }
func (a *NoOp) Kind() Kind         { return KindNoOp }

func (*Pull) action()         {}
func (*Push) action()         {}
func (*DeleteLocal) action()  {}
func (*DeleteRemote) action() {}
func (*Conflict) action()     {}
func (*NoOp) action()         {}
