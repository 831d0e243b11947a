// Package policy decides which paths the local identity may write.
package policy

import (
	"errors"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

var ErrUnauthorized = errors.New("policy: identity may not write this path")

// OwnerMarker starts a path segment that names the only identities allowed
// to write below it, e.g. "~@alice.b...", or "~@alice.b...~@bob.b..." for two.
const OwnerMarker = "~"

// Policy combines owner namespaces with the directory's path rules.
type Policy struct {
	rules *Rules
}

func New(rules *Rules) *Policy {
	if rules == nil {
		rules = &Rules{}
	}
	return &Policy{rules: rules}
}

func (p *Policy) Rules() *Rules {
	return p.rules
}

// CanWrite reports whether author may publish a new version of path.
func (p *Policy) CanWrite(path, author string) bool {
	if p.rules.IsReadOnly(path) {
		return false
	}
	return OwnerAllows(path, author)
}

// Excluded reports whether path is left out of scanning and planning.
func (p *Policy) Excluded(path string, isDir bool) bool {
	return p.rules.Excluded(path, isDir)
}

// OwnerAllows applies only the owner namespaces: author must be listed in
// every owner segment of path. Paths without owner segments are open.
func OwnerAllows(path, author string) bool {
	author = strings.TrimPrefix(author, "@")
	for _, owners := range OwnerSegments(path) {
		if !owners.Contains(author) {
			return false
		}
	}
	return true
}

// OwnerSegments returns the owner set of every owner segment in path, with
// the leading "@" of each address dropped.
func OwnerSegments(path string) []mapset.Set[string] {
	var out []mapset.Set[string]
	for seg := range strings.SplitSeq(path, "/") {
		if !strings.HasPrefix(seg, OwnerMarker) {
			continue
		}
		owners := mapset.NewThreadUnsafeSet[string]()
		for owner := range strings.SplitSeq(seg, OwnerMarker) {
			if owner = strings.TrimPrefix(owner, "@"); owner != "" {
				owners.Add(owner)
			}
		}
		out = append(out, owners)
	}
	return out
}
