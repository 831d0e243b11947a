package policy

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
	"gopkg.in/yaml.v3"
)

// RulesFileName is looked up at the root of the synchronized directory.
const RulesFileName = ".docsync.yaml"

// Rules are per-directory path rules. Patterns are doublestar globs matched
// against slash separated relative paths; a pattern without a slash also
// matches the last path element alone.
type Rules struct {
	// Exclude is never scanned nor synchronized.
	Exclude []string `yaml:"exclude,omitempty"`
	// ReadOnly is pulled but never pushed from this directory.
	ReadOnly []string `yaml:"readonly,omitempty"`
	// Ignore holds gitignore-style lines, including those of the ignore file.
	Ignore []string `yaml:"ignore,omitempty"`

	ignoreOnce sync.Once
	ignore     *gitignore.GitIgnore
}

// LoadRules reads the rules file and the ignore file at root. Missing files
// yield empty rules.
func LoadRules(root string) (*Rules, error) {
	rules := &Rules{}

	f, err := os.Open(filepath.Join(root, RulesFileName))
	switch {
	case err == nil:
		defer f.Close()
		if rules, err = ParseRules(f); err != nil {
			return nil, err
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}

	lines, err := loadIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	rules.Ignore = append(rules.Ignore, lines...)
	return rules, nil
}

func ParseRules(r io.Reader) (*Rules, error) {
	rules := &Rules{}
	if err := yaml.NewDecoder(r).Decode(rules); err != nil {
		// empty file
		if err == io.EOF {
			return rules, nil
		}
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *Rules) Validate() error {
	for _, p := range append(append([]string{}, r.Exclude...), r.ReadOnly...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid pattern %q", p)
		}
	}
	return nil
}

// Merge appends other's patterns.
func (r *Rules) Merge(other *Rules) *Rules {
	if other == nil {
		return r
	}
	return &Rules{
		Exclude:  append(append([]string{}, r.Exclude...), other.Exclude...),
		ReadOnly: append(append([]string{}, r.ReadOnly...), other.ReadOnly...),
		Ignore:   append(append([]string{}, r.Ignore...), other.Ignore...),
	}
}

func (r *Rules) Excluded(rel string, isDir bool) bool {
	if matchAny(r.Exclude, rel) || r.ignored(rel, isDir) {
		return true
	}
	// "dir/**" excludes the directory itself
	return isDir && matchAny(r.Exclude, rel+"/")
}

func (r *Rules) ignored(rel string, isDir bool) bool {
	r.ignoreOnce.Do(func() {
		if len(r.Ignore) > 0 {
			r.ignore = gitignore.CompileIgnoreLines(r.Ignore...)
		}
	})
	if r.ignore == nil {
		return false
	}
	if isDir {
		return r.ignore.MatchesPath(rel + "/")
	}
	return r.ignore.MatchesPath(rel)
}

func (r *Rules) IsReadOnly(rel string) bool {
	return matchAny(r.ReadOnly, rel)
}

// Covered reports whether rel or any of its parent directories is excluded.
func (r *Rules) Covered(rel string) bool {
	if r.Excluded(rel, false) {
		return true
	}
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if r.Excluded(dir, true) {
			return true
		}
	}
	return false
}

func matchAny(patterns []string, rel string) bool {
	base := path.Base(strings.TrimSuffix(rel, "/"))
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if !strings.Contains(p, "/") {
			if ok, _ := doublestar.Match(p, base); ok {
				return true
			}
		}
	}
	return false
}
