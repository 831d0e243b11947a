package docstore

import (
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/openmined/docsync/internal/identity"
)

const envelopeFormat = "docsync-doc-v1"

// EmptyHash is the content hash of a tombstone.
var EmptyHash = HashBytes(nil)

// Document is the latest version of a path as held by a store.
type Document struct {
	Path        string `json:"path"`
	Author      string `json:"author"`
	ContentHash string `json:"contentHash"`
	Size        int64  `json:"size"`
	Timestamp   int64  `json:"timestamp"` // microseconds since epoch
	Signature   string `json:"signature"`
	Deleted     bool   `json:"deleted"`
}

func (d *Document) String() string {
	return fmt.Sprintf("%s@%d by %s (%s)", d.Path, d.Timestamp, d.Author, d.ContentHash)
}

// envelope is the canonical byte string covered by the signature.
func (d *Document) envelope() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "format:%s\n", envelopeFormat)
	fmt.Fprintf(&b, "author:%s\n", d.Author)
	fmt.Fprintf(&b, "contentHash:%s\n", d.ContentHash)
	fmt.Fprintf(&b, "deleted:%t\n", d.Deleted)
	fmt.Fprintf(&b, "path:%s\n", d.Path)
	fmt.Fprintf(&b, "size:%d\n", d.Size)
	fmt.Fprintf(&b, "timestamp:%d\n", d.Timestamp)
	return []byte(b.String())
}

// Sign sets Author and Signature from the keypair.
func (d *Document) Sign(author *identity.Keypair) error {
	d.Author = author.Address
	sig, err := author.Sign(d.envelope())
	if err != nil {
		return fmt.Errorf("sign %s: %w", d.Path, err)
	}
	d.Signature = sig
	return nil
}

// Verify checks the document shape and its signature.
func (d *Document) Verify() error {
	if err := ValidatePath(d.Path); err != nil {
		return err
	}
	if d.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp must be positive", ErrInvalidDocument)
	}
	if d.Deleted != (d.Size == 0) {
		return fmt.Errorf("%w: deleted flag does not match size", ErrInvalidDocument)
	}
	if d.Deleted && d.ContentHash != EmptyHash {
		return fmt.Errorf("%w: tombstone with content hash", ErrInvalidDocument)
	}
	if err := identity.Verify(d.Author, d.envelope(), d.Signature); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidSignature, d.Path, err)
	}
	return nil
}

// NextTimestamp is now in microseconds, bumped past prev so a new version
// always becomes the latest.
func NextTimestamp(now time.Time, prev *Document) int64 {
	ts := now.UnixMicro()
	if prev != nil && ts <= prev.Timestamp {
		ts = prev.Timestamp + 1
	}
	return ts
}

// ValidatePath accepts slash separated relative paths without empty, "." or
// ".." segments.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.HasPrefix(path, "/") || strings.ContainsRune(path, 0) || strings.Contains(path, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return nil
}

// HashBytes returns the content hash of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return identity.EncodeBase32(sum[:])
}

// HashReader streams r through the content hash.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return identity.EncodeBase32(h.Sum(nil)), n, nil
}
