package docstore

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/openmined/docsync/internal/identity"
)

// Spooled is content copied to a temp file while hashing, so it can be
// addressed by hash before it is handed to a blob backend or a remote store.
type Spooled struct {
	file *os.File
	hash string
	size int64
}

func Spool(r io.Reader) (*Spooled, error) {
	f, err := os.CreateTemp("", "docsync-spool-*")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("spool content: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("rewind spool: %w", err)
	}

	return &Spooled{
		file: f,
		hash: identity.EncodeBase32(h.Sum(nil)),
		size: n,
	}, nil
}

func (s *Spooled) Read(p []byte) (int, error) {
	return s.file.Read(p)
}

func (s *Spooled) Hash() string {
	return s.hash
}

func (s *Spooled) Size() int64 {
	return s.size
}

func (s *Spooled) Close() error {
	err := s.file.Close()
	os.Remove(s.file.Name())
	return err
}
