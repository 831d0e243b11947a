// Package identity holds the author keypair used to sign documents.
//
// Addresses look like "@suzy.b<base32 public key>": a short lowercase
// name followed by the ed25519 public key.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/openmined/docsync/internal/utils"
)

var (
	ErrInvalidName    = errors.New("identity: shortname must be 3-16 chars, a-z then a-z0-9")
	ErrInvalidAddress = errors.New("identity: invalid author address")
	ErrInvalidSecret  = errors.New("identity: invalid secret")
	ErrBadSignature   = errors.New("identity: signature does not verify")
)

var (
	b32       = base32.StdEncoding.WithPadding(base32.NoPadding)
	nameRegex = regexp.MustCompile(`^[a-z][a-z0-9]{2,15}$`)
)

// Keypair is an author identity. Secret is never logged.
type Keypair struct {
	Address string `json:"address"`
	Secret  string `json:"secret"`
}

// Generate creates a fresh keypair for the given shortname.
func Generate(name string) (*Keypair, error) {
	if !nameRegex.MatchString(name) {
		return nil, ErrInvalidName
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	return &Keypair{
		Address: "@" + name + "." + EncodeBase32(pub),
		Secret:  EncodeBase32(priv.Seed()),
	}, nil
}

// Sign returns the base32 signature of msg.
func (k *Keypair) Sign(msg []byte) (string, error) {
	priv, err := k.privateKey()
	if err != nil {
		return "", err
	}
	return EncodeBase32(ed25519.Sign(priv, msg)), nil
}

// Validate checks that the secret belongs to the address.
func (k *Keypair) Validate() error {
	priv, err := k.privateKey()
	if err != nil {
		return err
	}
	pub, err := publicKey(k.Address)
	if err != nil {
		return err
	}
	if !pub.Equal(priv.Public()) {
		return fmt.Errorf("%w: secret does not match %s", ErrInvalidSecret, k.Address)
	}
	return nil
}

func (k *Keypair) String() string {
	return k.Address
}

func (k *Keypair) privateKey() (ed25519.PrivateKey, error) {
	seed, err := DecodeBase32(k.Secret)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidSecret
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// Verify checks sig against msg for the author address.
func Verify(address string, msg []byte, sig string) error {
	pub, err := publicKey(address)
	if err != nil {
		return err
	}
	raw, err := DecodeBase32(sig)
	if err != nil {
		return ErrBadSignature
	}
	if !ed25519.Verify(pub, msg, raw) {
		return ErrBadSignature
	}
	return nil
}

// ShortName returns the shortname part of an address, or "" if malformed.
func ShortName(address string) string {
	name, _, ok := splitAddress(address)
	if !ok {
		return ""
	}
	return name
}

// ValidAddress reports whether address is well formed.
func ValidAddress(address string) bool {
	_, err := publicKey(address)
	return err == nil
}

func publicKey(address string) (ed25519.PublicKey, error) {
	_, key, ok := splitAddress(address)
	if !ok {
		return nil, ErrInvalidAddress
	}
	raw, err := DecodeBase32(key)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidAddress
	}
	return ed25519.PublicKey(raw), nil
}

func splitAddress(address string) (name, key string, ok bool) {
	if !strings.HasPrefix(address, "@") {
		return "", "", false
	}
	name, key, ok = strings.Cut(address[1:], ".")
	if !ok || !nameRegex.MatchString(name) {
		return "", "", false
	}
	return name, key, true
}

// EncodeBase32 renders bytes as "b" + lowercase unpadded RFC 4648 base32.
func EncodeBase32(b []byte) string {
	return "b" + strings.ToLower(b32.EncodeToString(b))
}

// DecodeBase32 reverses EncodeBase32.
func DecodeBase32(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "b") {
		return nil, fmt.Errorf("base32 string must start with 'b'")
	}
	return b32.DecodeString(strings.ToUpper(s[1:]))
}

// Load reads and validates a keypair file.
func Load(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity: %w", err)
	}

	var kp Keypair
	if err := utils.JSONUnmarshal(data, &kp); err != nil {
		return nil, fmt.Errorf("parse identity %s: %w", path, err)
	}
	if err := kp.Validate(); err != nil {
		return nil, err
	}
	return &kp, nil
}

// Save writes the keypair with owner-only permissions.
func (k *Keypair) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}
	data, err := utils.JSONMarshalIndent(k, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
