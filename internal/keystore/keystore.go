// Package keystore implements a file-backed, encrypted store for the
// local node's device key material. The replicated data model never
// carries these keys; they are purely a local operator concern, sealed at
// rest with the core package's XChaCha20-Poly1305 primitive.
package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"

	"linkmesh/core"
)

const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// saltFile holds the scrypt salt for a passphrase-sealed store, shared by
// every label under the same directory.
const saltFile = "salt"

// DeriveKey stretches passphrase with scrypt under salt into a 32-byte
// seal key suitable for Open. Use a random, persisted salt per store --
// OpenWithPassphrase manages this automatically.
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, 32)
}

// Entry is one device key pair, identified by a short label ("default",
// a device name, ...).
type Entry struct {
	Label      string            `json:"label"`
	PublicKey  ed25519.PublicKey `json:"public_key"`
	PrivateKey ed25519.PrivateKey `json:"-"`
}

type sealedEntry struct {
	Label     string `json:"label"`
	PublicKey []byte `json:"public_key"`
	Sealed    []byte `json:"sealed"`
}

// Store is a directory of sealed device key entries, one file per label.
type Store struct {
	mu    sync.Mutex
	dir   string
	seal  [32]byte // symmetric key sealing every entry in this store
}

// Open opens (creating if absent) a keystore rooted at dir, sealing
// entries under sealKey (must be 32 bytes -- typically derived from an
// operator passphrase).
func Open(dir string, sealKey []byte) (*Store, error) {
	if len(sealKey) != 32 {
		return nil, fmt.Errorf("keystore: seal key must be 32 bytes, got %d", len(sealKey))
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	s := &Store{dir: dir}
	copy(s.seal[:], sealKey)
	return s, nil
}

// OpenWithPassphrase opens (creating if absent) a keystore rooted at dir,
// deriving the seal key from passphrase via scrypt. The salt is generated
// once and persisted alongside the store so the same passphrase reopens
// it across restarts.
func OpenWithPassphrase(dir, passphrase string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	saltPath := filepath.Join(dir, saltFile)
	salt, err := os.ReadFile(saltPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
		if err := os.WriteFile(saltPath, salt, 0o600); err != nil {
			return nil, err
		}
	}
	key, err := DeriveKey(passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("keystore: derive seal key: %w", err)
	}
	return Open(dir, key)
}

func (s *Store) path(label string) string {
	return filepath.Join(s.dir, label+".key")
}

// Generate creates a fresh Ed25519 keypair under label, sealing the
// private key at rest.
func (s *Store) Generate(label string) (*Entry, error) {
	pub, priv, err := core.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	entry := &Entry{Label: label, PublicKey: pub, PrivateKey: priv}
	if err := s.save(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) save(entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sealed, err := core.Encrypt(s.seal[:], entry.PrivateKey, []byte(entry.Label))
	if err != nil {
		return err
	}
	on := sealedEntry{Label: entry.Label, PublicKey: entry.PublicKey, Sealed: sealed}
	data, err := json.Marshal(on)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(entry.Label), data, 0o600)
}

// Load decrypts and returns the entry stored under label.
func (s *Store) Load(label string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path(label))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.Fail(core.KindNotFound, "keystore.load", err)
		}
		return nil, err
	}
	var on sealedEntry
	if err := json.Unmarshal(data, &on); err != nil {
		return nil, core.Fail(core.KindMalformed, "keystore.load", err)
	}
	priv, err := core.Decrypt(s.seal[:], on.Sealed, []byte(on.Label))
	if err != nil {
		return nil, err
	}
	return &Entry{Label: on.Label, PublicKey: on.PublicKey, PrivateKey: priv}, nil
}

// Labels lists every device key label present in the store.
func (s *Store) Labels() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var labels []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".key" {
			labels = append(labels, name[:len(name)-len(".key")])
		}
	}
	return labels, nil
}
