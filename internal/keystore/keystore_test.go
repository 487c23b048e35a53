package keystore

import (
	"bytes"
	"testing"
)

func TestGenerateAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	seal := bytes.Repeat([]byte{0x07}, 32)

	store, err := Open(dir, seal)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	entry, err := store.Generate("default")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	reopened, err := Open(dir, seal)
	if err != nil {
		t.Fatalf("Open (reopen): %v", err)
	}
	loaded, err := reopened.Load("default")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(loaded.PublicKey, entry.PublicKey) {
		t.Fatalf("public key mismatch after reload")
	}
	if !bytes.Equal(loaded.PrivateKey, entry.PrivateKey) {
		t.Fatalf("private key mismatch after reload")
	}
}

func TestLoadWithWrongSealFails(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, bytes.Repeat([]byte{0x01}, 32))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.Generate("default"); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	wrong, err := Open(dir, bytes.Repeat([]byte{0x02}, 32))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := wrong.Load("default"); err == nil {
		t.Fatalf("expected loading under the wrong seal key to fail")
	}
}

func TestOpenRejectsShortSealKey(t *testing.T) {
	if _, err := Open(t.TempDir(), []byte("too-short")); err == nil {
		t.Fatalf("expected a short seal key to be rejected")
	}
}

func TestLabelsListsGeneratedKeys(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, bytes.Repeat([]byte{0x03}, 32))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.Generate("alice"); err != nil {
		t.Fatalf("Generate alice: %v", err)
	}
	if _, err := store.Generate("bob"); err != nil {
		t.Fatalf("Generate bob: %v", err)
	}

	labels, err := store.Labels()
	if err != nil {
		t.Fatalf("Labels: %v", err)
	}
	seen := map[string]bool{}
	for _, l := range labels {
		seen[l] = true
	}
	if !seen["alice"] || !seen["bob"] {
		t.Fatalf("expected both labels present, got %v", labels)
	}
}

func TestOpenWithPassphraseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenWithPassphrase(dir, "correct horse battery staple")
	if err != nil {
		t.Fatalf("OpenWithPassphrase: %v", err)
	}
	entry, err := store.Generate("default")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	reopened, err := OpenWithPassphrase(dir, "correct horse battery staple")
	if err != nil {
		t.Fatalf("OpenWithPassphrase (reopen): %v", err)
	}
	loaded, err := reopened.Load("default")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(loaded.PrivateKey, entry.PrivateKey) {
		t.Fatalf("private key mismatch after passphrase reopen")
	}

	wrongPass, err := OpenWithPassphrase(dir, "wrong passphrase")
	if err != nil {
		t.Fatalf("OpenWithPassphrase (wrong pass): %v", err)
	}
	if _, err := wrongPass.Load("default"); err == nil {
		t.Fatalf("expected the wrong passphrase to fail decryption")
	}
}
