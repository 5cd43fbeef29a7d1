package vault

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSealOpen(t *testing.T) {
	key, err := LoadOrCreateKey(filepath.Join(t.TempDir(), "keys", "streaks.key"))
	if err != nil {
		t.Fatalf("LoadOrCreateKey failed: %v", err)
	}
	s, err := NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}

	sealed, err := s.Seal([]byte(`{"Reading":{}}`))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	plain, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if string(plain) != `{"Reading":{}}` {
		t.Errorf("Unexpected plaintext %q", plain)
	}

	sealed[len(sealed)-1] ^= 0xff
	if _, err := s.Open(sealed); err != ErrCiphertext {
		t.Errorf("Expected ErrCiphertext for tampered data, got %v", err)
	}
	if _, err := s.Open([]byte("short")); err != ErrCiphertext {
		t.Errorf("Expected ErrCiphertext for short data, got %v", err)
	}
}

func TestLoadOrCreateKeyIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streaks.key")

	first, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	second, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if string(first) != string(second) {
		t.Error("Expected the same key on reload")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat key: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}
}

func TestLoadOrCreateKeyRejectsWrongSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.key")
	if err := os.WriteFile(path, []byte("too short"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateKey(path); err == nil {
		t.Error("Expected error for wrong-size key file")
	}
}
