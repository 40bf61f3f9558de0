package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testKey() [KeySize]byte {
	var key [KeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestNewFileStore(t *testing.T) {
	tests := []struct {
		name       string
		encryption bool
	}{
		{name: "without encryption", encryption: false},
		{name: "with encryption", encryption: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, err := NewFileStore(tt.encryption)
			if err != nil {
				t.Fatalf("NewFileStore() error = %v", err)
			}
			if fs.Encrypted() != tt.encryption {
				t.Errorf("Encrypted() = %v, want %v", fs.Encrypted(), tt.encryption)
			}
		})
	}
}

func TestFileStore_WriteAndRead(t *testing.T) {
	tmpDir := t.TempDir()
	fs, err := NewFileStore(false)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	path := filepath.Join(tmpDir, "nested", "encodings.json")
	payload := []byte(`{"ALICE": [0.1, 0.2]}`)

	if err := fs.WriteFile(path, payload); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	got, err := fs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("content mismatch: got %q, want %q", got, payload)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected 0600 permissions, got %v", info.Mode().Perm())
	}

	// No temp files left behind
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
}

func TestFileStore_WriteAndRead_Encrypted(t *testing.T) {
	tmpDir := t.TempDir()
	fs := NewFileStoreWithKey(testKey())

	path := filepath.Join(tmpDir, "encodings.json")
	payload := []byte(`{"BOB": [1, 2, 3]}`)

	if err := fs.WriteFile(path, payload); err != nil {
		t.Fatalf("WriteFile (encrypted) failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read encrypted file: %v", err)
	}
	if bytes.Contains(raw, []byte("BOB")) {
		t.Error("file does not appear to be encrypted")
	}

	got, err := fs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile (encrypted) failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("content mismatch after decryption: got %q", got)
	}
}

func TestFileStore_ReadFile_NotFound(t *testing.T) {
	fs, _ := NewFileStore(false)

	_, err := fs.ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
}

func TestFileStore_ReadFile_WrongKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encodings.json")

	writer := NewFileStoreWithKey(testKey())
	if err := writer.WriteFile(path, []byte("secret")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	var other [KeySize]byte
	reader := NewFileStoreWithKey(other)
	if _, err := reader.ReadFile(path); !errors.Is(err, ErrEncryption) {
		t.Errorf("expected ErrEncryption, got %v", err)
	}
}

func TestFileStore_ReadFile_Truncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.enc")
	if err := os.WriteFile(path, []byte("tiny"), 0600); err != nil {
		t.Fatal(err)
	}

	fs := NewFileStoreWithKey(testKey())
	if _, err := fs.ReadFile(path); !errors.Is(err, ErrEncryption) {
		t.Errorf("expected ErrEncryption for truncated ciphertext, got %v", err)
	}
}

func TestEncryptDecrypt_UniqueNonces(t *testing.T) {
	fs := NewFileStoreWithKey(testKey())
	plaintext := []byte("same input")

	a, err := fs.encrypt(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	b, err := fs.encrypt(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext should differ")
	}

	for _, ct := range [][]byte{a, b} {
		pt, err := fs.decrypt(ct)
		if err != nil {
			t.Fatalf("decrypt failed: %v", err)
		}
		if !bytes.Equal(pt, plaintext) {
			t.Errorf("decrypt mismatch: %q", pt)
		}
	}
}

func TestDeriveKey_Stable(t *testing.T) {
	k1, err := deriveKey()
	if err != nil {
		t.Fatal(err)
	}
	k2, err := deriveKey()
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Error("derived key should be deterministic on the same machine")
	}
}
