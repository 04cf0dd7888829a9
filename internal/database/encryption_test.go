package database

import "testing"

func TestEncryptionManager_Basic(t *testing.T) {
	em := NewEncryptionManager("test-password-123")
	if em == nil {
		t.Fatal("expected encryption manager to be created, got nil")
	}
	if !em.Enabled() {
		t.Error("expected Enabled to return true")
	}

	plaintext := "card-token-abc123"

	ciphertext, err := em.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("failed to encrypt: %v", err)
	}
	if ciphertext == plaintext {
		t.Error("ciphertext should not equal plaintext")
	}
	if ciphertext == "" {
		t.Error("ciphertext should not be empty")
	}

	decrypted, err := em.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("failed to decrypt: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("expected decrypted text %q, got %q", plaintext, decrypted)
	}
}

func TestEncryptionManager_EmptyPassword(t *testing.T) {
	em := NewEncryptionManager("")
	if em != nil {
		t.Error("expected nil encryption manager with empty password")
	}

	plaintext := "cookie-blob"

	ciphertext, err := em.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("unexpected error with nil manager: %v", err)
	}
	if ciphertext != plaintext {
		t.Errorf("expected plaintext passthrough, got %q", ciphertext)
	}

	decrypted, err := em.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("unexpected error with nil manager: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("expected plaintext passthrough, got %q", decrypted)
	}

	if em.Enabled() {
		t.Error("expected Enabled to return false for nil manager")
	}
}

func TestEncryptionManager_DifferentKeysCannotDecrypt(t *testing.T) {
	emA := NewEncryptionManager("password-a")
	emB := NewEncryptionManager("password-b")

	ciphertext, err := emA.Encrypt("secret")
	if err != nil {
		t.Fatalf("failed to encrypt: %v", err)
	}

	if _, err := emB.Decrypt(ciphertext); err == nil {
		t.Error("expected decryption with a different key to fail")
	}
}

func TestEncryptionManager_EmptyPlaintextPassthrough(t *testing.T) {
	em := NewEncryptionManager("test-password-123")

	ciphertext, err := em.Encrypt("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ciphertext != "" {
		t.Errorf("expected empty string to pass through unchanged, got %q", ciphertext)
	}
}
