// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateKeypair(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	if !strings.HasPrefix(keypair.PrivateKey.String(), "AGE-SECRET-KEY-1") {
		t.Error("private key missing AGE-SECRET-KEY-1 prefix")
	}
	if !strings.HasPrefix(keypair.PublicKey, "age1") {
		t.Errorf("PublicKey = %q, want prefix age1", keypair.PublicKey)
	}
}

func TestGenerateKeypair_Unique(t *testing.T) {
	keypair1, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair1.Close()
	keypair2, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair2.Close()

	if keypair1.PrivateKey.String() == keypair2.PrivateKey.String() {
		t.Error("two generated keypairs have identical private keys")
	}
	if keypair1.PublicKey == keypair2.PublicKey {
		t.Error("two generated keypairs have identical public keys")
	}
}

func TestSealUnseal_RoundTrip(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	plaintext := []byte("hunter2-api-token")
	sealedValue, err := Seal(plaintext, []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	if !IsSealed(sealedValue) {
		t.Errorf("Seal() output %q missing %q prefix", sealedValue, Prefix)
	}

	// The payload after the prefix should be valid base64.
	payload := strings.TrimPrefix(sealedValue, Prefix)
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		t.Errorf("sealed payload is not valid base64: %v", err)
	}

	unsealed, err := Unseal(sealedValue, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Unseal() error: %v", err)
	}
	defer unsealed.Close()
	if unsealed.String() != string(plaintext) {
		t.Errorf("Unseal() = %q, want %q", unsealed.String(), plaintext)
	}
}

func TestUnseal_MissingPrefix(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	_, err = Unseal("not-a-sealed-value", keypair.PrivateKey)
	if err == nil {
		t.Error("Unseal() without prefix should return error")
	}
}

func TestIsSealed(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"sealed:YWJj", true},
		{"sealed:", true},
		{"plain-value", false},
		{"", false},
		{"SEALED:YWJj", false},
	}
	for _, test := range tests {
		if got := IsSealed(test.value); got != test.want {
			t.Errorf("IsSealed(%q) = %v, want %v", test.value, got, test.want)
		}
	}
}

func TestEncryptDecrypt_MultipleRecipients(t *testing.T) {
	// Two keypairs: the runner's identity plus an operator escrow key.
	runner, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer runner.Close()
	operator, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer operator.Close()

	plaintext := "shared-deploy-token"
	ciphertext, err := Encrypt([]byte(plaintext), []string{runner.PublicKey, operator.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	// Both recipients should be able to decrypt independently.
	byRunner, err := Decrypt(ciphertext, runner.PrivateKey)
	if err != nil {
		t.Fatalf("Decrypt(runner) error: %v", err)
	}
	defer byRunner.Close()
	if byRunner.String() != plaintext {
		t.Errorf("Decrypt(runner) = %q, want %q", byRunner.String(), plaintext)
	}

	byOperator, err := Decrypt(ciphertext, operator.PrivateKey)
	if err != nil {
		t.Fatalf("Decrypt(operator) error: %v", err)
	}
	defer byOperator.Close()
	if byOperator.String() != plaintext {
		t.Errorf("Decrypt(operator) = %q, want %q", byOperator.String(), plaintext)
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()
	wrongKeypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer wrongKeypair.Close()

	ciphertext, err := Encrypt([]byte("secret data"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	// Decrypting with the wrong key should fail.
	if _, err := Decrypt(ciphertext, wrongKeypair.PrivateKey); err == nil {
		t.Error("Decrypt() with wrong key should return error")
	}
}

func TestEncrypt_NoRecipients(t *testing.T) {
	_, err := Encrypt([]byte("data"), nil)
	if err == nil {
		t.Error("Encrypt() with no recipients should return error")
	}
	if !strings.Contains(err.Error(), "at least one recipient") {
		t.Errorf("error = %v, want 'at least one recipient'", err)
	}
}

func TestEncrypt_InvalidRecipientKey(t *testing.T) {
	_, err := Encrypt([]byte("data"), []string{"not-a-valid-key"})
	if err == nil {
		t.Error("Encrypt() with invalid recipient key should return error")
	}
	if !strings.Contains(err.Error(), "parsing recipient key") {
		t.Errorf("error = %v, want 'parsing recipient key'", err)
	}
}

func TestDecrypt_InvalidBase64(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	_, err = Decrypt("not-valid-base64!!!", keypair.PrivateKey)
	if err == nil {
		t.Error("Decrypt() with invalid base64 should return error")
	}
	if !strings.Contains(err.Error(), "decoding base64") {
		t.Errorf("error = %v, want 'decoding base64'", err)
	}
}

func TestDecrypt_CorruptedCiphertext(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	// Valid base64 but not valid age ciphertext.
	corrupted := base64.StdEncoding.EncodeToString([]byte("this is not age ciphertext"))

	if _, err := Decrypt(corrupted, keypair.PrivateKey); err == nil {
		t.Error("Decrypt() with corrupted ciphertext should return error")
	}
}

func TestParsePublicKey(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	if err := ParsePublicKey(keypair.PublicKey); err != nil {
		t.Errorf("ParsePublicKey(valid) error: %v", err)
	}
	if err := ParsePublicKey("not-a-valid-key"); err == nil {
		t.Error("ParsePublicKey(invalid) should return error")
	}
	if err := ParsePublicKey(""); err == nil {
		t.Error("ParsePublicKey(empty) should return error")
	}
}

func TestWriteIdentityFile_LoadIdentity(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	path := filepath.Join(t.TempDir(), "identity.age")
	if err := WriteIdentityFile(path, keypair); err != nil {
		t.Fatalf("WriteIdentityFile() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat identity file: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("identity file mode = %o, want 600", got)
	}

	identity, err := LoadIdentity(path)
	if err != nil {
		t.Fatalf("LoadIdentity() error: %v", err)
	}
	defer identity.Close()

	// The loaded identity must decrypt values sealed to the keypair.
	sealedValue, err := Seal([]byte("round-trip"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	unsealed, err := Unseal(sealedValue, identity)
	if err != nil {
		t.Fatalf("Unseal() with loaded identity error: %v", err)
	}
	defer unsealed.Close()
	if unsealed.String() != "round-trip" {
		t.Errorf("Unseal() = %q, want %q", unsealed.String(), "round-trip")
	}
}

func TestWriteIdentityFile_RefusesOverwrite(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	path := filepath.Join(t.TempDir(), "identity.age")
	if err := WriteIdentityFile(path, keypair); err != nil {
		t.Fatalf("first WriteIdentityFile() error: %v", err)
	}
	if err := WriteIdentityFile(path, keypair); err == nil {
		t.Error("WriteIdentityFile() over existing file should return error")
	}
}

func TestLoadIdentity_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.age")
	if err := os.WriteFile(path, []byte("not an age key\n"), 0o600); err != nil {
		t.Fatalf("writing test file: %v", err)
	}
	if _, err := LoadIdentity(path); err == nil {
		t.Error("LoadIdentity() with garbage content should return error")
	}
}
