package config

import (
	"os"
	"testing"
)

func TestSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secrets := map[string]string{
		SecretOpenAIKey:   "sk-test",
		SecretJWTSecret:   "jwt-secret",
		SecretDatabaseURL: "postgres://localhost/guidekit",
	}

	if err := EncryptSecretsFile(dir, "correct horse", secrets); err != nil {
		t.Fatalf("EncryptSecretsFile failed: %v", err)
	}
	if !SecretsFileExists(dir) {
		t.Fatal("Expected secrets file to exist")
	}

	info, err := os.Stat(SecretsFilePath(dir))
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %04o", info.Mode().Perm())
	}

	got, err := DecryptSecretsFile(dir, "correct horse")
	if err != nil {
		t.Fatalf("DecryptSecretsFile failed: %v", err)
	}
	for k, v := range secrets {
		if got[k] != v {
			t.Errorf("Secret %s: expected %q, got %q", k, v, got[k])
		}
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	dir := t.TempDir()
	if err := EncryptSecretsFile(dir, "right", map[string]string{"A": "1"}); err != nil {
		t.Fatalf("EncryptSecretsFile failed: %v", err)
	}
	if _, err := DecryptSecretsFile(dir, "wrong"); err == nil {
		t.Error("Expected error for wrong password")
	}
}

func TestDecryptCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	if err := EncryptSecretsFile(dir, "pw", map[string]string{}); err != nil {
		t.Fatalf("EncryptSecretsFile failed: %v", err)
	}
	if err := os.WriteFile(SecretsFilePath(dir), []byte("short"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := DecryptSecretsFile(dir, "pw"); err == nil {
		t.Error("Expected error for corrupted file")
	}
}

func TestGetSecretPrecedence(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })
	t.Setenv("GUIDEKIT_TEST_SECRET", "from-env")

	SetDecryptedSecrets(nil)
	if v, err := GetSecret("GUIDEKIT_TEST_SECRET"); err != nil || v != "from-env" {
		t.Errorf("Expected env value, got %q (%v)", v, err)
	}

	SetSecret("GUIDEKIT_TEST_SECRET", "from-file")
	if v, _ := GetSecret("GUIDEKIT_TEST_SECRET"); v != "from-file" {
		t.Errorf("Expected secrets file to win, got %q", v)
	}

	DeleteSecret("GUIDEKIT_TEST_SECRET")
	if v, _ := GetSecret("GUIDEKIT_TEST_SECRET"); v != "from-env" {
		t.Errorf("Expected env fallback after delete, got %q", v)
	}

	if _, err := GetSecret("GUIDEKIT_TEST_MISSING_SECRET"); err == nil {
		t.Error("Expected error for missing secret")
	}
}

func TestSaveSecretsToFileAndNames(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })
	dir := t.TempDir()

	SetDecryptedSecrets(nil)
	SetSecret("B_KEY", "b")
	SetSecret("A_KEY", "a")

	names := SecretNames()
	if len(names) != 2 || names[0] != "A_KEY" || names[1] != "B_KEY" {
		t.Errorf("Expected sorted names [A_KEY B_KEY], got %v", names)
	}

	if err := SaveSecretsToFile(dir, "pw"); err != nil {
		t.Fatalf("SaveSecretsToFile failed: %v", err)
	}
	got, err := DecryptSecretsFile(dir, "pw")
	if err != nil {
		t.Fatalf("DecryptSecretsFile failed: %v", err)
	}
	if got["A_KEY"] != "a" || got["B_KEY"] != "b" {
		t.Errorf("Unexpected decrypted secrets: %v", got)
	}
}
