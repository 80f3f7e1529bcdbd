package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"trade-relay/pkg/crypto"
)

func writeAccountsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write accounts file: %v", err)
	}
	return path
}

func TestLoadRequiresAPISecret(t *testing.T) {
	t.Setenv("API_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded without API_SECRET")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_SECRET", "hunter2")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MinOrderAmount != 0.001 {
		t.Fatalf("MinOrderAmount=%v, expected 0.001", cfg.MinOrderAmount)
	}
	if !cfg.SingleReset {
		t.Fatal("SingleReset should default to true")
	}
	if len(cfg.PatternMarkers) != 1 || cfg.PatternMarkers[0] != "左側拐點" {
		t.Fatalf("PatternMarkers=%v", cfg.PatternMarkers)
	}
	if len(cfg.IPAllowList) != 1 || cfg.IPAllowList[0] != "127.0.0.1" {
		t.Fatalf("IPAllowList=%v", cfg.IPAllowList)
	}
}

func TestLoadAccountsPlaintext(t *testing.T) {
	path := writeAccountsFile(t, `
accounts:
  - name: sub1
    api_key: key-1
    api_secret: sec-1
    default_symbol: ETHUSDT
    default_amount: 0.05
  - name: sub2
    api_key: key-2
    api_secret: sec-2
    default_symbol: BTCUSDT
    default_amount: 0.01
`)

	accounts, err := LoadAccounts(path, nil)
	if err != nil {
		t.Fatalf("LoadAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("got %d accounts, expected 2", len(accounts))
	}
	if accounts[0].Name != "sub1" || accounts[0].DefaultSymbol != "ETHUSDT" || accounts[0].DefaultAmount != 0.05 {
		t.Fatalf("accounts[0]=%+v", accounts[0])
	}
}

func TestLoadAccountsDecryptsCredentials(t *testing.T) {
	enc, err := crypto.NewEncryptor(bytes.Repeat([]byte{0x11}, crypto.KeySize))
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	sealed, err := enc.Encrypt("real-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	path := writeAccountsFile(t, `
accounts:
  - name: sub1
    api_key: key-1
    api_secret: `+sealed+`
    default_symbol: ETHUSDT
    default_amount: 0.05
`)

	accounts, err := LoadAccounts(path, enc)
	if err != nil {
		t.Fatalf("LoadAccounts: %v", err)
	}
	if accounts[0].APISecret != "real-secret" {
		t.Fatalf("APISecret=%q, expected decrypted value", accounts[0].APISecret)
	}

	// Encrypted value without a key configured must fail loudly.
	if _, err := LoadAccounts(path, nil); err == nil {
		t.Fatal("LoadAccounts succeeded without encryptor for sealed credential")
	}
}

func TestLoadAccountsValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", "accounts: []\n"},
		{"missing name", "accounts:\n  - api_key: k\n    api_secret: s\n    default_symbol: BTCUSDT\n"},
		{"missing symbol", "accounts:\n  - name: sub1\n    api_key: k\n    api_secret: s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeAccountsFile(t, tt.content)
			if _, err := LoadAccounts(path, nil); err == nil {
				t.Fatal("LoadAccounts succeeded, expected error")
			}
		})
	}
}
