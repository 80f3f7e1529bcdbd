// Package config loads service settings from the environment and sub-account
// definitions from a YAML accounts file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"trade-relay/pkg/crypto"
)

// Config holds environment-driven settings for the relay.
type Config struct {
	ListenHost string
	Port       string
	DebugMode  bool

	// Shared webhook secret; JSON signals must carry it as apiSec.
	APISecret string
	// Source addresses allowed to hit the webhook.
	IPAllowList []string
	// Marker tokens that identify a pattern alert payload.
	PatternMarkers []string

	// Trading policy
	SingleReset    bool    // close position whenever side/position changes
	MinOrderAmount float64 // create-order floor, contracts

	// Exchange
	BybitTestnet   bool
	GatewayTimeout time.Duration // per-call budget for exchange requests

	// Accounts file
	AccountsPath string

	// Journal
	JournalPath string

	// Notification
	TelegramToken  string
	TelegramChatID int64

	// Status API
	JWTSecret string
}

// AccountConfig is one sub-account entry from the accounts file. Credentials
// may be stored either in plaintext or framed as ENC[v1]: ciphertext.
type AccountConfig struct {
	Name          string  `yaml:"name"`
	APIKey        string  `yaml:"api_key"`
	APISecret     string  `yaml:"api_secret"`
	DefaultSymbol string  `yaml:"default_symbol"`
	DefaultAmount float64 `yaml:"default_amount"`
}

type accountsFile struct {
	Accounts []AccountConfig `yaml:"accounts"`
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		ListenHost:     getEnv("LISTEN_HOST", "0.0.0.0"),
		Port:           getEnv("PORT", "8080"),
		DebugMode:      getEnvBool("DEBUG_MODE", false),
		APISecret:      os.Getenv("API_SECRET"),
		IPAllowList:    splitAndTrim(getEnv("IP_ALLOW_LIST", "127.0.0.1")),
		PatternMarkers: splitAndTrim(getEnv("PATTERN_MARKERS", "左側拐點")),
		SingleReset:    getEnvBool("SINGLE_RESET", true),
		MinOrderAmount: getEnvFloat("MIN_ORDER_AMOUNT", 0.001),
		BybitTestnet:   getEnvBool("BYBIT_TESTNET", false),
		GatewayTimeout: time.Duration(getEnvInt("GATEWAY_TIMEOUT_SECONDS", 10)) * time.Second,
		AccountsPath:   getEnv("ACCOUNTS_PATH", "./accounts.yaml"),
		JournalPath:    getEnv("JOURNAL_PATH", "./data/signals.db"),
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: int64(getEnvInt("TELEGRAM_CHAT_ID", 0)),
		JWTSecret:      getEnv("JWT_SECRET", "dev-secret"),
	}
	if cfg.APISecret == "" {
		return nil, fmt.Errorf("API_SECRET is required")
	}
	return cfg, nil
}

// LoadAccounts parses the accounts file and decrypts any framed credentials.
// The encryptor may be nil when every credential is stored in plaintext.
func LoadAccounts(path string, enc *crypto.Encryptor) ([]AccountConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}

	var file accountsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}
	if len(file.Accounts) == 0 {
		return nil, fmt.Errorf("accounts file %s defines no accounts", path)
	}

	for i := range file.Accounts {
		a := &file.Accounts[i]
		if a.Name == "" {
			return nil, fmt.Errorf("account %d: name is required", i)
		}
		if a.DefaultSymbol == "" {
			return nil, fmt.Errorf("account %s: default_symbol is required", a.Name)
		}
		if a.APIKey, err = maybeDecrypt(a.APIKey, enc); err != nil {
			return nil, fmt.Errorf("account %s api_key: %w", a.Name, err)
		}
		if a.APISecret, err = maybeDecrypt(a.APISecret, enc); err != nil {
			return nil, fmt.Errorf("account %s api_secret: %w", a.Name, err)
		}
	}
	return file.Accounts, nil
}

func maybeDecrypt(value string, enc *crypto.Encryptor) (string, error) {
	if !crypto.IsEncrypted(value) {
		return value, nil
	}
	if enc == nil {
		return "", crypto.ErrKeyNotConfigured
	}
	return enc.Decrypt(value)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true"
	}
	return def
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
