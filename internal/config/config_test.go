package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const ownerHex = "0x00000000000000000000000000000000000000A1"

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "STORE_BACKEND", "ACCESS_POLICY", "SIGNATURE_SCHEME", "STRICT_CIDS", "REQUIRE_FETCH_SIGNATURE"} {
		t.Setenv(k, "")
	}
	t.Setenv("OWNER_ADDRESS", ownerHex)
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8080" || cfg.StoreBackend != BackendMemory || cfg.AccessPolicy != "owner" || cfg.SignatureScheme != "personal" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.OwnerAddress != common.HexToAddress(ownerHex) {
		t.Fatalf("owner = %s", cfg.OwnerAddress.Hex())
	}
	if !cfg.RequireFetchSignature || cfg.StrictCIDs {
		t.Fatalf("RequireFetchSignature = %v, StrictCIDs = %v", cfg.RequireFetchSignature, cfg.StrictCIDs)
	}

	t.Setenv("REQUIRE_FETCH_SIGNATURE", "false")
	cfg, err = LoadConfig(t.TempDir())
	if err != nil || cfg.RequireFetchSignature {
		t.Fatalf("explicit opt-out: RequireFetchSignature = %v, %v", cfg.RequireFetchSignature, err)
	}
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	content := "OWNER_ADDRESS=" + ownerHex + "\nSTRICT_CIDS=true\nALLOWED_ORIGINS=http://a, http://b\n"
	if err := os.WriteFile(filepath.Join(dir, ".env.local"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv does not override variables that are already set; clear the ones under test.
	t.Setenv("OWNER_ADDRESS", "")
	os.Unsetenv("OWNER_ADDRESS")
	t.Setenv("STRICT_CIDS", "")
	os.Unsetenv("STRICT_CIDS")
	t.Setenv("ALLOWED_ORIGINS", "")
	os.Unsetenv("ALLOWED_ORIGINS")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.StrictCIDs || len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing owner", map[string]string{"OWNER_ADDRESS": ""}},
		{"bad owner", map[string]string{"OWNER_ADDRESS": "alice"}},
		{"zero owner", map[string]string{"OWNER_ADDRESS": "0x0000000000000000000000000000000000000000"}},
		{"zero owner short form", map[string]string{"OWNER_ADDRESS": "0x0"}},
		{"unknown backend", map[string]string{"STORE_BACKEND": "bolt"}},
		{"redis without url", map[string]string{"STORE_BACKEND": "redis", "REDIS_URL": ""}},
		{"postgres without url", map[string]string{"STORE_BACKEND": "postgres", "DATABASE_URL": ""}},
		{"unknown policy", map[string]string{"ACCESS_POLICY": "everyone"}},
		{"bad bool", map[string]string{"STRICT_CIDS": "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OWNER_ADDRESS", ownerHex)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(t.TempDir()); err == nil {
				t.Fatal("LoadConfig accepted invalid configuration")
			}
		})
	}
}

func TestLoadSignerConfig(t *testing.T) {
	t.Setenv("SIGNER_KEYS", "")
	t.Setenv("DUMMY_PRIVATE_KEY", "")
	if _, err := LoadSignerConfig(t.TempDir()); err == nil {
		t.Fatal("signer config without keys accepted")
	}

	t.Setenv("SIGNER_KEYS", "alice=0x01")
	cfg, err := LoadSignerConfig(t.TempDir())
	if err != nil || cfg.Port != "8081" || cfg.SignerKeys != "alice=0x01" {
		t.Fatalf("LoadSignerConfig = %+v, %v", cfg, err)
	}
}
