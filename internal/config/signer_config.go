package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// SignerConfig holds all configuration for the remote-signer service.
type SignerConfig struct {
	Port string
	// SignerKeys lists custodial keys as "userID=0xkey,userID=0xkey".
	SignerKeys string
	// DummyPrivateKey, when set, signs for every user without an entry in SignerKeys.
	// Development only.
	DummyPrivateKey string
}

/**
 * @description
 * LoadSignerConfig reads the remote-signer configuration from environment variables
 * and/or a .env.local file.
 *
 * @param path The path to the directory containing the .env.local file.
 * @returns An error if neither SIGNER_KEYS nor DUMMY_PRIVATE_KEY is set.
 */
func LoadSignerConfig(path string) (config SignerConfig, err error) {
	// Variables might be set directly in the environment, so a missing file is fine.
	_ = godotenv.Load(filepath.Join(path, ".env.local"))

	config.Port = getenv("PORT", "8081")
	config.SignerKeys = os.Getenv("SIGNER_KEYS")
	config.DummyPrivateKey = os.Getenv("DUMMY_PRIVATE_KEY")

	if config.SignerKeys == "" && config.DummyPrivateKey == "" {
		return SignerConfig{}, errors.New("neither SIGNER_KEYS nor DUMMY_PRIVATE_KEY is set")
	}
	return
}
