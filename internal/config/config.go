/**
 * @description
 * This file is responsible for managing the proof service's configuration.
 * It loads environment variables from a .env file and the system environment,
 * making them available to the rest of the application in a structured format.
 *
 * Key features:
 * - Structured Config: Defines a `Config` struct to hold all configuration parameters.
 * - .env Loading: Uses the `godotenv` library to load variables from a `.env.local` file,
 *   which is ideal for local development.
 * - Validation: Rejects unknown backends, policies and malformed addresses at startup.
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the proof service.
// Values are read from environment variables or a .env file.
type Config struct {
	Port         string
	StoreBackend string
	DatabaseURL  string
	RedisURL     string
	// RedisPrefix namespaces the store's keys when the Redis backend is used.
	RedisPrefix string
	// OwnerAddress administers schemas and, under the "owner" policy, submits proofs.
	OwnerAddress common.Address
	// AccessPolicy is "owner", "self" or "rego".
	AccessPolicy     string
	AccessPolicyFile string
	// SignatureScheme is "personal" or "typed".
	SignatureScheme string
	StrictCIDs      bool
	// RequireFetchSignature makes proof data derivation demand the actor's signature over
	// the request fields. It defaults to true; turning it off lets anyone pin documents.
	RequireFetchSignature bool
	// JWTIssuerURL enables bearer-token authentication; empty leaves callers anonymous.
	JWTIssuerURL string
	// RemoteSignerAddress enables the custodial signing routes.
	RemoteSignerAddress string
	AllowedOrigins      []string
}

/**
 * @description
 * LoadConfig reads configuration from environment variables and/or a .env.local file
 * located in the specified path.
 *
 * @param path The path to the directory containing the .env.local file.
 * @returns A Config struct populated with the loaded values, or an error if a value is
 * missing or malformed.
 */
func LoadConfig(path string) (config Config, err error) {
	// Try .env.local first (for local development), then fall back to .env.
	// If neither exists the variables might be set in the environment directly.
	if err := godotenv.Load(filepath.Join(path, ".env.local")); err != nil {
		_ = godotenv.Load(filepath.Join(path, ".env"))
	}

	config.Port = getenv("PORT", "8080")
	config.StoreBackend = strings.ToLower(getenv("STORE_BACKEND", BackendMemory))
	config.DatabaseURL = os.Getenv("DATABASE_URL")
	config.RedisURL = os.Getenv("REDIS_URL")
	config.RedisPrefix = getenv("REDIS_PREFIX", "daosign")
	config.AccessPolicy = strings.ToLower(getenv("ACCESS_POLICY", "owner"))
	config.AccessPolicyFile = os.Getenv("ACCESS_POLICY_FILE")
	config.SignatureScheme = strings.ToLower(getenv("SIGNATURE_SCHEME", "personal"))
	config.JWTIssuerURL = os.Getenv("JWT_ISSUER_URL")
	config.RemoteSignerAddress = os.Getenv("REMOTE_SIGNER_ADDRESS")
	config.AllowedOrigins = splitList(os.Getenv("ALLOWED_ORIGINS"))

	if config.StrictCIDs, err = getbool("STRICT_CIDS", false); err != nil {
		return Config{}, err
	}
	if config.RequireFetchSignature, err = getbool("REQUIRE_FETCH_SIGNATURE", true); err != nil {
		return Config{}, err
	}

	owner := os.Getenv("OWNER_ADDRESS")
	if owner == "" {
		return Config{}, errors.New("OWNER_ADDRESS is not set")
	}
	if !common.IsHexAddress(owner) {
		return Config{}, fmt.Errorf("OWNER_ADDRESS %q is not an Ethereum address", owner)
	}
	config.OwnerAddress = common.HexToAddress(owner)
	// Anonymous callers act as the zero address, so a zero owner would hand them ownership.
	if config.OwnerAddress == (common.Address{}) {
		return Config{}, errors.New("OWNER_ADDRESS must not be the zero address")
	}

	switch config.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if config.RedisURL == "" {
			return Config{}, errors.New("REDIS_URL is not set")
		}
	case BackendPostgres:
		if config.DatabaseURL == "" {
			return Config{}, errors.New("DATABASE_URL is not set")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE_BACKEND %q", config.StoreBackend)
	}

	switch config.AccessPolicy {
	case "owner", "self", "rego":
	default:
		return Config{}, fmt.Errorf("unknown ACCESS_POLICY %q", config.AccessPolicy)
	}

	return
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getbool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
