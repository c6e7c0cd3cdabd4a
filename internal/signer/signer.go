/**
 * @description
 * This file contains the core cryptographic logic for the remote signing service.
 * It signs canonical proof documents on behalf of custodial users.
 *
 * Key features:
 * - EIP-191 Signing: `SignPersonal` produces a `personal_sign` signature over raw bytes,
 *   which the ledger's default scheme expects over keccak256(canonical document).
 * - EIP-712 Signing: `SignTypedData` signs the typed-data digest of a canonical document.
 * - Go-Ethereum Integration: Leverages `go-ethereum` for all cryptographic operations.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/crypto: For key management and signing.
 */

package signer

import (
	"crypto/ecdsa"
	"errors"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/daosign/proofs/internal/eip712"
	"github.com/daosign/proofs/internal/verify"
)

var (
	ErrInvalidKey     = errors.New("invalid private key format")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Signer is responsible for cryptographic operations.
type Signer struct {
	logger *slog.Logger
}

// NewSigner creates a new instance of the Signer.
func NewSigner(logger *slog.Logger) *Signer {
	return &Signer{
		logger: logger,
	}
}

// ParsePrivateKey parses a hex private key. The "0x" prefix is optional.
func ParsePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// AddressOf returns the Ethereum address controlled by a hex private key.
func AddressOf(privateKeyHex string) (common.Address, error) {
	key, err := ParsePrivateKey(privateKeyHex)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

/**
 * @description
 * SignPersonal signs message with the EIP-191 "Ethereum Signed Message" prefix.
 *
 * @param privateKeyHex The hexadecimal string representation of the ECDSA private key.
 * @param message The raw bytes to sign.
 * @returns The 65-byte signature (V in {27, 28}) as a 0x-prefixed hex string.
 */
func (s *Signer) SignPersonal(privateKeyHex string, message []byte) (string, error) {
	key, err := ParsePrivateKey(privateKeyHex)
	if err != nil {
		s.logger.Error("failed to parse private key from hex", "error", err)
		return "", err
	}
	return s.sign(key, verify.PersonalDigest(message), "personal")
}

/**
 * @description
 * SignTypedData signs the EIP-712 digest of a typed-data document.
 *
 * @param privateKeyHex The hexadecimal string representation of the ECDSA private key.
 * @param payloadJSON A typed-data document (`types`, `domain`, `primaryType`, `message`).
 * @returns The signature as a 0x-prefixed hex string.
 */
func (s *Signer) SignTypedData(privateKeyHex string, payloadJSON string) (string, error) {
	key, err := ParsePrivateKey(privateKeyHex)
	if err != nil {
		s.logger.Error("failed to parse private key from hex", "error", err)
		return "", err
	}

	digest, err := eip712.HashDocument([]byte(payloadJSON))
	if err != nil {
		s.logger.Error("failed to hash EIP-712 payload", "error", err)
		return "", errors.Join(ErrInvalidPayload, err)
	}
	s.logger.Debug("generated EIP-712 signing digest", "digest_hex", hexutil.Encode(digest))

	return s.sign(key, digest, "typed")
}

func (s *Signer) sign(key *ecdsa.PrivateKey, digest []byte, scheme string) (string, error) {
	signatureBytes, err := crypto.Sign(digest, key)
	if err != nil {
		s.logger.Error("failed to sign the digest", "error", err)
		return "", errors.New("failed to sign the digest")
	}
	if len(signatureBytes) != verify.SignatureLength {
		return "", errors.New("signature generated with incorrect length")
	}
	// crypto.Sign returns V as 0 or 1; wallets emit 27 or 28.
	signatureBytes[64] += 27

	signatureHex := hexutil.Encode(signatureBytes)
	s.logger.Info("successfully signed payload", "scheme", scheme, "signer", crypto.PubkeyToAddress(key.PublicKey).Hex())
	return signatureHex, nil
}
