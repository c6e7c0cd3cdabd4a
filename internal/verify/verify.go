/**
 * @description
 * This file implements signature recovery and verification for proof documents.
 *
 * Key features:
 * - Personal messages: EIP-191 recovery over a digest, the scheme wallets use for
 *   `personal_sign`. This is how canonical proof documents are signed by default.
 * - Typed data: EIP-712 recovery over the digest of a canonical document.
 * - Fetch authorization: digests of the abi.encodePacked request fields a caller signs
 *   before proof data is generated on their behalf.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/crypto: For key recovery and hashing.
 * - github.com/ethereum/go-ethereum/accounts: For the EIP-191 text hash.
 *
 * @notes
 * - Verification never compares signature bytes directly: the public key is recovered by
 *   the library and only the resulting addresses are compared.
 */

package verify

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/daosign/proofs/internal/eip712"
)

// ErrMalformedSignature is returned for signatures with an invalid length or recovery id.
var ErrMalformedSignature = errors.New("MalformedSignature")

// SignatureLength is the length of an [R || S || V] signature.
const SignatureLength = crypto.SignatureLength

// ParseSignature decodes a 0x-prefixed hex signature and checks its structure.
func ParseSignature(sigHex string) ([]byte, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if _, err := normalize(sig); err != nil {
		return nil, err
	}
	return sig, nil
}

// normalize returns a copy of sig with V in {0, 1}, accepting 27/28 as produced by wallets.
func normalize(sig []byte) ([]byte, error) {
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrMalformedSignature, len(sig), SignatureLength)
	}
	out := make([]byte, SignatureLength)
	copy(out, sig)
	if out[64] >= 27 {
		out[64] -= 27
	}
	if out[64] > 1 {
		return nil, fmt.Errorf("%w: invalid recovery id %d", ErrMalformedSignature, sig[64])
	}
	return out, nil
}

// Recover returns the address whose key produced sig over hash.
func Recover(hash, sig []byte) (common.Address, error) {
	normalized, err := normalize(sig)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// PersonalDigest returns the EIP-191 hash of data:
// keccak256("\x19Ethereum Signed Message:\n" + len(data) + data).
func PersonalDigest(data []byte) []byte {
	return accounts.TextHash(data)
}

/**
 * @description
 * VerifySignature checks that sig is an EIP-191 personal signature by expected over digest.
 *
 * @returns false on any recovery mismatch; ErrMalformedSignature only for structurally
 * invalid signatures.
 */
func VerifySignature(expected common.Address, digest, sig []byte) (bool, error) {
	return verifyHash(expected, PersonalDigest(digest), sig)
}

// VerifyTypedSignature hashes a canonical document with keccak256 and verifies sig as a
// personal signature over that hash.
func VerifyTypedSignature(signer common.Address, canonical, sig []byte) (bool, error) {
	return VerifySignature(signer, crypto.Keccak256(canonical), sig)
}

// VerifyTypedDataSignature verifies sig as an eth_signTypedData_v4 signature over the
// EIP-712 digest of a canonical document.
func VerifyTypedDataSignature(signer common.Address, canonical, sig []byte) (bool, error) {
	if _, err := normalize(sig); err != nil {
		return false, err
	}
	digest, err := eip712.HashDocument(canonical)
	if err != nil {
		return false, err
	}
	return verifyHash(signer, digest, sig)
}

func verifyHash(expected common.Address, hash, sig []byte) (bool, error) {
	if _, err := normalize(sig); err != nil {
		return false, err
	}
	recovered, err := Recover(hash, sig)
	if err != nil {
		return false, nil
	}
	return recovered == expected, nil
}

// PackedAuthorityDigest is keccak256(abi.encodePacked(creator, signers, fileCID, version)),
// the value a creator signs to request Proof-of-Authority data.
func PackedAuthorityDigest(creator common.Address, signers []common.Address, fileCID, version string) []byte {
	packed := make([]byte, 0, 20+32*len(signers)+len(fileCID)+len(version))
	packed = append(packed, creator.Bytes()...)
	for _, s := range signers {
		// Array elements are padded to 32 bytes in packed mode.
		packed = append(packed, common.LeftPadBytes(s.Bytes(), 32)...)
	}
	packed = append(packed, fileCID...)
	packed = append(packed, version...)
	return crypto.Keccak256(packed)
}

// PackedSignatureDigest is keccak256(abi.encodePacked(signer, fileCID, authorityProofCID,
// version)), the value a signer signs to request Proof-of-Signature data.
func PackedSignatureDigest(signer common.Address, fileCID, authorityProofCID, version string) []byte {
	packed := make([]byte, 0, 20+len(fileCID)+len(authorityProofCID)+len(version))
	packed = append(packed, signer.Bytes()...)
	packed = append(packed, fileCID...)
	packed = append(packed, authorityProofCID...)
	packed = append(packed, version...)
	return crypto.Keccak256(packed)
}
