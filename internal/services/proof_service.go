/**
 * @description
 * This service encapsulates the custodial proof flow: users whose keys are held by the
 * isolated remote-signer service submit proofs without signing locally.
 *
 * Key features:
 * - Document Construction: derives the canonical proof document through the ledger's
 *   proof data cache, so the signed bytes are exactly the bytes the ledger re-derives.
 *   When the cache demands fetch signatures, the custodial key signs the request too.
 * - Secure Signing Flow: coordinates with the `SignerClient` to get a signature from
 *   the remote-signer service under the ledger's configured scheme.
 * - Abstraction: hides the derive, sign and store sequence from the API handlers.
 *
 * @dependencies
 * - log/slog: For structured logging.
 * - github.com/ethereum/go-ethereum/crypto: keccak256 for the personal scheme.
 */

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/daosign/proofs/internal/ledger"
	"github.com/daosign/proofs/internal/proofdata"
	"github.com/daosign/proofs/internal/verify"
)

// ErrSignerUnavailable is returned when no remote signer is configured.
var ErrSignerUnavailable = errors.New("remote signer is not configured")

// SignAuthorityParams are the inputs of a custodial Proof-of-Authority.
type SignAuthorityParams struct {
	// UserID selects the custodial key in the remote signer.
	UserID   string
	Creator  common.Address
	Signers  []proofdata.Signer
	FileCID  string
	ProofID  string
	Version  string
	Metadata string
}

// SignSignatureParams are the inputs of a custodial Proof-of-Signature.
type SignSignatureParams struct {
	UserID           string
	Signer           common.Address
	FileCID          string
	ProofID          string
	AuthorityProofID string
	Version          string
	Metadata         string
}

// ProofService signs proofs with custodial keys and stores them in the ledger.
type ProofService struct {
	ledger       *ledger.Ledger
	signerClient SignerClient
	logger       *slog.Logger
	now          func() time.Time
}

// NewProofService creates a new instance of the ProofService. signerClient may be nil,
// in which case every custodial call fails with ErrSignerUnavailable.
func NewProofService(l *ledger.Ledger, signerClient SignerClient, logger *slog.Logger) *ProofService {
	return &ProofService{
		ledger:       l,
		signerClient: signerClient,
		logger:       logger,
		now:          time.Now,
	}
}

/**
 * @description
 * SignAndStoreAuthority derives the Proof-of-Authority document, has the remote signer
 * sign it for the creator and stores the result.
 *
 * @param caller The authenticated caller; the ledger's access policy applies to it.
 * @returns The stored proof, or an error from the cache, the signer or the ledger.
 */
func (s *ProofService) SignAndStoreAuthority(ctx context.Context, caller common.Address, p SignAuthorityParams) (ledger.Proof, error) {
	if s.signerClient == nil {
		return ledger.Proof{}, ErrSignerUnavailable
	}
	s.logger.Info("signing proof of authority", "user_id", p.UserID, "file_cid", p.FileCID, "proof_id", p.ProofID)

	// 1. Derive (or fetch the cached) canonical document.
	fetchSig, err := s.fetchSignature(ctx, p.UserID, func() []byte {
		return verify.PackedAuthorityDigest(p.Creator, proofdata.Addresses(p.Signers), p.FileCID, p.Version)
	})
	if err != nil {
		return ledger.Proof{}, err
	}
	doc, err := s.ledger.Cache().DeriveAuthorityMessage(ctx, proofdata.AuthorityRequest{
		Creator:        p.Creator,
		Signers:        p.Signers,
		FileCID:        p.FileCID,
		Version:        p.Version,
		Metadata:       p.Metadata,
		FetchSignature: fetchSig,
	}, s.now())
	if err != nil {
		s.logger.Warn("failed to derive authority document", "error", err, "file_cid", p.FileCID)
		return ledger.Proof{}, err
	}

	// 2. Request the signature from the remote signer service.
	sig, err := s.sign(ctx, p.UserID, doc)
	if err != nil {
		return ledger.Proof{}, err
	}

	// 3. Store the signed proof.
	return s.ledger.StoreAuthority(ctx, caller, ledger.AuthorityInput{
		Creator:   p.Creator,
		Signers:   p.Signers,
		Version:   p.Version,
		Signature: sig,
		FileCID:   p.FileCID,
		ProofID:   p.ProofID,
		Metadata:  p.Metadata,
	})
}

// SignAndStoreSignature is SignAndStoreAuthority for a Proof-of-Signature.
func (s *ProofService) SignAndStoreSignature(ctx context.Context, caller common.Address, p SignSignatureParams) (ledger.Proof, error) {
	if s.signerClient == nil {
		return ledger.Proof{}, ErrSignerUnavailable
	}
	s.logger.Info("signing proof of signature", "user_id", p.UserID, "file_cid", p.FileCID, "proof_id", p.ProofID)

	fetchSig, err := s.fetchSignature(ctx, p.UserID, func() []byte {
		return verify.PackedSignatureDigest(p.Signer, p.FileCID, p.AuthorityProofID, p.Version)
	})
	if err != nil {
		return ledger.Proof{}, err
	}
	doc, err := s.ledger.Cache().DeriveSignatureMessage(ctx, proofdata.SignatureRequest{
		Signer:            p.Signer,
		FileCID:           p.FileCID,
		AuthorityProofCID: p.AuthorityProofID,
		Version:           p.Version,
		Metadata:          p.Metadata,
		FetchSignature:    fetchSig,
	}, s.now())
	if err != nil {
		s.logger.Warn("failed to derive signature document", "error", err, "file_cid", p.FileCID)
		return ledger.Proof{}, err
	}

	sig, err := s.sign(ctx, p.UserID, doc)
	if err != nil {
		return ledger.Proof{}, err
	}

	return s.ledger.StoreSignature(ctx, caller, ledger.SignatureInput{
		Signer:           p.Signer,
		Signature:        sig,
		FileCID:          p.FileCID,
		ProofID:          p.ProofID,
		AuthorityProofID: p.AuthorityProofID,
		Version:          p.Version,
		Metadata:         p.Metadata,
	})
}

// fetchSignature signs the packed request digest with the user's key when the cache
// requires it, and returns nil otherwise.
func (s *ProofService) fetchSignature(ctx context.Context, userID string, digest func() []byte) ([]byte, error) {
	if !s.ledger.Cache().RequiresFetchSignature() {
		return nil, nil
	}
	sig, err := s.signerClient.SignPersonal(ctx, userID, digest())
	if err != nil {
		s.logger.Error("failed to get fetch signature from remote signer", "error", err, "user_id", userID)
		return nil, fmt.Errorf("remote signer: %w", err)
	}
	return sig, nil
}

func (s *ProofService) sign(ctx context.Context, userID string, doc []byte) ([]byte, error) {
	var (
		sig []byte
		err error
	)
	switch s.ledger.Scheme() {
	case ledger.SchemeTyped:
		sig, err = s.signerClient.SignTypedData(ctx, userID, string(doc))
	default:
		sig, err = s.signerClient.SignPersonal(ctx, userID, crypto.Keccak256(doc))
	}
	if err != nil {
		s.logger.Error("failed to get signature from remote signer", "error", err, "user_id", userID)
		return nil, fmt.Errorf("remote signer: %w", err)
	}
	return sig, nil
}
