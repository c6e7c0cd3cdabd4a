/**
 * @description
 * This file implements the proof ledger: the state machine that stores finalized
 * Proof-of-Authority, Proof-of-Signature and Proof-of-Agreement records per document and
 * emits an event for every successful store.
 *
 * Key features:
 * - Ordering: a Signature needs a stored Authority listing its signer; an Agreement needs
 *   Signature proofs whose signers are exactly the Authority's signers.
 * - Verification: the canonical document is re-derived through the proof data cache and the
 *   submitted signature must recover to the creator or signer.
 * - Atomicity: every store runs under one mutex and inside one store transaction, so a
 *   failed submission leaves no proof, index or cache write behind.
 * - Access control: an injected policy decides who may submit each proof.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/common: Addresses and hex encoding.
 * - log/slog: For structured logging.
 */

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/daosign/proofs/internal/canon"
	"github.com/daosign/proofs/internal/cidutil"
	"github.com/daosign/proofs/internal/events"
	"github.com/daosign/proofs/internal/policy"
	"github.com/daosign/proofs/internal/proofdata"
	"github.com/daosign/proofs/internal/schema"
	"github.com/daosign/proofs/internal/store"
	"github.com/daosign/proofs/internal/verify"
)

var (
	ErrEmptyProofID     = errors.New("EmptyProofID")
	ErrEmptyFileCID     = errors.New("EmptyFileCID")
	ErrAlreadyStored    = errors.New("AlreadyStored")
	ErrNotFound         = store.ErrNotFound
	ErrInvalidSigner    = errors.New("InvalidSigner")
	ErrInvalidInputData = errors.New("Invalid input data")
	ErrInvalidSignature = proofdata.ErrInvalidSignature
	ErrCallerNotOwner   = policy.ErrCallerNotOwner
	// ErrProofDataMismatch means the submission differs from the fields the cached
	// document was derived from.
	ErrProofDataMismatch = proofdata.ErrProofDataMismatch
)

// SignatureScheme selects how Authority and Signature proofs are signed.
type SignatureScheme string

const (
	// SchemePersonal is an EIP-191 personal signature over keccak256(canonical document).
	SchemePersonal SignatureScheme = "personal"
	// SchemeTyped is an EIP-712 signature over the canonical document as typed data.
	SchemeTyped SignatureScheme = "typed"
)

// ParseScheme maps a configuration value to a SignatureScheme.
func ParseScheme(s string) (SignatureScheme, error) {
	switch SignatureScheme(strings.ToLower(s)) {
	case "", SchemePersonal:
		return SchemePersonal, nil
	case SchemeTyped:
		return SchemeTyped, nil
	default:
		return "", fmt.Errorf("unknown signature scheme %q", s)
	}
}

// Options tune a Ledger.
type Options struct {
	Scheme SignatureScheme
	// StrictCIDs requires file and proof identifiers to parse as CIDs.
	StrictCIDs bool
	// RequireFetchSignature is passed to the proof data cache.
	RequireFetchSignature bool
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// AuthorityInput is a Proof-of-Authority submission.
type AuthorityInput struct {
	Creator   common.Address
	Signers   []proofdata.Signer
	Version   string
	Signature []byte
	FileCID   string
	ProofID   string
	Metadata  string
}

// SignatureInput is a Proof-of-Signature submission.
type SignatureInput struct {
	Signer           common.Address
	Signature        []byte
	FileCID          string
	ProofID          string
	AuthorityProofID string
	Version          string
	Metadata         string
}

// AgreementInput is a Proof-of-Agreement submission.
type AgreementInput struct {
	FileCID           string
	AuthorityProofID  string
	SignatureProofIDs []string
	ProofID           string
	Metadata          string
}

// Ledger is the proof ledger.
type Ledger struct {
	mu         sync.Mutex
	store      store.Store
	registry   *schema.Registry
	cache      *proofdata.Cache
	policy     policy.Policy
	events     events.Sink
	logger     *slog.Logger
	scheme     SignatureScheme
	strictCIDs bool
	now        func() time.Time
}

// New creates a ledger on st. The proof data cache it creates shares the ledger's lock.
func New(st store.Store, registry *schema.Registry, pol policy.Policy, sink events.Sink, logger *slog.Logger, opts Options) *Ledger {
	if sink == nil {
		sink = events.Discard
	}
	if opts.Scheme == "" {
		opts.Scheme = SchemePersonal
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	l := &Ledger{
		store:      st,
		registry:   registry,
		policy:     pol,
		events:     sink,
		logger:     logger,
		scheme:     opts.Scheme,
		strictCIDs: opts.StrictCIDs,
		now:        opts.Clock,
	}
	l.cache = proofdata.NewCache(proofdata.Config{
		Store:                 st,
		Registry:              registry,
		Index:                 index{},
		Logger:                logger,
		RequireFetchSignature: opts.RequireFetchSignature,
		Lock:                  &l.mu,
	})
	return l
}

// Cache returns the proof data cache bound to this ledger.
func (l *Ledger) Cache() *proofdata.Cache {
	return l.cache
}

// Scheme returns the configured signature scheme.
func (l *Ledger) Scheme() SignatureScheme {
	return l.scheme
}

func (l *Ledger) checkIdentifiers(fileCID, proofID string, refs ...string) error {
	if proofID == "" {
		return ErrEmptyProofID
	}
	if fileCID == "" {
		return ErrEmptyFileCID
	}
	for _, id := range append([]string{fileCID, proofID}, refs...) {
		if err := cidutil.CheckIdentifier(id); err != nil {
			return err
		}
		if !l.strictCIDs {
			continue
		}
		if err := cidutil.Validate(id); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) verifySigned(actor common.Address, doc, sig []byte) error {
	var (
		ok  bool
		err error
	)
	switch l.scheme {
	case SchemeTyped:
		ok, err = verify.VerifyTypedDataSignature(actor, doc, sig)
	default:
		ok, err = verify.VerifyTypedSignature(actor, doc, sig)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

// signedProof is the stored form of Authority and Signature proofs.
type signedProof struct {
	Address string          `json:"address"`
	Sig     string          `json:"sig"`
	Data    json.RawMessage `json:"data"`
}

func wrapSigned(actor common.Address, sig, doc []byte) (string, error) {
	out, err := canon.Encode(signedProof{
		Address: proofdata.AddressString(actor),
		Sig:     hexutil.Encode(sig),
		Data:    json.RawMessage(doc),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func ensureAbsent(ctx context.Context, rd store.Reader, fileCID, proofID string) error {
	ok, err := store.Exists(ctx, rd, store.BucketProofs, proofKey(fileCID, proofID))
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s/%s", ErrAlreadyStored, fileCID, proofID)
	}
	return nil
}

/**
 * @description
 * StoreAuthority verifies and persists a Proof-of-Authority.
 *
 * @param caller The authenticated submitter, checked against the access policy.
 * @returns The stored proof, or ErrEmptyProofID, ErrEmptyFileCID, ErrCallerNotOwner,
 * ErrAlreadyStored, ErrInvalidSignature, ErrProofDataMismatch when the fields differ from
 * the document derived earlier for the creator, or a proof data validation error.
 */
func (l *Ledger) StoreAuthority(ctx context.Context, caller common.Address, in AuthorityInput) (Proof, error) {
	if err := l.checkIdentifiers(in.FileCID, in.ProofID); err != nil {
		return Proof{}, err
	}
	if err := l.policy.Authorize(ctx, policy.Request{
		Caller:    caller,
		Operation: policy.OpStoreAuthority,
		Actor:     in.Creator,
		FileCID:   in.FileCID,
	}); err != nil {
		l.logger.Warn("authority submission not authorized", "caller", caller.Hex(), "creator", in.Creator.Hex())
		return Proof{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var stored Proof
	err := l.store.Update(ctx, func(tx store.Tx) error {
		if err := ensureAbsent(ctx, tx, in.FileCID, in.ProofID); err != nil {
			return err
		}

		doc, err := l.cache.DeriveAuthorityMessageTx(ctx, tx, proofdata.AuthorityRequest{
			Creator:  in.Creator,
			Signers:  in.Signers,
			FileCID:  in.FileCID,
			Version:  in.Version,
			Metadata: in.Metadata,
		}, l.now())
		if err != nil {
			return err
		}
		if err := l.verifySigned(in.Creator, doc, in.Signature); err != nil {
			return err
		}

		data, err := wrapSigned(in.Creator, in.Signature, doc)
		if err != nil {
			return err
		}
		signers := make([]string, len(in.Signers))
		for i, s := range in.Signers {
			signers[i] = proofdata.AddressString(s.Address)
		}
		stored = Proof{
			Kind:          schema.KindAuthority,
			FileCID:       in.FileCID,
			ProofID:       in.ProofID,
			SignerAddress: proofdata.AddressString(in.Creator),
			Signature:     hexutil.Encode(in.Signature),
			Signers:       signers,
			Message:       string(doc),
			Data:          data,
			StoredAt:      l.now().UTC(),
		}
		if err := putProof(ctx, tx, stored); err != nil {
			return err
		}

		state, err := loadDocument(ctx, tx, in.FileCID)
		if err != nil {
			return err
		}
		state.Authorities = append(state.Authorities, in.ProofID)
		return putDocument(ctx, tx, state)
	})
	if err != nil {
		l.logger.Warn("authority not stored", "file_cid", in.FileCID, "proof_id", in.ProofID, "error", err)
		return Proof{}, err
	}

	l.logger.Info("proof of authority stored", "file_cid", in.FileCID, "proof_id", in.ProofID, "creator", stored.SignerAddress)
	l.emit(ctx, events.AuthorityStored, stored)
	return stored, nil
}

/**
 * @description
 * StoreSignature verifies and persists a Proof-of-Signature referencing a stored Authority.
 *
 * @returns The stored proof, or ErrNotFound when the Authority is missing, ErrInvalidSigner
 * when the signer is not listed by it, plus the errors of StoreAuthority.
 */
func (l *Ledger) StoreSignature(ctx context.Context, caller common.Address, in SignatureInput) (Proof, error) {
	if err := l.checkIdentifiers(in.FileCID, in.ProofID); err != nil {
		return Proof{}, err
	}
	if in.AuthorityProofID == "" {
		return Proof{}, proofdata.ErrNoAuthorityProof
	}
	if err := l.checkIdentifiers(in.FileCID, in.ProofID, in.AuthorityProofID); err != nil {
		return Proof{}, err
	}
	if err := l.policy.Authorize(ctx, policy.Request{
		Caller:    caller,
		Operation: policy.OpStoreSignature,
		Actor:     in.Signer,
		FileCID:   in.FileCID,
	}); err != nil {
		l.logger.Warn("signature submission not authorized", "caller", caller.Hex(), "signer", in.Signer.Hex())
		return Proof{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var stored Proof
	err := l.store.Update(ctx, func(tx store.Tx) error {
		if err := ensureAbsent(ctx, tx, in.FileCID, in.ProofID); err != nil {
			return err
		}

		authority, err := loadProof(ctx, tx, in.FileCID, in.AuthorityProofID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && authority.Kind != schema.KindAuthority) {
			return fmt.Errorf("%w: authority proof %s", ErrNotFound, in.AuthorityProofID)
		}
		if err != nil {
			return err
		}
		signer := proofdata.AddressString(in.Signer)
		if !contains(authority.Signers, signer) {
			return fmt.Errorf("%w: %s is not listed by %s", ErrInvalidSigner, signer, in.AuthorityProofID)
		}

		doc, err := l.cache.DeriveSignatureMessageTx(ctx, tx, proofdata.SignatureRequest{
			Signer:            in.Signer,
			FileCID:           in.FileCID,
			AuthorityProofCID: in.AuthorityProofID,
			Version:           in.Version,
			Metadata:          in.Metadata,
		}, l.now())
		if err != nil {
			return err
		}
		if err := l.verifySigned(in.Signer, doc, in.Signature); err != nil {
			return err
		}

		data, err := wrapSigned(in.Signer, in.Signature, doc)
		if err != nil {
			return err
		}
		stored = Proof{
			Kind:             schema.KindSignature,
			FileCID:          in.FileCID,
			ProofID:          in.ProofID,
			SignerAddress:    signer,
			Signature:        hexutil.Encode(in.Signature),
			AuthorityProofID: in.AuthorityProofID,
			Message:          string(doc),
			Data:             data,
			StoredAt:         l.now().UTC(),
		}
		if err := putProof(ctx, tx, stored); err != nil {
			return err
		}

		state, err := loadDocument(ctx, tx, in.FileCID)
		if err != nil {
			return err
		}
		state.Signatures[in.AuthorityProofID] = append(state.Signatures[in.AuthorityProofID], in.ProofID)
		return putDocument(ctx, tx, state)
	})
	if err != nil {
		l.logger.Warn("signature not stored", "file_cid", in.FileCID, "proof_id", in.ProofID, "error", err)
		return Proof{}, err
	}

	l.logger.Info("proof of signature stored", "file_cid", in.FileCID, "proof_id", in.ProofID, "signer", stored.SignerAddress)
	l.emit(ctx, events.SignatureStored, stored)
	return stored, nil
}

/**
 * @description
 * StoreAgreement persists a Proof-of-Agreement aggregating an Authority and its Signature
 * proofs. No signature is checked: every aggregated proof already carries one.
 *
 * @returns The stored proof, or ErrInvalidInputData unless the Signature proofs reference
 * the Authority and their signers equal its signer list (order-insensitive).
 */
func (l *Ledger) StoreAgreement(ctx context.Context, caller common.Address, in AgreementInput) (Proof, error) {
	if in.FileCID == "" {
		return Proof{}, ErrEmptyFileCID
	}
	if err := l.checkIdentifiers(in.FileCID, in.ProofID, append([]string{in.AuthorityProofID}, in.SignatureProofIDs...)...); err != nil {
		return Proof{}, err
	}
	if err := l.policy.Authorize(ctx, policy.Request{
		Caller:    caller,
		Operation: policy.OpStoreAgreement,
		FileCID:   in.FileCID,
	}); err != nil {
		l.logger.Warn("agreement submission not authorized", "caller", caller.Hex())
		return Proof{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var stored Proof
	err := l.store.Update(ctx, func(tx store.Tx) error {
		if err := ensureAbsent(ctx, tx, in.FileCID, in.ProofID); err != nil {
			return err
		}

		authority, err := loadProof(ctx, tx, in.FileCID, in.AuthorityProofID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && authority.Kind != schema.KindAuthority) {
			return fmt.Errorf("%w: authority proof %s", ErrNotFound, in.AuthorityProofID)
		}
		if err != nil {
			return err
		}
		if err := l.checkSignatureSet(ctx, tx, in, authority); err != nil {
			return err
		}

		doc, err := l.cache.DeriveAgreementMessageTx(ctx, tx, proofdata.AgreementRequest{
			FileCID:            in.FileCID,
			AuthorityProofCID:  in.AuthorityProofID,
			SignatureProofCIDs: in.SignatureProofIDs,
			Metadata:           in.Metadata,
		}, l.now())
		if err != nil {
			return err
		}
		compact, err := canon.Compact(doc)
		if err != nil {
			return err
		}

		stored = Proof{
			Kind:              schema.KindAgreement,
			FileCID:           in.FileCID,
			ProofID:           in.ProofID,
			AuthorityProofID:  in.AuthorityProofID,
			SignatureProofIDs: append([]string(nil), in.SignatureProofIDs...),
			Message:           string(doc),
			Data:              string(compact),
			StoredAt:          l.now().UTC(),
		}
		if err := putProof(ctx, tx, stored); err != nil {
			return err
		}

		state, err := loadDocument(ctx, tx, in.FileCID)
		if err != nil {
			return err
		}
		state.Agreements = append(state.Agreements, in.ProofID)
		return putDocument(ctx, tx, state)
	})
	if err != nil {
		l.logger.Warn("agreement not stored", "file_cid", in.FileCID, "proof_id", in.ProofID, "error", err)
		return Proof{}, err
	}

	l.logger.Info("proof of agreement stored", "file_cid", in.FileCID, "proof_id", in.ProofID, "signatures", len(in.SignatureProofIDs))
	l.emit(ctx, events.AgreementStored, stored)
	return stored, nil
}

// checkSignatureSet requires one Signature proof per listed signer of the Authority.
func (l *Ledger) checkSignatureSet(ctx context.Context, rd store.Reader, in AgreementInput, authority Proof) error {
	if len(in.SignatureProofIDs) != len(authority.Signers) {
		return fmt.Errorf("%w: %d signature proofs for %d signers", ErrInvalidInputData, len(in.SignatureProofIDs), len(authority.Signers))
	}

	remaining := make(map[string]int, len(authority.Signers))
	for _, s := range authority.Signers {
		remaining[s]++
	}
	for _, id := range in.SignatureProofIDs {
		if id == "" {
			return proofdata.ErrNoSignatureProof
		}
		p, err := loadProof(ctx, rd, in.FileCID, id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: signature proof %s not found", ErrInvalidInputData, id)
		}
		if err != nil {
			return err
		}
		if p.Kind != schema.KindSignature || p.AuthorityProofID != in.AuthorityProofID {
			return fmt.Errorf("%w: %s is not a signature of %s", ErrInvalidInputData, id, in.AuthorityProofID)
		}
		if remaining[p.SignerAddress] == 0 {
			return fmt.Errorf("%w: unexpected signer %s", ErrInvalidInputData, p.SignerAddress)
		}
		remaining[p.SignerAddress]--
	}
	return nil
}

func (l *Ledger) emit(ctx context.Context, t events.Type, p Proof) {
	ev := events.New(t)
	ev.FileCID = p.FileCID
	ev.ProofID = p.ProofID
	ev.AuthorityProofID = p.AuthorityProofID
	ev.Actor = p.SignerAddress
	ev.Signature = p.Signature
	ev.Message = p.Data
	if err := l.events.Publish(ctx, ev); err != nil {
		l.logger.Error("failed to publish ledger event", "type", t, "file_cid", p.FileCID, "error", err)
	}
}

// GetProof returns the proof stored at (fileCID, proofID).
func (l *Ledger) GetProof(ctx context.Context, fileCID, proofID string) (Proof, error) {
	return loadProof(ctx, l.store, fileCID, proofID)
}

// GetProofData returns the cached canonical document for (fileCID, kind, actor).
func (l *Ledger) GetProofData(ctx context.Context, fileCID string, kind schema.Kind, actor common.Address) (proofdata.Entry, error) {
	return l.cache.Lookup(ctx, fileCID, kind, actor)
}

// DocumentState returns the proof index of a document; unknown documents are in
// StageNoAuthority.
func (l *Ledger) DocumentState(ctx context.Context, fileCID string) (DocumentState, error) {
	return loadDocument(ctx, l.store, fileCID)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
