/**
 * @description
 * This file implements the proof data cache. Given the semantic fields of a proof it derives
 * the canonical document once per (document, kind, actor) and returns the stored bytes on
 * every later request, so the timestamp recorded on the first call stays stable while the
 * actor signs and submits.
 *
 * Key features:
 * - Write-once entries: the first derivation for a key is persisted and later calls with the
 *   same inputs return it unchanged. Authority and Signature entries reject different inputs
 *   with ErrProofDataMismatch; Agreement entries, which nobody signs, are rebuilt.
 * - Transaction sharing: the `*Tx` variants run inside a caller's store transaction so the
 *   ledger can derive and store a proof atomically.
 * - Fetch authorization: optionally requires the actor's signature over the request fields
 *   before any data is generated.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/common: Addresses.
 * - log/slog: For structured logging.
 */

package proofdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/daosign/proofs/internal/cidutil"
	"github.com/daosign/proofs/internal/eip712"
	"github.com/daosign/proofs/internal/schema"
	"github.com/daosign/proofs/internal/store"
	"github.com/daosign/proofs/internal/verify"
)

var (
	ErrNoCreator        = errors.New("NoCreator")
	ErrNoSigners        = errors.New("NoSigners")
	ErrNoSigner         = errors.New("NoSigner")
	ErrNoFileCID        = errors.New("NoFileCID")
	ErrNoVersion        = errors.New("NoVersion")
	ErrNoAuthorityProof = errors.New("NoAuthorityProof")
	ErrNoSignatureProof = errors.New("NoSignatureProof")
	ErrNoAuthority      = errors.New("NoAuthority")
	ErrNoSignature      = errors.New("NoSignature")
	ErrInvalidSigners   = errors.New("InvalidSigners")
	ErrSchemaNotFound   = errors.New("SchemaNotFound")
	ErrInvalidSignature = errors.New("Invalid signature")
	// ErrProofDataMismatch is returned when cached proof data was derived from other inputs.
	ErrProofDataMismatch = errors.New("ProofDataMismatch")
	ErrNotFound         = store.ErrNotFound
)

// Index answers the questions the cache asks about already stored proofs.
type Index interface {
	// HasAuthority reports whether an Authority proof is stored at (fileCID, proofID).
	HasAuthority(ctx context.Context, rd store.Reader, fileCID, proofID string) (bool, error)
	// HasSignatureFor reports whether a stored Signature proof references authorityProofID.
	HasSignatureFor(ctx context.Context, rd store.Reader, fileCID, authorityProofID string) (bool, error)
}

// Entry is a cached canonical document.
type Entry struct {
	FileCID   string      `json:"fileCID"`
	Kind      schema.Kind `json:"kind"`
	Actor     string      `json:"actor"`
	Version   string      `json:"version,omitempty"`
	Data      string      `json:"data"`
	Timestamp uint64      `json:"timestamp"`
	// Inputs fingerprints the request fields the document was built from.
	Inputs string `json:"inputs"`
}

// AuthorityRequest asks for Proof-of-Authority data.
type AuthorityRequest struct {
	Creator        common.Address
	Signers        []Signer
	FileCID        string
	Version        string
	Metadata       string
	FetchSignature []byte
}

// SignatureRequest asks for Proof-of-Signature data.
type SignatureRequest struct {
	Signer            common.Address
	FileCID           string
	AuthorityProofCID string
	Version           string
	Metadata          string
	FetchSignature    []byte
}

// AgreementRequest asks for Proof-of-Agreement data.
type AgreementRequest struct {
	FileCID            string
	AuthorityProofCID  string
	SignatureProofCIDs []string
	Metadata           string
}

// Config wires a Cache.
type Config struct {
	Store    store.Store
	Registry *schema.Registry
	Index    Index
	Logger   *slog.Logger
	// RequireFetchSignature makes the public Derive calls demand the actor's signature
	// over the packed request fields.
	RequireFetchSignature bool
	// Lock serializes derivations with other writers of the same store. Nil uses a
	// private mutex.
	Lock sync.Locker
}

// Cache is the proof data cache.
type Cache struct {
	store                 store.Store
	registry              *schema.Registry
	index                 Index
	logger                *slog.Logger
	requireFetchSignature bool
	lock                  sync.Locker
}

// NewCache creates a cache from cfg.
func NewCache(cfg Config) *Cache {
	lock := cfg.Lock
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &Cache{
		store:                 cfg.Store,
		registry:              cfg.Registry,
		index:                 cfg.Index,
		logger:                cfg.Logger,
		requireFetchSignature: cfg.RequireFetchSignature,
		lock:                  lock,
	}
}

// RequiresFetchSignature reports whether the public Derive calls demand a fetch signature.
func (c *Cache) RequiresFetchSignature() bool {
	return c.requireFetchSignature
}

func cacheKey(fileCID string, kind schema.Kind, actor common.Address) string {
	return store.Key(fileCID, kind.String(), AddressString(actor))
}

// Lookup returns the cached entry for (fileCID, kind, actor).
func (c *Cache) Lookup(ctx context.Context, fileCID string, kind schema.Kind, actor common.Address) (Entry, error) {
	return lookup(ctx, c.store, fileCID, kind, actor)
}

// LookupTx is Lookup inside an open transaction.
func (c *Cache) LookupTx(ctx context.Context, rd store.Reader, fileCID string, kind schema.Kind, actor common.Address) (Entry, error) {
	return lookup(ctx, rd, fileCID, kind, actor)
}

func lookup(ctx context.Context, rd store.Reader, fileCID string, kind schema.Kind, actor common.Address) (Entry, error) {
	raw, err := rd.Get(ctx, store.BucketProofData, cacheKey(fileCID, kind, actor))
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("decode proof data entry: %w", err)
	}
	return e, nil
}

func (c *Cache) update(ctx context.Context, fn func(tx store.Tx) error) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.store.Update(ctx, fn)
}

/**
 * @description
 * DeriveAuthorityMessage returns the canonical Proof-of-Authority document for the request,
 * building and caching it with `now` on the first call for (fileCID, Authority, creator).
 *
 * @returns The canonical document, or one of ErrNoCreator, ErrNoSigners, ErrNoFileCID,
 * ErrNoVersion, ErrInvalidSigners, ErrInvalidSignature, ErrSchemaNotFound, or
 * ErrProofDataMismatch when the cached document was built from other fields.
 */
func (c *Cache) DeriveAuthorityMessage(ctx context.Context, req AuthorityRequest, now time.Time) ([]byte, error) {
	if err := validateAuthority(req); err != nil {
		return nil, err
	}
	if c.requireFetchSignature {
		digest := verify.PackedAuthorityDigest(req.Creator, Addresses(req.Signers), req.FileCID, req.Version)
		if err := checkFetchSignature(req.Creator, digest, req.FetchSignature); err != nil {
			c.logger.Warn("authority data request rejected", "creator", req.Creator.Hex(), "file_cid", req.FileCID, "error", err)
			return nil, err
		}
	}

	var out []byte
	err := c.update(ctx, func(tx store.Tx) error {
		var err error
		out, err = c.DeriveAuthorityMessageTx(ctx, tx, req, now)
		return err
	})
	return out, err
}

// DeriveAuthorityMessageTx is DeriveAuthorityMessage inside an open transaction. It does not
// check the fetch signature.
func (c *Cache) DeriveAuthorityMessageTx(ctx context.Context, tx store.Tx, req AuthorityRequest, now time.Time) ([]byte, error) {
	if err := validateAuthority(req); err != nil {
		return nil, err
	}
	fields := AuthorityFields{
		Creator:  req.Creator,
		Signers:  req.Signers,
		FileCID:  req.FileCID,
		Metadata: metadataOrDefault(req.Metadata),
	}
	return c.derive(ctx, tx, derivation{
		fileCID: req.FileCID,
		kind:    schema.KindAuthority,
		actor:   req.Creator,
		version: req.Version,
		inputs:  fingerprint(req.Version, fields),
	}, now, func(schemaDoc []byte, ts uint64) ([]byte, error) {
		return BuildAuthority(schemaDoc, fields, ts)
	})
}

func validateAuthority(req AuthorityRequest) error {
	switch {
	case req.Creator == (common.Address{}):
		return ErrNoCreator
	case len(req.Signers) == 0:
		return ErrNoSigners
	case req.FileCID == "":
		return ErrNoFileCID
	case req.Version == "":
		return ErrNoVersion
	case req.Signers[0].Address == (common.Address{}) || req.Signers[len(req.Signers)-1].Address == (common.Address{}):
		return ErrInvalidSigners
	}
	return cidutil.CheckIdentifier(req.FileCID)
}

// DeriveSignatureMessage returns the canonical Proof-of-Signature document, cached per
// (fileCID, Signature, signer).
func (c *Cache) DeriveSignatureMessage(ctx context.Context, req SignatureRequest, now time.Time) ([]byte, error) {
	if err := validateSignature(req); err != nil {
		return nil, err
	}
	if c.requireFetchSignature {
		digest := verify.PackedSignatureDigest(req.Signer, req.FileCID, req.AuthorityProofCID, req.Version)
		if err := checkFetchSignature(req.Signer, digest, req.FetchSignature); err != nil {
			c.logger.Warn("signature data request rejected", "signer", req.Signer.Hex(), "file_cid", req.FileCID, "error", err)
			return nil, err
		}
	}

	var out []byte
	err := c.update(ctx, func(tx store.Tx) error {
		var err error
		out, err = c.DeriveSignatureMessageTx(ctx, tx, req, now)
		return err
	})
	return out, err
}

// DeriveSignatureMessageTx is DeriveSignatureMessage inside an open transaction.
func (c *Cache) DeriveSignatureMessageTx(ctx context.Context, tx store.Tx, req SignatureRequest, now time.Time) ([]byte, error) {
	if err := validateSignature(req); err != nil {
		return nil, err
	}
	fields := SignatureFields{
		Signer:            req.Signer,
		AuthorityProofCID: req.AuthorityProofCID,
		Metadata:          metadataOrDefault(req.Metadata),
	}
	return c.derive(ctx, tx, derivation{
		fileCID: req.FileCID,
		kind:    schema.KindSignature,
		actor:   req.Signer,
		version: req.Version,
		inputs:  fingerprint(req.Version, fields),
	}, now, func(schemaDoc []byte, ts uint64) ([]byte, error) {
		return BuildSignature(schemaDoc, fields, ts)
	})
}

func validateSignature(req SignatureRequest) error {
	switch {
	case req.Signer == (common.Address{}):
		return ErrNoSigner
	case req.FileCID == "":
		return ErrNoFileCID
	case req.AuthorityProofCID == "":
		return ErrNoAuthorityProof
	case req.Version == "":
		return ErrNoVersion
	}
	if err := cidutil.CheckIdentifier(req.FileCID); err != nil {
		return err
	}
	return cidutil.CheckIdentifier(req.AuthorityProofCID)
}

// DeriveAgreementMessage returns the canonical Proof-of-Agreement document, cached per
// (fileCID, Agreement, zero address).
func (c *Cache) DeriveAgreementMessage(ctx context.Context, req AgreementRequest, now time.Time) ([]byte, error) {
	var out []byte
	err := c.update(ctx, func(tx store.Tx) error {
		var err error
		out, err = c.DeriveAgreementMessageTx(ctx, tx, req, now)
		return err
	})
	return out, err
}

// DeriveAgreementMessageTx is DeriveAgreementMessage inside an open transaction.
func (c *Cache) DeriveAgreementMessageTx(ctx context.Context, tx store.Tx, req AgreementRequest, now time.Time) ([]byte, error) {
	switch {
	case req.FileCID == "":
		return nil, ErrNoFileCID
	case req.AuthorityProofCID == "":
		return nil, ErrNoAuthorityProof
	case len(req.SignatureProofCIDs) == 0:
		return nil, fmt.Errorf("%w: no signature proofs given", ErrNoSignatureProof)
	}
	for i, cid := range req.SignatureProofCIDs {
		if cid == "" {
			return nil, fmt.Errorf("%w: signature proof %d is empty", ErrNoSignatureProof, i)
		}
	}
	for _, id := range append([]string{req.FileCID, req.AuthorityProofCID}, req.SignatureProofCIDs...) {
		if err := cidutil.CheckIdentifier(id); err != nil {
			return nil, err
		}
	}

	ok, err := c.index.HasAuthority(ctx, tx, req.FileCID, req.AuthorityProofCID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoAuthority
	}
	ok, err = c.index.HasSignatureFor(ctx, tx, req.FileCID, req.AuthorityProofCID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoSignature
	}

	fields := AgreementFields{
		AuthorityProofCID:  req.AuthorityProofCID,
		SignatureProofCIDs: req.SignatureProofCIDs,
		Metadata:           metadataOrDefault(req.Metadata),
	}
	return c.derive(ctx, tx, derivation{
		fileCID: req.FileCID,
		kind:    schema.KindAgreement,
		version: eip712.DefaultVersion,
		inputs:  fingerprint(eip712.DefaultVersion, fields),
		rebuild: true,
	}, now, func(schemaDoc []byte, ts uint64) ([]byte, error) {
		return BuildAgreement(schemaDoc, fields, ts)
	})
}

// derivation identifies a cache entry and the inputs it must be built from.
type derivation struct {
	fileCID string
	kind    schema.Kind
	actor   common.Address
	version string
	inputs  string
	// rebuild replaces an entry built from other inputs instead of failing.
	rebuild bool
}

// fingerprint hashes the version and the normalized request fields.
func fingerprint(version string, fields any) string {
	raw, err := json.Marshal(struct {
		Version string `json:"version"`
		Fields  any    `json:"fields"`
	}{version, fields})
	if err != nil {
		// The field structs hold only strings, addresses and slices of them.
		panic(fmt.Sprintf("proofdata: encode inputs: %v", err))
	}
	return crypto.Keccak256Hash(raw).Hex()
}

// derive returns the cached document for the key or builds, stores and returns a new one.
func (c *Cache) derive(
	ctx context.Context,
	tx store.Tx,
	d derivation,
	now time.Time,
	build func(schemaDoc []byte, ts uint64) ([]byte, error),
) ([]byte, error) {
	cached, err := lookup(ctx, tx, d.fileCID, d.kind, d.actor)
	switch {
	case err == nil && cached.Inputs == d.inputs:
		c.logger.Debug("proof data cache hit", "kind", d.kind, "file_cid", d.fileCID, "actor", cached.Actor)
		return []byte(cached.Data), nil
	case err == nil && !d.rebuild:
		c.logger.Warn("proof data inputs differ from cached entry", "kind", d.kind, "file_cid", d.fileCID, "actor", cached.Actor)
		return nil, fmt.Errorf("%w: %s data for %s was derived from other inputs", ErrProofDataMismatch, d.kind, d.fileCID)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	schemaDoc, err := c.schemaFor(ctx, tx, d.kind, d.version)
	if err != nil {
		return nil, err
	}

	ts := uint64(now.Unix())
	doc, err := build(schemaDoc, ts)
	if err != nil {
		return nil, err
	}

	entry := Entry{
		FileCID:   d.fileCID,
		Kind:      d.kind,
		Actor:     AddressString(d.actor),
		Version:   d.version,
		Data:      string(doc),
		Timestamp: ts,
		Inputs:    d.inputs,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode proof data entry: %w", err)
	}
	if err := tx.Put(ctx, store.BucketProofData, cacheKey(d.fileCID, d.kind, d.actor), raw); err != nil {
		return nil, err
	}

	c.logger.Info("proof data derived", "kind", d.kind, "file_cid", d.fileCID, "actor", entry.Actor, "timestamp", ts)
	return doc, nil
}

// schemaFor looks the schema up in the registry. Agreements fall back to the built-in
// schema because the agreement request carries no version.
func (c *Cache) schemaFor(ctx context.Context, rd store.Reader, kind schema.Kind, version string) ([]byte, error) {
	doc, err := c.registry.GetSchemaTx(ctx, rd, kind, version)
	if err != nil {
		return nil, err
	}
	if len(doc) > 0 {
		return doc, nil
	}
	if kind == schema.KindAgreement && version == eip712.DefaultVersion {
		return eip712.AgreementSchema, nil
	}
	return nil, fmt.Errorf("%w: %s %s", ErrSchemaNotFound, kind, version)
}

func checkFetchSignature(actor common.Address, digest, sig []byte) error {
	if len(sig) == 0 {
		return fmt.Errorf("%w: fetch signature is required", ErrInvalidSignature)
	}
	ok, err := verify.VerifySignature(actor, digest, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}
