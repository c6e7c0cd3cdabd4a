package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/daosign/proofs/internal/schema"
	"github.com/daosign/proofs/internal/store"
)

// Proof is a finalized proof as persisted at (FileCID, ProofID).
type Proof struct {
	Kind              schema.Kind `json:"kind"`
	FileCID           string      `json:"fileCID"`
	ProofID           string      `json:"proofID"`
	SignerAddress     string      `json:"signerAddress,omitempty"`
	Signature         string      `json:"signature,omitempty"`
	AuthorityProofID  string      `json:"authorityProofID,omitempty"`
	Signers           []string    `json:"signers,omitempty"`
	SignatureProofIDs []string    `json:"signatureProofIDs,omitempty"`
	// Message is the canonical document that was signed or aggregated.
	Message string `json:"message"`
	// Data is the stored proof: the signed wrapper for Authority and Signature proofs, the
	// compacted document for Agreements.
	Data     string    `json:"data"`
	StoredAt time.Time `json:"storedAt"`
}

// Stage is the lifecycle position of a document.
type Stage string

const (
	StageNoAuthority   Stage = "NoAuthority"
	StageHasAuthority  Stage = "HasAuthority"
	StageHasSignatures Stage = "HasSignatures"
	StageHasAgreement  Stage = "HasAgreement"
)

// DocumentState indexes the proofs stored for one document.
type DocumentState struct {
	FileCID     string   `json:"fileCID"`
	Authorities []string `json:"authorities"`
	// Signatures maps an Authority proof id to the Signature proofs referencing it.
	Signatures map[string][]string `json:"signatures"`
	Agreements []string            `json:"agreements"`
}

// Stage derives the lifecycle stage from the stored proofs.
func (d DocumentState) Stage() Stage {
	switch {
	case len(d.Agreements) > 0:
		return StageHasAgreement
	case len(d.Signatures) > 0:
		return StageHasSignatures
	case len(d.Authorities) > 0:
		return StageHasAuthority
	default:
		return StageNoAuthority
	}
}

func proofKey(fileCID, proofID string) string {
	return store.Key(fileCID, proofID)
}

func loadProof(ctx context.Context, rd store.Reader, fileCID, proofID string) (Proof, error) {
	raw, err := rd.Get(ctx, store.BucketProofs, proofKey(fileCID, proofID))
	if err != nil {
		return Proof{}, err
	}
	var p Proof
	if err := json.Unmarshal(raw, &p); err != nil {
		return Proof{}, fmt.Errorf("decode proof %s: %w", proofID, err)
	}
	return p, nil
}

func putProof(ctx context.Context, tx store.Tx, p Proof) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode proof %s: %w", p.ProofID, err)
	}
	return tx.Put(ctx, store.BucketProofs, proofKey(p.FileCID, p.ProofID), raw)
}

func loadDocument(ctx context.Context, rd store.Reader, fileCID string) (DocumentState, error) {
	raw, err := rd.Get(ctx, store.BucketDocuments, fileCID)
	if errors.Is(err, store.ErrNotFound) {
		return DocumentState{FileCID: fileCID, Signatures: map[string][]string{}}, nil
	}
	if err != nil {
		return DocumentState{}, err
	}
	var d DocumentState
	if err := json.Unmarshal(raw, &d); err != nil {
		return DocumentState{}, fmt.Errorf("decode document %s: %w", fileCID, err)
	}
	if d.Signatures == nil {
		d.Signatures = map[string][]string{}
	}
	return d, nil
}

func putDocument(ctx context.Context, tx store.Tx, d DocumentState) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", d.FileCID, err)
	}
	return tx.Put(ctx, store.BucketDocuments, d.FileCID, raw)
}

// index answers proofdata.Index from the ledger's buckets.
type index struct{}

func (index) HasAuthority(ctx context.Context, rd store.Reader, fileCID, proofID string) (bool, error) {
	p, err := loadProof(ctx, rd, fileCID, proofID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Kind == schema.KindAuthority, nil
}

func (index) HasSignatureFor(ctx context.Context, rd store.Reader, fileCID, authorityProofID string) (bool, error) {
	d, err := loadDocument(ctx, rd, fileCID)
	if err != nil {
		return false, err
	}
	return len(d.Signatures[authorityProofID]) > 0, nil
}
