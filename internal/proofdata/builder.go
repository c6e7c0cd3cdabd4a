package proofdata

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/daosign/proofs/internal/canon"
	"github.com/daosign/proofs/internal/eip712"
)

const (
	AuthorityName = "Proof-of-Authority"
	SignatureName = "Proof-of-Signature"

	// DefaultMetadata is the proof-level metadata used when none is supplied.
	DefaultMetadata = "{}"
)

// Signer is one requested signer of an agreement. Metadata is opaque to the protocol.
type Signer struct {
	Address  common.Address `json:"address"`
	Metadata string         `json:"metadata"`
}

// Addresses returns the signer addresses in order.
func Addresses(signers []Signer) []common.Address {
	out := make([]common.Address, len(signers))
	for i, s := range signers {
		out[i] = s.Address
	}
	return out
}

// AuthorityFields are the semantic fields of a Proof-of-Authority.
type AuthorityFields struct {
	Creator  common.Address
	Signers  []Signer
	FileCID  string
	Metadata string
}

// SignatureFields are the semantic fields of a Proof-of-Signature.
type SignatureFields struct {
	Signer            common.Address
	AuthorityProofCID string
	Metadata          string
}

// AgreementFields are the semantic fields of a Proof-of-Agreement.
type AgreementFields struct {
	AuthorityProofCID  string
	SignatureProofCIDs []string
	Metadata           string
}

// Message layouts. Field order is the canonical key order.
type signerEntry struct {
	Address  string `json:"address"`
	Metadata string `json:"metadata"`
}

type authorityMessage struct {
	Name             string        `json:"name"`
	From             string        `json:"from"`
	AgreementFileCID string        `json:"agreementFileCID"`
	Signers          []signerEntry `json:"signers"`
	App              string        `json:"app"`
	Timestamp        uint64        `json:"timestamp"`
	Metadata         string        `json:"metadata"`
}

type signatureMessage struct {
	Name                  string `json:"name"`
	Signer                string `json:"signer"`
	AgreementFileProofCID string `json:"agreementFileProofCID"`
	App                   string `json:"app"`
	Timestamp             uint64 `json:"timestamp"`
	Metadata              string `json:"metadata"`
}

type proofCIDEntry struct {
	ProofCID string `json:"proofCID"`
}

type agreementMessage struct {
	AgreementFileProofCID string          `json:"agreementFileProofCID"`
	AgreementSignProofs   []proofCIDEntry `json:"agreementSignProofs"`
	App                   string          `json:"app"`
	Timestamp             uint64          `json:"timestamp"`
	Metadata              string          `json:"metadata"`
}

// AddressString is the canonical form of an address inside proof documents.
func AddressString(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func metadataOrDefault(m string) string {
	if m == "" {
		return DefaultMetadata
	}
	return m
}

// BuildAuthority renders the canonical Proof-of-Authority document for schemaDoc.
func BuildAuthority(schemaDoc []byte, f AuthorityFields, timestamp uint64) ([]byte, error) {
	signers := make([]signerEntry, len(f.Signers))
	for i, s := range f.Signers {
		signers[i] = signerEntry{Address: AddressString(s.Address), Metadata: s.Metadata}
	}
	return build(schemaDoc, authorityMessage{
		Name:             AuthorityName,
		From:             AddressString(f.Creator),
		AgreementFileCID: f.FileCID,
		Signers:          signers,
		App:              eip712.AppName,
		Timestamp:        timestamp,
		Metadata:         metadataOrDefault(f.Metadata),
	})
}

// BuildSignature renders the canonical Proof-of-Signature document for schemaDoc.
func BuildSignature(schemaDoc []byte, f SignatureFields, timestamp uint64) ([]byte, error) {
	return build(schemaDoc, signatureMessage{
		Name:                  SignatureName,
		Signer:                AddressString(f.Signer),
		AgreementFileProofCID: f.AuthorityProofCID,
		App:                   eip712.AppName,
		Timestamp:             timestamp,
		Metadata:              metadataOrDefault(f.Metadata),
	})
}

// BuildAgreement renders the canonical Proof-of-Agreement document for schemaDoc.
func BuildAgreement(schemaDoc []byte, f AgreementFields, timestamp uint64) ([]byte, error) {
	proofs := make([]proofCIDEntry, len(f.SignatureProofCIDs))
	for i, cid := range f.SignatureProofCIDs {
		proofs[i] = proofCIDEntry{ProofCID: cid}
	}
	return build(schemaDoc, agreementMessage{
		AgreementFileProofCID: f.AuthorityProofCID,
		AgreementSignProofs:   proofs,
		App:                   eip712.AppName,
		Timestamp:             timestamp,
		Metadata:              metadataOrDefault(f.Metadata),
	})
}

func build(schemaDoc []byte, message any) ([]byte, error) {
	encoded, err := canon.Encode(message)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", eip712.ErrEncoding, err)
	}
	return eip712.AttachMessage(schemaDoc, encoded)
}
