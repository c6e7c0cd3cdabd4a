/**
 * @description
 * This file defines the EIP-712 domain and type sets for the three DAOsign proof documents
 * (Proof-of-Authority, Proof-of-Signature and Proof-of-Agreement) and renders them as the
 * schema documents stored in the proof schema registry.
 *
 * Key features:
 * - EIP-712 Domain: `DefaultDomain` binds every proof kind of a deployment to the same
 *   name and version.
 * - EIP-712 Types: `AuthorityTypes`, `SignatureTypes` and `AgreementTypes` describe the
 *   message structures. Field order is significant and must never be changed for an
 *   already published version.
 * - Schema documents: `MarshalSchema` produces the byte-stable JSON form of a type set,
 *   which `AttachMessage` later completes with a message to build a canonical document.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/signer/core/apitypes: Provides the base `TypedData` structs.
 */

package eip712

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/daosign/proofs/internal/canon"
)

const (
	// DefaultVersion is the schema version registered for every proof kind at startup.
	DefaultVersion = "0.1.0"
	// AppName is the value of the `app` field of every proof message.
	AppName = "daosign"

	DomainType    = "EIP712Domain"
	SignerType    = "Signer"
	AuthorityType = "ProofOfAuthority"
	SignatureType = "ProofOfSignature"
	AgreementType = "ProofOfAgreement"
	ProofCIDType  = "ProofCID"
)

// TypedData is the EIP-712 document understood by wallets and signing tools.
type TypedData = apitypes.TypedData

// DefaultDomain is the domain separator shared by all DAOsign proofs.
var DefaultDomain = apitypes.TypedDataDomain{
	Name:    "daosign",
	Version: DefaultVersion,
}

var domainTypes = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
}

var signerTypes = []apitypes.Type{
	{Name: "address", Type: "address"},
	{Name: "metadata", Type: "string"},
}

// AuthorityTypes defines the EIP-712 message types for a Proof-of-Authority.
var AuthorityTypes = apitypes.Types{
	DomainType: domainTypes,
	SignerType: signerTypes,
	AuthorityType: {
		{Name: "name", Type: "string"},
		{Name: "from", Type: "address"},
		{Name: "agreementFileCID", Type: "string"},
		{Name: "signers", Type: "Signer[]"},
		{Name: "app", Type: "string"},
		{Name: "timestamp", Type: "uint64"},
		{Name: "metadata", Type: "string"},
	},
}

// SignatureTypes defines the EIP-712 message types for a Proof-of-Signature.
var SignatureTypes = apitypes.Types{
	DomainType: domainTypes,
	SignatureType: {
		{Name: "name", Type: "string"},
		{Name: "signer", Type: "address"},
		{Name: "agreementFileProofCID", Type: "string"},
		{Name: "app", Type: "string"},
		{Name: "timestamp", Type: "uint64"},
		{Name: "metadata", Type: "string"},
	},
}

// AgreementTypes defines the EIP-712 message types for a Proof-of-Agreement.
var AgreementTypes = apitypes.Types{
	DomainType: domainTypes,
	ProofCIDType: {
		{Name: "proofCID", Type: "string"},
	},
	AgreementType: {
		{Name: "agreementFileProofCID", Type: "string"},
		{Name: "agreementSignProofs", Type: "ProofCID[]"},
		{Name: "app", Type: "string"},
		{Name: "timestamp", Type: "uint64"},
		{Name: "metadata", Type: "string"},
	},
}

// Built-in schema documents for DefaultVersion.
var (
	AuthoritySchema = mustMarshalSchema(AuthorityTypes, DefaultDomain, AuthorityType)
	SignatureSchema = mustMarshalSchema(SignatureTypes, DefaultDomain, SignatureType)
	AgreementSchema = mustMarshalSchema(AgreementTypes, DefaultDomain, AgreementType)
)

func mustMarshalSchema(types apitypes.Types, domain apitypes.TypedDataDomain, primary string) []byte {
	out, err := MarshalSchema(types, domain, primary)
	if err != nil {
		panic(err)
	}
	return out
}

/**
 * @description
 * MarshalSchema renders a type set as a schema document of the form
 * {"types":{...},"domain":{...},"primaryType":"..."}.
 *
 * Struct types are written with EIP712Domain first, the primary type last and every other
 * type in between sorted by name. Fields keep their declared order.
 *
 * @param types The EIP-712 type set, including EIP712Domain.
 * @param domain The domain to embed.
 * @param primary The name of the primary type.
 * @returns The compact schema document, or an error wrapping ErrSchema.
 */
func MarshalSchema(types apitypes.Types, domain apitypes.TypedDataDomain, primary string) ([]byte, error) {
	if _, ok := types[DomainType]; !ok {
		return nil, fmt.Errorf("%w: missing %s type", ErrSchema, DomainType)
	}
	if _, ok := types[primary]; !ok {
		return nil, fmt.Errorf("%w: primary type %q is not defined", ErrSchema, primary)
	}

	names := make([]string, 0, len(types))
	for name := range types {
		if name != DomainType && name != primary {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	order := append([]string{DomainType}, names...)
	order = append(order, primary)

	var buf bytes.Buffer
	buf.WriteString(`{"types":{`)
	for i, name := range order {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(canon.Quote(name))
		buf.WriteString(":[")
		for j, field := range types[name] {
			if j > 0 {
				buf.WriteByte(',')
			}
			fmt.Fprintf(&buf, `{"name":%s,"type":%s}`, canon.Quote(field.Name), canon.Quote(field.Type))
		}
		buf.WriteByte(']')
	}
	buf.WriteString(`},"domain":`)
	buf.WriteString(marshalDomain(domain))
	buf.WriteString(`,"primaryType":`)
	buf.WriteString(canon.Quote(primary))
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalDomain writes only the domain members that are set.
func marshalDomain(d apitypes.TypedDataDomain) string {
	parts := []string{
		`"name":` + canon.Quote(d.Name),
		`"version":` + canon.Quote(d.Version),
	}
	if d.ChainId != nil {
		parts = append(parts, `"chainId":`+(*big.Int)(d.ChainId).String())
	}
	if d.VerifyingContract != "" {
		parts = append(parts, `"verifyingContract":`+canon.Quote(strings.ToLower(d.VerifyingContract)))
	}
	if d.Salt != "" {
		parts = append(parts, `"salt":`+canon.Quote(d.Salt))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

/**
 * @description
 * AttachMessage completes a stored schema document with a message, producing the canonical
 * document that is signed and stored: the schema with its closing brace removed, followed by
 * `,"message":<message>}`.
 *
 * @param schema A JSON object as stored in the registry.
 * @param message The compact message JSON.
 * @returns The canonical document bytes.
 */
func AttachMessage(schema, message []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(schema)
	if len(trimmed) < 2 || trimmed[0] != '{' || trimmed[len(trimmed)-1] != '}' {
		return nil, fmt.Errorf("%w: schema document is not a JSON object", ErrSchema)
	}

	body := trimmed[:len(trimmed)-1]
	out := make([]byte, 0, len(body)+len(message)+12)
	out = append(out, body...)
	if len(bytes.TrimSpace(body[1:])) > 0 {
		out = append(out, ',')
	}
	out = append(out, `"message":`...)
	out = append(out, message...)
	out = append(out, '}')
	return out, nil
}
