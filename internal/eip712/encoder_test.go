package eip712

import (
	"bytes"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// mailTypedData is the reference example published with EIP-712.
func mailTypedData() TypedData {
	return TypedData{
		Types: apitypes.Types{
			DomainType: {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Person": {
				{Name: "name", Type: "string"},
				{Name: "wallet", Type: "address"},
			},
			"Mail": {
				{Name: "from", Type: "Person"},
				{Name: "to", Type: "Person"},
				{Name: "contents", Type: "string"},
			},
		},
		PrimaryType: "Mail",
		Domain: apitypes.TypedDataDomain{
			Name:              "Ether Mail",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(1),
			VerifyingContract: "0xCcCCccccCCCCcCCCCCCcCcCccCcCCCcCcccccccC",
		},
		Message: apitypes.TypedDataMessage{
			"from": map[string]interface{}{
				"name":   "Cow",
				"wallet": "0xCD2a3d9F938E13CD947Ec05AbC7FE734Df8DD826",
			},
			"to": map[string]interface{}{
				"name":   "Bob",
				"wallet": "0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB",
			},
			"contents": "Hello, Bob!",
		},
	}
}

func TestHashTypedDataReferenceVector(t *testing.T) {
	digest, err := HashTypedData(mailTypedData())
	if err != nil {
		t.Fatalf("HashTypedData: %v", err)
	}
	want := "0xbe609aee343fb3c4b28e1df9e632fca64fcfaede20f02e86244efddf30957bd2"
	if got := hexutil.Encode(digest); got != want {
		t.Fatalf("digest = %s, want %s", got, want)
	}

	again, _ := HashTypedData(mailTypedData())
	if !bytes.Equal(digest, again) {
		t.Fatal("HashTypedData is not deterministic")
	}
}

func TestTypeString(t *testing.T) {
	td := TypedData{Types: AuthorityTypes, PrimaryType: AuthorityType}
	want := "ProofOfAuthority(string name,address from,string agreementFileCID,Signer[] signers,string app,uint64 timestamp,string metadata)Signer(address address,string metadata)"
	if got := TypeString(td, AuthorityType); got != want {
		t.Fatalf("TypeString = %s", got)
	}

	td = TypedData{Types: AgreementTypes, PrimaryType: AgreementType}
	want = "ProofOfAgreement(string agreementFileProofCID,ProofCID[] agreementSignProofs,string app,uint64 timestamp,string metadata)ProofCID(string proofCID)"
	if got := TypeString(td, AgreementType); got != want {
		t.Fatalf("TypeString = %s", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		types apitypes.Types
		prim  string
	}{
		{
			name:  "missing domain",
			types: apitypes.Types{"A": {{Name: "x", Type: "string"}}},
			prim:  "A",
		},
		{
			name:  "missing primary",
			types: apitypes.Types{DomainType: domainTypes},
			prim:  "A",
		},
		{
			name: "undefined reference",
			types: apitypes.Types{
				DomainType: domainTypes,
				"A":        {{Name: "x", Type: "B[]"}},
			},
			prim: "A",
		},
		{
			name: "duplicate field",
			types: apitypes.Types{
				DomainType: domainTypes,
				"A":        {{Name: "x", Type: "string"}, {Name: "x", Type: "uint64"}},
			},
			prim: "A",
		},
		{
			name: "bad primitive width",
			types: apitypes.Types{
				DomainType: domainTypes,
				"A":        {{Name: "x", Type: "uint7"}},
			},
			prim: "A",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(TypedData{Types: tt.types, PrimaryType: tt.prim})
			if !errors.Is(err, ErrSchema) {
				t.Fatalf("Validate error = %v, want ErrSchema", err)
			}
		})
	}

	for _, types := range []apitypes.Types{AuthorityTypes, SignatureTypes, AgreementTypes} {
		for name := range types {
			if name == DomainType {
				continue
			}
			if err := Validate(TypedData{Types: types, PrimaryType: name}); err != nil {
				t.Fatalf("built-in types %s rejected: %v", name, err)
			}
		}
	}
}

func TestHashTypedDataEncodingError(t *testing.T) {
	td := TypedData{
		Types:       SignatureTypes,
		PrimaryType: SignatureType,
		Domain:      DefaultDomain,
		Message: apitypes.TypedDataMessage{
			"name":                  "Proof-of-Signature",
			"signer":                "not-an-address",
			"agreementFileProofCID": "QmPoA",
			"app":                   AppName,
			"timestamp":             big.NewInt(1),
			"metadata":              "{}",
		},
	}
	if _, err := HashTypedData(td); !errors.Is(err, ErrEncoding) {
		t.Fatalf("error = %v, want ErrEncoding", err)
	}
}

func TestMarshalSchema(t *testing.T) {
	want := `{"types":{"EIP712Domain":[{"name":"name","type":"string"},{"name":"version","type":"string"}],` +
		`"ProofCID":[{"name":"proofCID","type":"string"}],` +
		`"ProofOfAgreement":[{"name":"agreementFileProofCID","type":"string"},{"name":"agreementSignProofs","type":"ProofCID[]"},` +
		`{"name":"app","type":"string"},{"name":"timestamp","type":"uint64"},{"name":"metadata","type":"string"}]},` +
		`"domain":{"name":"daosign","version":"0.1.0"},"primaryType":"ProofOfAgreement"}`
	if string(AgreementSchema) != want {
		t.Fatalf("AgreementSchema =\n%s\nwant\n%s", AgreementSchema, want)
	}

	if _, err := MarshalSchema(AgreementTypes, DefaultDomain, "Missing"); !errors.Is(err, ErrSchema) {
		t.Fatalf("error = %v, want ErrSchema", err)
	}
}

func TestAttachMessage(t *testing.T) {
	out, err := AttachMessage([]byte(` {"a":1} `), []byte(`{"b":2}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"a":1,"message":{"b":2}}` {
		t.Fatalf("AttachMessage = %s", out)
	}

	out, err = AttachMessage([]byte(`{}`), []byte(`{"b":2}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"message":{"b":2}}` {
		t.Fatalf("AttachMessage(empty) = %s", out)
	}

	if _, err := AttachMessage([]byte(`[1]`), []byte(`{}`)); !errors.Is(err, ErrSchema) {
		t.Fatalf("error = %v, want ErrSchema", err)
	}
}

func TestHashDocumentMatchesTypedData(t *testing.T) {
	message := `{"name":"Proof-of-Authority","from":"0xcd2a3d9f938e13cd947ec05abc7fe734df8dd826",` +
		`"agreementFileCID":"QmfVd78Pns7Gd5ijurJo3vi892DmuPpz6eP5YsuSCsBoyD",` +
		`"signers":[{"address":"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb","metadata":"{}"}],` +
		`"app":"daosign","timestamp":18446744073709551615,"metadata":"{}"}`
	doc, err := AttachMessage(AuthoritySchema, []byte(message))
	if err != nil {
		t.Fatal(err)
	}

	fromDoc, err := HashDocument(doc)
	if err != nil {
		t.Fatalf("HashDocument: %v", err)
	}

	maxUint64, _ := new(big.Int).SetString("18446744073709551615", 10)
	direct, err := HashTypedData(TypedData{
		Types:       AuthorityTypes,
		PrimaryType: AuthorityType,
		Domain:      DefaultDomain,
		Message: apitypes.TypedDataMessage{
			"name":             "Proof-of-Authority",
			"from":             "0xcd2a3d9f938e13cd947ec05abc7fe734df8dd826",
			"agreementFileCID": "QmfVd78Pns7Gd5ijurJo3vi892DmuPpz6eP5YsuSCsBoyD",
			"signers": []interface{}{
				map[string]interface{}{
					"address":  "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
					"metadata": "{}",
				},
			},
			"app":       AppName,
			"timestamp": maxUint64,
			"metadata":  "{}",
		},
	})
	if err != nil {
		t.Fatalf("HashTypedData: %v", err)
	}
	if !bytes.Equal(fromDoc, direct) {
		t.Fatalf("document digest %x != typed data digest %x", fromDoc, direct)
	}
}

func TestParseDocumentRejectsFractions(t *testing.T) {
	doc := strings.Replace(string(SignatureSchema), `"primaryType"`, `"message":{"timestamp":1.5},"primaryType"`, 1)
	if _, err := ParseDocument([]byte(doc)); !errors.Is(err, ErrEncoding) {
		t.Fatalf("error = %v, want ErrEncoding", err)
	}
	if _, err := ParseDocument([]byte(`{`)); !errors.Is(err, ErrEncoding) {
		t.Fatalf("error = %v, want ErrEncoding", err)
	}
}
