package verify

import (
	"crypto/ecdsa"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/daosign/proofs/internal/eip712"
)

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// personalSign mimics a wallet: EIP-191 over the digest, V in {27, 28}.
func personalSign(t *testing.T, key *ecdsa.PrivateKey, digest []byte) []byte {
	t.Helper()
	sig, err := crypto.Sign(PersonalDigest(digest), key)
	if err != nil {
		t.Fatal(err)
	}
	sig[64] += 27
	return sig
}

func TestVerifyTypedSignatureRoundTrip(t *testing.T) {
	key, other := mustKey(t), mustKey(t)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	msg := []byte(`{"types":{},"message":{"a":1}}`)

	sig := personalSign(t, key, crypto.Keccak256(msg))

	ok, err := VerifyTypedSignature(addr, msg, sig)
	if err != nil || !ok {
		t.Fatalf("VerifyTypedSignature = %v, %v; want true", ok, err)
	}

	ok, err = VerifyTypedSignature(addr, []byte(`{"types":{},"message":{"a":2}}`), sig)
	if err != nil || ok {
		t.Fatalf("different message verified: %v, %v", ok, err)
	}

	otherSig := personalSign(t, other, crypto.Keccak256(msg))
	ok, err = VerifyTypedSignature(addr, msg, otherSig)
	if err != nil || ok {
		t.Fatalf("other key verified: %v, %v", ok, err)
	}

	// V in {0, 1} is accepted as well.
	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	if ok, _ := VerifyTypedSignature(addr, msg, raw); !ok {
		t.Fatal("signature with V=0/1 rejected")
	}
}

func TestVerifySignatureMalformed(t *testing.T) {
	addr := common.HexToAddress("0x01")
	digest := crypto.Keccak256([]byte("x"))

	if _, err := VerifySignature(addr, digest, make([]byte, 64)); !errors.Is(err, ErrMalformedSignature) {
		t.Fatalf("short signature error = %v", err)
	}
	bad := make([]byte, 65)
	bad[64] = 5
	if _, err := VerifySignature(addr, digest, bad); !errors.Is(err, ErrMalformedSignature) {
		t.Fatalf("bad V error = %v", err)
	}

	// Structurally valid but unrecoverable signatures are a mismatch, not an error.
	zero := make([]byte, 65)
	ok, err := VerifySignature(addr, digest, zero)
	if err != nil || ok {
		t.Fatalf("zero signature = %v, %v", ok, err)
	}
}

func TestParseSignature(t *testing.T) {
	key := mustKey(t)
	sig := personalSign(t, key, crypto.Keccak256([]byte("x")))

	got, err := ParseSignature(hexutil.Encode(sig))
	if err != nil || len(got) != 65 {
		t.Fatalf("ParseSignature = %x, %v", got, err)
	}
	for _, bad := range []string{"", "0x", "0xzz", "0x1234"} {
		if _, err := ParseSignature(bad); !errors.Is(err, ErrMalformedSignature) {
			t.Errorf("ParseSignature(%q) = %v", bad, err)
		}
	}
}

func TestVerifyTypedDataSignature(t *testing.T) {
	key := mustKey(t)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	message := `{"name":"Proof-of-Signature","signer":"` + hexLower(addr) + `",` +
		`"agreementFileProofCID":"QmPoA","app":"daosign","timestamp":1700000000,"metadata":"{}"}`
	doc, err := eip712.AttachMessage(eip712.SignatureSchema, []byte(message))
	if err != nil {
		t.Fatal(err)
	}
	digest, err := eip712.HashDocument(doc)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatal(err)
	}
	sig[64] += 27

	ok, err := VerifyTypedDataSignature(addr, doc, sig)
	if err != nil || !ok {
		t.Fatalf("VerifyTypedDataSignature = %v, %v", ok, err)
	}

	// A personal signature over the same document is not a typed-data signature.
	personal := personalSign(t, key, crypto.Keccak256(doc))
	if ok, _ := VerifyTypedDataSignature(addr, doc, personal); ok {
		t.Fatal("personal signature accepted as typed data signature")
	}
}

func TestPackedDigests(t *testing.T) {
	creator := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	s1 := common.HexToAddress("0x00000000000000000000000000000000000000d1")

	packed := append([]byte(nil), creator.Bytes()...)
	packed = append(packed, common.LeftPadBytes(s1.Bytes(), 32)...)
	packed = append(packed, []byte("QmFile0.1.0")...)
	if got, want := PackedAuthorityDigest(creator, []common.Address{s1}, "QmFile", "0.1.0"), crypto.Keccak256(packed); !equal(got, want) {
		t.Fatalf("PackedAuthorityDigest = %x, want %x", got, want)
	}

	packed = append([]byte(nil), s1.Bytes()...)
	packed = append(packed, []byte("QmFileQmPoA0.1.0")...)
	if got, want := PackedSignatureDigest(s1, "QmFile", "QmPoA", "0.1.0"), crypto.Keccak256(packed); !equal(got, want) {
		t.Fatalf("PackedSignatureDigest = %x, want %x", got, want)
	}
}

func hexLower(a common.Address) string {
	return hexutil.Encode(a.Bytes())
}

func equal(a, b []byte) bool {
	return string(a) == string(b)
}
