package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/daosign/proofs/internal/cidutil"
	"github.com/daosign/proofs/internal/eip712"
	"github.com/daosign/proofs/internal/events"
	"github.com/daosign/proofs/internal/policy"
	"github.com/daosign/proofs/internal/proofdata"
	"github.com/daosign/proofs/internal/schema"
	"github.com/daosign/proofs/internal/store"
	"github.com/daosign/proofs/internal/verify"
)

const fileCID = "Qmabc"

var owner = common.HexToAddress("0x00000000000000000000000000000000000000A1")

type party struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newParty(t *testing.T) party {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return party{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// signPersonal signs keccak256(doc) with the EIP-191 prefix, as a wallet's personal_sign does.
func (p party) signPersonal(t *testing.T, doc []byte) []byte {
	t.Helper()
	sig, err := crypto.Sign(verify.PersonalDigest(crypto.Keccak256(doc)), p.key)
	if err != nil {
		t.Fatal(err)
	}
	sig[64] += 27
	return sig
}

func (p party) signTyped(t *testing.T, doc []byte) []byte {
	t.Helper()
	digest, err := eip712.HashDocument(doc)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := crypto.Sign(digest, p.key)
	if err != nil {
		t.Fatal(err)
	}
	sig[64] += 27
	return sig
}

type fixture struct {
	ledger  *Ledger
	rec     *events.Recorder
	st      *store.MemoryStore
	creator party
	signers []party
	now     time.Time
}

func newFixture(t *testing.T, pol policy.Policy, opts Options) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore()
	reg := schema.NewRegistry(st, owner, events.Discard, logger)
	if err := reg.SeedDefaults(context.Background()); err != nil {
		t.Fatal(err)
	}
	if pol == nil {
		pol = policy.OwnerOnly{Owner: owner}
	}
	f := &fixture{
		rec:     &events.Recorder{},
		st:      st,
		creator: newParty(t),
		signers: []party{newParty(t), newParty(t), newParty(t)},
		now:     time.Unix(1700000000, 0),
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return f.now }
	}
	f.ledger = New(st, reg, pol, f.rec, logger, opts)
	return f
}

func (f *fixture) signerList() []proofdata.Signer {
	out := make([]proofdata.Signer, len(f.signers))
	for i, s := range f.signers {
		out[i] = proofdata.Signer{Address: s.addr, Metadata: "{}"}
	}
	return out
}

func (f *fixture) authorityDoc(t *testing.T, cid string) []byte {
	t.Helper()
	doc, err := f.ledger.Cache().DeriveAuthorityMessage(context.Background(), proofdata.AuthorityRequest{
		Creator: f.creator.addr,
		Signers: f.signerList(),
		FileCID: cid,
		Version: eip712.DefaultVersion,
	}, f.now)
	if err != nil {
		t.Fatalf("DeriveAuthorityMessage: %v", err)
	}
	return doc
}

func (f *fixture) signatureDoc(t *testing.T, cid string, signer party, authorityProofID string) []byte {
	t.Helper()
	doc, err := f.ledger.Cache().DeriveSignatureMessage(context.Background(), proofdata.SignatureRequest{
		Signer:            signer.addr,
		FileCID:           cid,
		AuthorityProofCID: authorityProofID,
		Version:           eip712.DefaultVersion,
	}, f.now)
	if err != nil {
		t.Fatalf("DeriveSignatureMessage: %v", err)
	}
	return doc
}

func (f *fixture) storeAuthority(t *testing.T, cid, proofID string) Proof {
	t.Helper()
	doc := f.authorityDoc(t, cid)
	p, err := f.ledger.StoreAuthority(context.Background(), owner, AuthorityInput{
		Creator:   f.creator.addr,
		Signers:   f.signerList(),
		Version:   eip712.DefaultVersion,
		Signature: f.creator.signPersonal(t, doc),
		FileCID:   cid,
		ProofID:   proofID,
	})
	if err != nil {
		t.Fatalf("StoreAuthority: %v", err)
	}
	return p
}

func (f *fixture) signatureInput(t *testing.T, cid string, signer party, authorityProofID, proofID string) SignatureInput {
	t.Helper()
	doc := f.signatureDoc(t, cid, signer, authorityProofID)
	return SignatureInput{
		Signer:           signer.addr,
		Signature:        signer.signPersonal(t, doc),
		FileCID:          cid,
		ProofID:          proofID,
		AuthorityProofID: authorityProofID,
		Version:          eip712.DefaultVersion,
	}
}

func TestThreeSignerLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{})

	authority := f.storeAuthority(t, fileCID, "QmPoA")
	if authority.Kind != schema.KindAuthority || len(authority.Signers) != 3 {
		t.Fatalf("authority proof = %+v", authority)
	}
	if !strings.HasPrefix(authority.Data, `{"address":"`+strings.ToLower(f.creator.addr.Hex())+`","sig":"0x`) {
		t.Fatalf("authority data = %s", authority.Data)
	}

	state, err := f.ledger.DocumentState(ctx, fileCID)
	if err != nil || state.Stage() != StageHasAuthority {
		t.Fatalf("stage after authority = %v, %v", state.Stage(), err)
	}

	for i, s := range f.signers {
		id := []string{"QmPoS1", "QmPoS2", "QmPoS3"}[i]
		if _, err := f.ledger.StoreSignature(ctx, owner, f.signatureInput(t, fileCID, s, "QmPoA", id)); err != nil {
			t.Fatalf("StoreSignature(%s): %v", id, err)
		}
	}

	state, _ = f.ledger.DocumentState(ctx, fileCID)
	if state.Stage() != StageHasSignatures || len(state.Signatures["QmPoA"]) != 3 {
		t.Fatalf("state after signatures = %+v", state)
	}

	missing := AgreementInput{
		FileCID:           fileCID,
		AuthorityProofID:  "QmPoA",
		SignatureProofIDs: []string{"QmPoS1", "QmPoS2"},
		ProofID:           "QmPoAg",
	}
	if _, err := f.ledger.StoreAgreement(ctx, owner, missing); !errors.Is(err, ErrInvalidInputData) {
		t.Fatalf("agreement without S3 error = %v, want ErrInvalidInputData", err)
	}

	full := missing
	full.SignatureProofIDs = []string{"QmPoS1", "QmPoS2", "QmPoS3"}
	agreement, err := f.ledger.StoreAgreement(ctx, owner, full)
	if err != nil {
		t.Fatalf("StoreAgreement: %v", err)
	}
	if !strings.Contains(agreement.Data, `"agreementSignProofs":[{"proofCID":"QmPoS1"},{"proofCID":"QmPoS2"},{"proofCID":"QmPoS3"}]`) {
		t.Fatalf("agreement data = %s", agreement.Data)
	}

	if _, err := f.ledger.StoreAgreement(ctx, owner, full); !errors.Is(err, ErrAlreadyStored) {
		t.Fatalf("resubmitted agreement error = %v, want ErrAlreadyStored", err)
	}

	state, _ = f.ledger.DocumentState(ctx, fileCID)
	if state.Stage() != StageHasAgreement {
		t.Fatalf("final stage = %v", state.Stage())
	}

	var types []events.Type
	for _, ev := range f.rec.Events() {
		types = append(types, ev.Type)
		if ev.FileCID != fileCID {
			t.Fatalf("event %s file = %q", ev.Type, ev.FileCID)
		}
	}
	want := []events.Type{events.AuthorityStored, events.SignatureStored, events.SignatureStored, events.SignatureStored, events.AgreementStored}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}
	if got := f.rec.Events()[1]; got.AuthorityProofID != "QmPoA" || got.Actor != strings.ToLower(f.signers[0].addr.Hex()) {
		t.Fatalf("signature event = %+v", got)
	}
}

func TestAgreementIgnoresSignatureOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{})
	f.storeAuthority(t, fileCID, "QmPoA")
	for i, s := range f.signers {
		id := []string{"QmPoS1", "QmPoS2", "QmPoS3"}[i]
		if _, err := f.ledger.StoreSignature(ctx, owner, f.signatureInput(t, fileCID, s, "QmPoA", id)); err != nil {
			t.Fatal(err)
		}
	}

	dup := AgreementInput{FileCID: fileCID, AuthorityProofID: "QmPoA", SignatureProofIDs: []string{"QmPoS1", "QmPoS1", "QmPoS2"}, ProofID: "QmPoAg"}
	if _, err := f.ledger.StoreAgreement(ctx, owner, dup); !errors.Is(err, ErrInvalidInputData) {
		t.Fatalf("duplicate signature proof error = %v", err)
	}
	unknown := AgreementInput{FileCID: fileCID, AuthorityProofID: "QmPoA", SignatureProofIDs: []string{"QmPoS1", "QmPoS2", "QmNope"}, ProofID: "QmPoAg"}
	if _, err := f.ledger.StoreAgreement(ctx, owner, unknown); !errors.Is(err, ErrInvalidInputData) {
		t.Fatalf("unknown signature proof error = %v", err)
	}

	reordered := AgreementInput{FileCID: fileCID, AuthorityProofID: "QmPoA", SignatureProofIDs: []string{"QmPoS3", "QmPoS1", "QmPoS2"}, ProofID: "QmPoAg"}
	if _, err := f.ledger.StoreAgreement(ctx, owner, reordered); err != nil {
		t.Fatalf("reordered agreement: %v", err)
	}
}

func TestStoreSignatureOrdering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{})

	in := f.signatureInput(t, fileCID, f.signers[0], "QmPoA", "QmPoS1")
	if _, err := f.ledger.StoreSignature(ctx, owner, in); !errors.Is(err, ErrNotFound) {
		t.Fatalf("signature before authority error = %v, want ErrNotFound", err)
	}

	f.storeAuthority(t, fileCID, "QmPoA")

	outsider := newParty(t)
	out := f.signatureInput(t, fileCID, outsider, "QmPoA", "QmPoSX")
	if _, err := f.ledger.StoreSignature(ctx, owner, out); !errors.Is(err, ErrInvalidSigner) {
		t.Fatalf("unlisted signer error = %v, want ErrInvalidSigner", err)
	}

	if _, err := f.ledger.StoreSignature(ctx, owner, in); err != nil {
		t.Fatalf("StoreSignature: %v", err)
	}
	if _, err := f.ledger.StoreSignature(ctx, owner, in); !errors.Is(err, ErrAlreadyStored) {
		t.Fatalf("duplicate signature error = %v, want ErrAlreadyStored", err)
	}
}

func TestInvalidSignatureLeavesNoState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{})

	forger := newParty(t)
	doc := f.authorityDoc(t, "QmOther")
	_, err := f.ledger.StoreAuthority(ctx, owner, AuthorityInput{
		Creator:   f.creator.addr,
		Signers:   f.signerList(),
		Version:   eip712.DefaultVersion,
		Signature: forger.signPersonal(t, doc),
		FileCID:   fileCID,
		ProofID:   "QmPoA",
	})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("forged authority error = %v, want ErrInvalidSignature", err)
	}

	if _, err := f.ledger.GetProof(ctx, fileCID, "QmPoA"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetProof after rejection = %v, want ErrNotFound", err)
	}
	if _, err := f.ledger.GetProofData(ctx, fileCID, schema.KindAuthority, f.creator.addr); !errors.Is(err, ErrNotFound) {
		t.Fatalf("proof data after rejection = %v, want ErrNotFound", err)
	}
	if n := len(f.rec.Events()); n != 0 {
		t.Fatalf("%d events published for a rejected proof", n)
	}

	_, err = f.ledger.StoreAuthority(ctx, owner, AuthorityInput{
		Creator:   f.creator.addr,
		Signers:   f.signerList(),
		Version:   eip712.DefaultVersion,
		Signature: []byte{1, 2, 3},
		FileCID:   fileCID,
		ProofID:   "QmPoA",
	})
	if !errors.Is(err, ErrInvalidSignature) || !errors.Is(err, verify.ErrMalformedSignature) {
		t.Fatalf("malformed signature error = %v", err)
	}
}

func TestStoredProofMatchesCachedData(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{})

	doc := f.authorityDoc(t, fileCID)
	f.now = f.now.Add(time.Hour)
	p := f.storeAuthority(t, fileCID, "QmPoA")
	if p.Message != string(doc) {
		t.Fatal("stored message differs from the document returned before submission")
	}

	entry, err := f.ledger.GetProofData(ctx, fileCID, schema.KindAuthority, f.creator.addr)
	if err != nil || entry.Data != string(doc) {
		t.Fatalf("GetProofData = %+v, %v", entry, err)
	}
	got, err := f.ledger.GetProof(ctx, fileCID, "QmPoA")
	if err != nil || got.Data != p.Data || got.Kind != schema.KindAuthority {
		t.Fatalf("GetProof = %+v, %v", got, err)
	}
}

func TestIdentifierChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{})

	if _, err := f.ledger.StoreAuthority(ctx, owner, AuthorityInput{FileCID: fileCID}); !errors.Is(err, ErrEmptyProofID) {
		t.Fatalf("empty proof id error = %v", err)
	}
	if _, err := f.ledger.StoreSignature(ctx, owner, SignatureInput{ProofID: "QmPoS1"}); !errors.Is(err, ErrEmptyFileCID) {
		t.Fatalf("empty file error = %v", err)
	}
	if _, err := f.ledger.StoreAgreement(ctx, owner, AgreementInput{ProofID: "QmPoAg"}); !errors.Is(err, ErrEmptyFileCID) {
		t.Fatalf("empty agreement file error = %v", err)
	}
	if _, err := f.ledger.StoreAgreement(ctx, owner, AgreementInput{FileCID: fileCID}); !errors.Is(err, ErrEmptyProofID) {
		t.Fatalf("empty agreement proof id error = %v", err)
	}

	// "a\x1fb"/"c" and "a"/"b\x1fc" would share a store key.
	if _, err := f.ledger.StoreAuthority(ctx, owner, AuthorityInput{FileCID: "a\x1fb", ProofID: "c"}); !errors.Is(err, cidutil.ErrInvalidIdentifier) {
		t.Fatalf("control character in file error = %v", err)
	}
	if _, err := f.ledger.StoreSignature(ctx, owner, SignatureInput{FileCID: "a", ProofID: "b\x1fc", AuthorityProofID: "QmPoA"}); !errors.Is(err, cidutil.ErrInvalidIdentifier) {
		t.Fatalf("control character in proof id error = %v", err)
	}
	if _, err := f.ledger.StoreSignature(ctx, owner, SignatureInput{FileCID: "a", ProofID: "b", AuthorityProofID: "QmPoA\n"}); !errors.Is(err, cidutil.ErrInvalidIdentifier) {
		t.Fatalf("control character in authority reference error = %v", err)
	}
	in := AgreementInput{FileCID: fileCID, ProofID: "QmPoAg", AuthorityProofID: "QmPoA", SignatureProofIDs: []string{"QmPoS1", "x\x1fy"}}
	if _, err := f.ledger.StoreAgreement(ctx, owner, in); !errors.Is(err, cidutil.ErrInvalidIdentifier) {
		t.Fatalf("control character in signature reference error = %v", err)
	}
}

func TestStrictCIDs(t *testing.T) {
	f := newFixture(t, nil, Options{StrictCIDs: true})
	_, err := f.ledger.StoreAuthority(context.Background(), owner, AuthorityInput{FileCID: "not-a-cid", ProofID: "QmPoA"})
	if !errors.Is(err, cidutil.ErrInvalidCID) {
		t.Fatalf("strict CID error = %v, want ErrInvalidCID", err)
	}

	file := cidutil.CIDv0SHA256([]byte("agreement.pdf"))
	proofID := cidutil.CIDv1RawSHA256([]byte("proof"))
	f.storeAuthority(t, file, proofID)
}

func TestPolicyDenial(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, policy.SelfService{Owner: owner}, Options{})

	doc := f.authorityDoc(t, fileCID)
	in := AuthorityInput{
		Creator:   f.creator.addr,
		Signers:   f.signerList(),
		Version:   eip712.DefaultVersion,
		Signature: f.creator.signPersonal(t, doc),
		FileCID:   fileCID,
		ProofID:   "QmPoA",
	}
	if _, err := f.ledger.StoreAuthority(ctx, f.signers[0].addr, in); !errors.Is(err, ErrCallerNotOwner) {
		t.Fatalf("foreign caller error = %v, want ErrCallerNotOwner", err)
	}
	if _, err := f.ledger.StoreAuthority(ctx, f.creator.addr, in); err != nil {
		t.Fatalf("creator submitting own authority: %v", err)
	}
}

func TestTypedScheme(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{Scheme: SchemeTyped})

	doc := f.authorityDoc(t, fileCID)
	in := AuthorityInput{
		Creator:   f.creator.addr,
		Signers:   f.signerList(),
		Version:   eip712.DefaultVersion,
		Signature: f.creator.signPersonal(t, doc),
		FileCID:   fileCID,
		ProofID:   "QmPoA",
	}
	if _, err := f.ledger.StoreAuthority(ctx, owner, in); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("personal signature under typed scheme error = %v", err)
	}
	in.Signature = f.creator.signTyped(t, doc)
	if _, err := f.ledger.StoreAuthority(ctx, owner, in); err != nil {
		t.Fatalf("typed authority: %v", err)
	}
}

func TestParseScheme(t *testing.T) {
	for in, want := range map[string]SignatureScheme{"": SchemePersonal, "personal": SchemePersonal, "TYPED": SchemeTyped} {
		got, err := ParseScheme(in)
		if err != nil || got != want {
			t.Fatalf("ParseScheme(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseScheme("rsa"); err == nil {
		t.Fatal("ParseScheme accepted an unknown scheme")
	}
}

func TestStoreRejectsInputsChangedSinceDerivation(t *testing.T) {
	ctx := context.Background()

	t.Run("authority signers", func(t *testing.T) {
		f := newFixture(t, nil, Options{})
		// The creator signs a document listing only the first two signers.
		doc, err := f.ledger.Cache().DeriveAuthorityMessage(ctx, proofdata.AuthorityRequest{
			Creator: f.creator.addr,
			Signers: f.signerList()[:2],
			FileCID: fileCID,
			Version: eip712.DefaultVersion,
		}, f.now)
		if err != nil {
			t.Fatal(err)
		}

		_, err = f.ledger.StoreAuthority(ctx, owner, AuthorityInput{
			Creator:   f.creator.addr,
			Signers:   f.signerList(),
			Version:   eip712.DefaultVersion,
			Signature: f.creator.signPersonal(t, doc),
			FileCID:   fileCID,
			ProofID:   "QmPoA",
		})
		if !errors.Is(err, ErrProofDataMismatch) {
			t.Fatalf("widened signer list error = %v, want ErrProofDataMismatch", err)
		}
		if _, err := f.ledger.GetProof(ctx, fileCID, "QmPoA"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("authority stored despite mismatch: %v", err)
		}

		// The third signer never became a listed signer.
		third := f.signers[2]
		sigDoc := f.signatureDoc(t, fileCID, third, "QmPoA")
		_, err = f.ledger.StoreSignature(ctx, owner, SignatureInput{
			Signer:           third.addr,
			Signature:        third.signPersonal(t, sigDoc),
			FileCID:          fileCID,
			ProofID:          "QmPoS3",
			AuthorityProofID: "QmPoA",
			Version:          eip712.DefaultVersion,
		})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("signature for unstored authority error = %v, want ErrNotFound", err)
		}
	})

	t.Run("signature authority reference", func(t *testing.T) {
		f := newFixture(t, nil, Options{})
		f.storeAuthority(t, fileCID, "QmPoA")
		f.storeAuthority(t, fileCID, "QmPoA2")

		in := f.signatureInput(t, fileCID, f.signers[0], "QmPoA", "QmPoS1")
		in.AuthorityProofID = "QmPoA2"
		if _, err := f.ledger.StoreSignature(ctx, owner, in); !errors.Is(err, ErrProofDataMismatch) {
			t.Fatalf("changed authority reference error = %v, want ErrProofDataMismatch", err)
		}
		state, err := f.ledger.DocumentState(ctx, fileCID)
		if err != nil || len(state.Signatures["QmPoA2"]) != 0 {
			t.Fatalf("signature indexed despite mismatch: %+v, %v", state, err)
		}
	})

	t.Run("partial agreement derivation", func(t *testing.T) {
		f := newFixture(t, nil, Options{})
		f.storeAuthority(t, fileCID, "QmPoA")
		ids := []string{"QmPoS1", "QmPoS2", "QmPoS3"}
		for i, s := range f.signers {
			if _, err := f.ledger.StoreSignature(ctx, owner, f.signatureInput(t, fileCID, s, "QmPoA", ids[i])); err != nil {
				t.Fatal(err)
			}
		}

		partial, err := f.ledger.Cache().DeriveAgreementMessage(ctx, proofdata.AgreementRequest{
			FileCID:            fileCID,
			AuthorityProofCID:  "QmPoA",
			SignatureProofCIDs: ids[:1],
		}, f.now)
		if err != nil {
			t.Fatal(err)
		}

		f.now = f.now.Add(time.Minute)
		agreement, err := f.ledger.StoreAgreement(ctx, owner, AgreementInput{
			FileCID:           fileCID,
			AuthorityProofID:  "QmPoA",
			SignatureProofIDs: ids,
			ProofID:           "QmPoAg",
		})
		if err != nil {
			t.Fatalf("StoreAgreement: %v", err)
		}
		if agreement.Message == string(partial) {
			t.Fatal("stored agreement reused the partial derivation")
		}
		if !strings.Contains(agreement.Message, `"agreementSignProofs":[{"proofCID":"QmPoS1"},{"proofCID":"QmPoS2"},{"proofCID":"QmPoS3"}]`) {
			t.Fatalf("agreement message = %s", agreement.Message)
		}
		entry, err := f.ledger.GetProofData(ctx, fileCID, schema.KindAgreement, common.Address{})
		if err != nil || entry.Data != agreement.Message {
			t.Fatalf("GetProofData = %+v, %v", entry, err)
		}
	})
}
