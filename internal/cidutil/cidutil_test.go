package cidutil

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	valid := []string{
		"QmfVd78Pns7Gd5ijurJo3vi892DmuPpz6eP5YsuSCsBoyD",
		"QmRr3f12HHGSBYk3hpFuuAweKfcStQ16Vej81gr4GLbKU3",
		CIDv1RawSHA256([]byte("proof")),
	}
	for _, s := range valid {
		if err := Validate(s); err != nil {
			t.Errorf("Validate(%q) = %v", s, err)
		}
	}

	for _, s := range []string{"", "QmPoA", "not a cid"} {
		if err := Validate(s); !errors.Is(err, ErrInvalidCID) {
			t.Errorf("Validate(%q) = %v, want ErrInvalidCID", s, err)
		}
	}
}

func TestCheckIdentifier(t *testing.T) {
	for _, s := range []string{"QmPoA", "not a cid", "doc-1/v2", ""} {
		if err := CheckIdentifier(s); err != nil {
			t.Errorf("CheckIdentifier(%q) = %v", s, err)
		}
	}
	for _, s := range []string{"a\x1fb", "QmPoA\n", "\x00", "x\u0085y"} {
		if err := CheckIdentifier(s); !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("CheckIdentifier(%q) = %v, want ErrInvalidIdentifier", s, err)
		}
	}
}

func TestDerivedCIDs(t *testing.T) {
	v0 := CIDv0SHA256([]byte("hello"))
	if !strings.HasPrefix(v0, "Qm") || len(v0) != 46 {
		t.Fatalf("CIDv0SHA256 = %q", v0)
	}
	if v0 != CIDv0SHA256([]byte("hello")) {
		t.Fatal("CIDv0SHA256 is not deterministic")
	}
	if v0 == CIDv0SHA256([]byte("hello!")) {
		t.Fatal("different data produced the same CID")
	}

	v1 := CIDv1RawSHA256([]byte("hello"))
	if !strings.HasPrefix(v1, "b") {
		t.Fatalf("CIDv1RawSHA256 = %q, want base32 multibase prefix", v1)
	}
}
