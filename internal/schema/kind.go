package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies one of the three proof documents.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthority
	KindSignature
	KindAgreement
)

var kindNames = map[Kind]string{
	KindAuthority: "ProofOfAuthority",
	KindSignature: "ProofOfSignature",
	KindAgreement: "ProofOfAgreement",
}

// Kinds lists every valid proof kind.
var Kinds = []Kind{KindAuthority, KindSignature, KindAgreement}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown(" + strconv.Itoa(int(k)) + ")"
}

// Valid reports whether k is one of the three proof kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind accepts the type name ("ProofOfAuthority"), the short name ("authority") or
// the numeric value ("1"), case-insensitively.
func ParseKind(s string) (Kind, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if k := Kind(n); k.Valid() {
			return k, nil
		}
		return KindUnknown, fmt.Errorf("%w %q", ErrUnknownKind, s)
	}
	for _, k := range Kinds {
		name := kindNames[k]
		short := strings.TrimPrefix(name, "ProofOf")
		if strings.EqualFold(s, name) || strings.EqualFold(s, short) {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w %q", ErrUnknownKind, s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown proof kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
