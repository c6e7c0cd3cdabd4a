package cidutil

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ErrInvalidCID is returned for identifiers that do not parse as a CID.
var ErrInvalidCID = errors.New("invalid CID")

// ErrInvalidIdentifier is returned for identifiers holding control characters.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// CheckIdentifier rejects identifiers with control characters. Identifiers become parts of
// composite store keys, which are joined with a control character.
func CheckIdentifier(s string) error {
	if i := strings.IndexFunc(s, unicode.IsControl); i >= 0 {
		return fmt.Errorf("%w %q: control character at byte %d", ErrInvalidIdentifier, s, i)
	}
	return nil
}

// Validate checks that s is a CIDv0 ("Qm...") or CIDv1 string.
func Validate(s string) error {
	if _, err := cid.Decode(s); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidCID, s, err)
	}
	return nil
}

// CIDv0SHA256 returns the CIDv0 string (dag-pb, sha2-256) IPFS assigns to data.
func CIDv0SHA256(data []byte) string {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		// unreachable for SHA2_256 with the default length
		return ""
	}
	return cid.NewCidV0(sum).String()
}

// CIDv1RawSHA256 returns a CIDv1 string using the "raw" multicodec
// and a sha2-256 multihash.
func CIDv1RawSHA256(data []byte) string {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return ""
	}
	return cid.NewCidV1(cid.Raw, sum).String()
}
