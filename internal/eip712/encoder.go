package eip712

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var (
	// ErrSchema is returned when a type set references an undefined type or lacks the
	// primary type.
	ErrSchema = errors.New("SchemaError")
	// ErrEncoding is returned when a message value does not match its declared type.
	ErrEncoding = errors.New("EncodingError")
)

// HashTypedData returns keccak256(0x19 0x01 ‖ domainSeparator ‖ hashStruct(message)).
func HashTypedData(td TypedData) ([]byte, error) {
	if err := Validate(td); err != nil {
		return nil, err
	}
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return digest, nil
}

// HashDocument parses a canonical document and returns its EIP-712 digest.
func HashDocument(doc []byte) ([]byte, error) {
	td, err := ParseDocument(doc)
	if err != nil {
		return nil, err
	}
	return HashTypedData(td)
}

// TypeString returns the canonical type signature hashed into the type hash of name,
// e.g. `ProofCID(string proofCID)`.
func TypeString(td TypedData, name string) string {
	return string(td.EncodeType(name))
}

// Validate checks that the primary type and EIP712Domain exist, that every referenced
// struct type is defined and that no struct declares a field twice.
func Validate(td TypedData) error {
	if _, ok := td.Types[DomainType]; !ok {
		return fmt.Errorf("%w: missing %s type", ErrSchema, DomainType)
	}
	if td.PrimaryType == "" {
		return fmt.Errorf("%w: primary type is empty", ErrSchema)
	}
	if _, ok := td.Types[td.PrimaryType]; !ok {
		return fmt.Errorf("%w: primary type %q is not defined", ErrSchema, td.PrimaryType)
	}

	for structName, fields := range td.Types {
		seen := make(map[string]struct{}, len(fields))
		for _, field := range fields {
			if _, dup := seen[field.Name]; dup {
				return fmt.Errorf("%w: %s declares field %q twice", ErrSchema, structName, field.Name)
			}
			seen[field.Name] = struct{}{}

			base := baseType(field.Type)
			if isPrimitive(base) {
				continue
			}
			if _, ok := td.Types[base]; !ok {
				return fmt.Errorf("%w: undefined type %q referenced by %s.%s", ErrSchema, base, structName, field.Name)
			}
		}
	}
	return nil
}

/**
 * @description
 * ParseDocument decodes a canonical document into typed data. Numbers are decoded exactly:
 * integral JSON numbers become *big.Int so uint64/uint256 values never pass through float64.
 *
 * @param doc The canonical document bytes.
 * @returns The typed data, or an error wrapping ErrEncoding.
 */
func ParseDocument(doc []byte) (TypedData, error) {
	var td TypedData
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&td); err != nil {
		return TypedData{}, fmt.Errorf("%w: invalid typed data document: %v", ErrEncoding, err)
	}

	for key, value := range td.Message {
		normalized, err := normalizeNumbers(value)
		if err != nil {
			return TypedData{}, fmt.Errorf("%w: message.%s: %v", ErrEncoding, key, err)
		}
		td.Message[key] = normalized
	}
	return td, nil
}

func normalizeNumbers(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case json.Number:
		n, ok := new(big.Int).SetString(val.String(), 10)
		if !ok {
			return nil, fmt.Errorf("non-integer number %s", val)
		}
		return n, nil
	case map[string]interface{}:
		for k, item := range val {
			normalized, err := normalizeNumbers(item)
			if err != nil {
				return nil, err
			}
			val[k] = normalized
		}
		return val, nil
	case []interface{}:
		for i, item := range val {
			normalized, err := normalizeNumbers(item)
			if err != nil {
				return nil, err
			}
			val[i] = normalized
		}
		return val, nil
	default:
		return v, nil
	}
}

// baseType strips array suffixes: "Signer[][3]" -> "Signer".
func baseType(t string) string {
	if i := strings.IndexByte(t, '['); i >= 0 {
		return t[:i]
	}
	return t
}

func isPrimitive(t string) bool {
	switch t {
	case "address", "bool", "string", "bytes":
		return true
	}
	if size, ok := strings.CutPrefix(t, "bytes"); ok {
		n, err := strconv.Atoi(size)
		return err == nil && n >= 1 && n <= 32
	}
	for _, prefix := range []string{"uint", "int"} {
		if size, ok := strings.CutPrefix(t, prefix); ok {
			if size == "" {
				return true
			}
			n, err := strconv.Atoi(size)
			return err == nil && n >= 8 && n <= 256 && n%8 == 0
		}
	}
	return false
}
