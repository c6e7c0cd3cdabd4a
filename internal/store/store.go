/**
 * @description
 * This file defines the key-value abstraction that backs the proof ledger, the schema
 * registry and the proof-data cache. Everything the protocol persists is a value under
 * a (bucket, key) pair, and every mutation happens inside a single transaction.
 *
 * Key features:
 * - Buckets: Logical namespaces (proofs, documents, schemas, proofdata) on top of one store.
 * - Transactions: `Update` runs a function against a `Tx`; if the function returns an
 *   error nothing it wrote becomes visible.
 * - Pluggable Backends: In-memory (tests, local runs), Redis and PostgreSQL.
 *
 * @notes
 * - Writers inside one process are serialized by the ledger's mutex. Across replicas the
 *   shared backends detect conflicts: PostgreSQL runs SERIALIZABLE transactions and Redis
 *   WATCHes the touched hashes, and both retry a conflicting transaction from the start.
 */

package store

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("store: key not found")

// Bucket names shared by the packages that persist protocol data.
const (
	BucketProofs         = "proofs"
	BucketDocuments      = "documents"
	BucketProofData      = "proofdata"
	BucketSchemas        = "schemas"
	BucketSchemaVersions = "schema_versions"
)

// keySeparator joins composite key parts. Callers reject identifiers holding control
// characters (cidutil.CheckIdentifier) before they reach a key.
const keySeparator = "\x1f"

// maxTxAttempts bounds how often a shared backend runs a transaction that lost a conflict.
const maxTxAttempts = 5

// Reader reads single values.
type Reader interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// Tx is the view handed to an Update function. Reads observe the transaction's own writes.
type Tx interface {
	Reader
	Put(ctx context.Context, bucket, key string, value []byte) error
}

// Store is a transactional key-value store.
type Store interface {
	Reader
	// Update runs fn inside a transaction and commits only if fn returns nil.
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Key builds a composite key from its parts.
func Key(parts ...string) string {
	return strings.Join(parts, keySeparator)
}

// Exists reports whether the key holds a value.
func Exists(ctx context.Context, r Reader, bucket, key string) (bool, error) {
	_, err := r.Get(ctx, bucket, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}
