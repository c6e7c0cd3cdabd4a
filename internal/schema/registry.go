/**
 * @description
 * This file implements the proof schema registry: a versioned store mapping
 * (proof kind, semver version) to the schema document used to build canonical proof
 * documents.
 *
 * Key features:
 * - Owner gating: only the registry owner may add or overwrite schemas.
 * - Append-mostly: a (kind, version) pair can be added once; `ForceUpdateSchema` is the
 *   only way to overwrite it and never changes the version list.
 * - Version list: every added version is appended to an ordered per-kind list.
 * - Events: `SchemaAdded` and `SchemaUpdated` are published after the write commits.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/common: Owner addresses.
 * - golang.org/x/mod/semver: Version validation.
 */

package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/mod/semver"

	"github.com/daosign/proofs/internal/eip712"
	"github.com/daosign/proofs/internal/events"
	"github.com/daosign/proofs/internal/policy"
	"github.com/daosign/proofs/internal/store"
)

var (
	ErrCallerNotOwner = policy.ErrCallerNotOwner
	ErrEmptyInput     = errors.New("Input params cannot be empty")
	ErrAlreadyExists  = errors.New("Metadata already exists")
	ErrNotFound       = errors.New("Metadata does not exist")
	ErrInvalidVersion = errors.New("version is not a valid semantic version")
	ErrUnknownKind    = errors.New("unknown proof kind")
)

// ValidVersion reports whether v is a full semantic version without the "v" prefix,
// e.g. "0.1.0" or "1.0.0-rc.1".
func ValidVersion(v string) bool {
	if v == "" || strings.HasPrefix(v, "v") {
		return false
	}
	canonical := semver.Canonical("v" + v)
	if canonical == "" {
		return false
	}
	core, _, _ := strings.Cut(v, "+")
	return canonical == "v"+core
}

// Registry is the proof schema registry.
type Registry struct {
	store  store.Store
	owner  common.Address
	events events.Sink
	logger *slog.Logger
	mu     sync.Mutex
}

// NewRegistry creates a registry owned by owner. A nil sink discards events.
func NewRegistry(st store.Store, owner common.Address, sink events.Sink, logger *slog.Logger) *Registry {
	if sink == nil {
		sink = events.Discard
	}
	return &Registry{
		store:  st,
		owner:  owner,
		events: sink,
		logger: logger,
	}
}

// Owner returns the address allowed to mutate the registry.
func (r *Registry) Owner() common.Address {
	return r.owner
}

func schemaKey(kind Kind, version string) string {
	return store.Key(kind.String(), version)
}

func (r *Registry) checkInput(caller common.Address, kind Kind, version string, schemaDoc []byte) error {
	if caller != r.owner {
		return ErrCallerNotOwner
	}
	if kind == KindUnknown || version == "" || len(schemaDoc) == 0 {
		return ErrEmptyInput
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}
	if !ValidVersion(version) {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}
	return nil
}

/**
 * @description
 * AddSchema stores a new schema for (kind, version) and appends the version to the kind's
 * version list.
 *
 * @returns ErrCallerNotOwner, ErrEmptyInput, ErrInvalidVersion or ErrAlreadyExists on
 * rejection; storage errors otherwise.
 */
func (r *Registry) AddSchema(ctx context.Context, caller common.Address, kind Kind, version string, schemaDoc []byte) error {
	if err := r.checkInput(caller, kind, version, schemaDoc); err != nil {
		r.logger.Warn("schema add rejected", "kind", kind, "version", version, "caller", caller.Hex(), "error", err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.store.Update(ctx, func(tx store.Tx) error {
		existing, err := getSchema(ctx, tx, kind, version)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return ErrAlreadyExists
		}

		versions, err := loadVersions(ctx, tx, kind)
		if err != nil {
			return err
		}
		versions = append(versions, version)
		encoded, err := json.Marshal(versions)
		if err != nil {
			return fmt.Errorf("encode version list: %w", err)
		}
		if err := tx.Put(ctx, store.BucketSchemaVersions, kind.String(), encoded); err != nil {
			return err
		}
		return tx.Put(ctx, store.BucketSchemas, schemaKey(kind, version), schemaDoc)
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			r.logger.Warn("schema already exists", "kind", kind, "version", version)
		}
		return err
	}

	r.logger.Info("schema added", "kind", kind, "version", version, "size", len(schemaDoc))
	r.publish(ctx, events.SchemaAdded, kind, version, schemaDoc)
	return nil
}

// ForceUpdateSchema overwrites an existing schema. The version list is left unchanged.
func (r *Registry) ForceUpdateSchema(ctx context.Context, caller common.Address, kind Kind, version string, schemaDoc []byte) error {
	if err := r.checkInput(caller, kind, version, schemaDoc); err != nil {
		r.logger.Warn("schema update rejected", "kind", kind, "version", version, "caller", caller.Hex(), "error", err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.store.Update(ctx, func(tx store.Tx) error {
		existing, err := getSchema(ctx, tx, kind, version)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			return ErrNotFound
		}
		return tx.Put(ctx, store.BucketSchemas, schemaKey(kind, version), schemaDoc)
	})
	if err != nil {
		return err
	}

	r.logger.Info("schema force-updated", "kind", kind, "version", version, "size", len(schemaDoc))
	r.publish(ctx, events.SchemaUpdated, kind, version, schemaDoc)
	return nil
}

// GetSchema returns the stored schema or nil when (kind, version) is unknown.
func (r *Registry) GetSchema(ctx context.Context, kind Kind, version string) ([]byte, error) {
	return getSchema(ctx, r.store, kind, version)
}

// GetSchemaTx is GetSchema inside an open transaction.
func (r *Registry) GetSchemaTx(ctx context.Context, tx store.Reader, kind Kind, version string) ([]byte, error) {
	return getSchema(ctx, tx, kind, version)
}

// Versions returns the ordered version list of kind.
func (r *Registry) Versions(ctx context.Context, kind Kind) ([]string, error) {
	return loadVersions(ctx, r.store, kind)
}

// CountVersions returns how many versions were added for kind.
func (r *Registry) CountVersions(ctx context.Context, kind Kind) (int, error) {
	versions, err := loadVersions(ctx, r.store, kind)
	if err != nil {
		return 0, err
	}
	return len(versions), nil
}

// VersionAt returns the index-th version added for kind.
func (r *Registry) VersionAt(ctx context.Context, kind Kind, index int) (string, error) {
	versions, err := loadVersions(ctx, r.store, kind)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(versions) {
		return "", fmt.Errorf("%w: %s has no version at index %d", ErrNotFound, kind, index)
	}
	return versions[index], nil
}

// SeedDefaults registers the built-in schemas for eip712.DefaultVersion when they are
// missing. Existing entries are left untouched.
func (r *Registry) SeedDefaults(ctx context.Context) error {
	defaults := map[Kind][]byte{
		KindAuthority: eip712.AuthoritySchema,
		KindSignature: eip712.SignatureSchema,
		KindAgreement: eip712.AgreementSchema,
	}
	for _, kind := range Kinds {
		err := r.AddSchema(ctx, r.owner, kind, eip712.DefaultVersion, defaults[kind])
		if err != nil && !errors.Is(err, ErrAlreadyExists) {
			return fmt.Errorf("seed %s schema: %w", kind, err)
		}
	}
	return nil
}

func (r *Registry) publish(ctx context.Context, t events.Type, kind Kind, version string, schemaDoc []byte) {
	ev := events.New(t)
	ev.Kind = kind.String()
	ev.Version = version
	ev.Message = string(schemaDoc)
	if err := r.events.Publish(ctx, ev); err != nil {
		r.logger.Error("failed to publish schema event", "type", t, "error", err)
	}
}

func getSchema(ctx context.Context, rd store.Reader, kind Kind, version string) ([]byte, error) {
	value, err := rd.Get(ctx, store.BucketSchemas, schemaKey(kind, version))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func loadVersions(ctx context.Context, rd store.Reader, kind Kind) ([]string, error) {
	raw, err := rd.Get(ctx, store.BucketSchemaVersions, kind.String())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var versions []string
	if err := json.Unmarshal(raw, &versions); err != nil {
		return nil, fmt.Errorf("decode version list of %s: %w", kind, err)
	}
	return versions, nil
}
