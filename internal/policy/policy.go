// Package policy decides which callers may submit proofs to the ledger.
package policy

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrCallerNotOwner is returned when a caller is not allowed to perform an operation.
var ErrCallerNotOwner = errors.New("Ownable: caller is not the owner")

// Operation names a privileged ledger mutation.
type Operation string

const (
	OpStoreAuthority Operation = "storeAuthority"
	OpStoreSignature Operation = "storeSignature"
	OpStoreAgreement Operation = "storeAgreement"
)

// Request describes one mutation attempt. Actor is the creator or signer the proof is
// stored for; it is the zero address for agreements.
type Request struct {
	Caller    common.Address
	Operation Operation
	Actor     common.Address
	FileCID   string
}

// Policy authorizes ledger mutations.
type Policy interface {
	Authorize(ctx context.Context, req Request) error
}

// OwnerOnly lets a single relayer submit every proof.
type OwnerOnly struct {
	Owner common.Address
}

func (p OwnerOnly) Authorize(_ context.Context, req Request) error {
	if req.Caller != p.Owner {
		return ErrCallerNotOwner
	}
	return nil
}

// SelfService lets creators and signers submit their own Authority and Signature proofs.
// Agreements aggregate already verified proofs and may be submitted by anyone. The owner
// keeps the right to submit on behalf of others.
type SelfService struct {
	Owner common.Address
}

func (p SelfService) Authorize(_ context.Context, req Request) error {
	if req.Caller == p.Owner {
		return nil
	}
	switch req.Operation {
	case OpStoreAgreement:
		return nil
	case OpStoreAuthority, OpStoreSignature:
		if req.Caller != (common.Address{}) && req.Caller == req.Actor {
			return nil
		}
	}
	return ErrCallerNotOwner
}
