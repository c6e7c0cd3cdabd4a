package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/status"

	"github.com/daosign/proofs/internal/cidutil"
	"github.com/daosign/proofs/internal/eip712"
	"github.com/daosign/proofs/internal/ledger"
	"github.com/daosign/proofs/internal/policy"
	"github.com/daosign/proofs/internal/proofdata"
	"github.com/daosign/proofs/internal/schema"
	"github.com/daosign/proofs/internal/services"
	"github.com/daosign/proofs/internal/store"
	"github.com/daosign/proofs/internal/verify"
)

var statusTable = []struct {
	code int
	errs []error
}{
	{http.StatusForbidden, []error{policy.ErrCallerNotOwner}},
	{http.StatusConflict, []error{ledger.ErrAlreadyStored, schema.ErrAlreadyExists, proofdata.ErrProofDataMismatch}},
	{http.StatusUnprocessableEntity, []error{
		proofdata.ErrInvalidSignature,
		ledger.ErrInvalidSigner,
		ledger.ErrInvalidInputData,
		verify.ErrMalformedSignature,
	}},
	{http.StatusNotFound, []error{
		store.ErrNotFound,
		schema.ErrNotFound,
		proofdata.ErrSchemaNotFound,
		proofdata.ErrNoAuthority,
		proofdata.ErrNoSignature,
	}},
	{http.StatusBadRequest, []error{
		proofdata.ErrNoCreator,
		proofdata.ErrNoSigners,
		proofdata.ErrNoSigner,
		proofdata.ErrNoFileCID,
		proofdata.ErrNoVersion,
		proofdata.ErrNoAuthorityProof,
		proofdata.ErrNoSignatureProof,
		proofdata.ErrInvalidSigners,
		ledger.ErrEmptyProofID,
		ledger.ErrEmptyFileCID,
		schema.ErrEmptyInput,
		schema.ErrInvalidVersion,
		schema.ErrUnknownKind,
		cidutil.ErrInvalidCID,
		cidutil.ErrInvalidIdentifier,
		eip712.ErrSchema,
		eip712.ErrEncoding,
	}},
	{http.StatusServiceUnavailable, []error{services.ErrSignerUnavailable}},
}

// statusFor maps a domain error to an HTTP status code.
func statusFor(err error) int {
	for _, row := range statusTable {
		for _, target := range row.errs {
			if errors.Is(err, target) {
				return row.code
			}
		}
	}
	if _, ok := status.FromError(err); ok {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes the standard error body. Server errors hide the cause.
func (server *Server) respondError(c *gin.Context, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		server.logger.Error("request failed", "path", c.FullPath(), "error", err)
		msg = "Internal server error"
	}
	c.JSON(code, gin.H{"status": "error", "message": msg})
}

func (server *Server) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": msg})
}
