/**
 * @description
 * This file contains the HTTP handlers for storing and reading finalized proofs.
 *
 * Key features:
 * - Store endpoints: accept self-signed Authority and Signature proofs and aggregate
 *   Agreements. The ledger re-derives each document and verifies the signature.
 * - Custodial endpoints: hand the request to the ProofService, which signs with a key
 *   held by the remote signer before storing.
 * - Read endpoints: a stored proof and the lifecycle state of a document.
 */

package api

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/daosign/proofs/internal/auth"
	"github.com/daosign/proofs/internal/ledger"
	"github.com/daosign/proofs/internal/services"
	"github.com/daosign/proofs/internal/verify"
)

type storeAuthorityRequest struct {
	Creator   string         `json:"creator"`
	Signers   []signerParams `json:"signers"`
	Version   string         `json:"version"`
	Signature string         `json:"signature"`
	FileCID   string         `json:"fileCID"`
	ProofCID  string         `json:"proofCID"`
	Metadata  string         `json:"metadata"`
}

type storeSignatureRequest struct {
	Signer            string `json:"signer"`
	Signature         string `json:"signature"`
	FileCID           string `json:"fileCID"`
	ProofCID          string `json:"proofCID"`
	AuthorityProofCID string `json:"authorityProofCID"`
	Version           string `json:"version"`
	Metadata          string `json:"metadata"`
}

type storeAgreementRequest struct {
	FileCID            string   `json:"fileCID"`
	AuthorityProofCID  string   `json:"authorityProofCID"`
	SignatureProofCIDs []string `json:"signatureProofCIDs"`
	ProofCID           string   `json:"proofCID"`
	Metadata           string   `json:"metadata"`
}

type signAuthorityRequest struct {
	UserID   string         `json:"userID" binding:"required"`
	Creator  string         `json:"creator"`
	Signers  []signerParams `json:"signers"`
	Version  string         `json:"version"`
	FileCID  string         `json:"fileCID"`
	ProofCID string         `json:"proofCID"`
	Metadata string         `json:"metadata"`
}

type signSignatureRequest struct {
	UserID            string `json:"userID" binding:"required"`
	Signer            string `json:"signer"`
	FileCID           string `json:"fileCID"`
	ProofCID          string `json:"proofCID"`
	AuthorityProofCID string `json:"authorityProofCID"`
	Version           string `json:"version"`
	Metadata          string `json:"metadata"`
}

// callerOrAbort reads the authenticated caller, answering 500 when the middleware did not run.
func (server *Server) callerOrAbort(c *gin.Context) (common.Address, bool) {
	caller, ok := auth.Caller(c)
	if !ok {
		server.logger.Error("caller not found in context", "path", c.FullPath())
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Caller not found in request context"})
		return common.Address{}, false
	}
	return caller, true
}

func (server *Server) respondProof(c *gin.Context, p ledger.Proof) {
	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": p})
}

func (server *Server) storeAuthority(c *gin.Context) {
	caller, ok := server.callerOrAbort(c)
	if !ok {
		return
	}
	var req storeAuthorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	creator, err := parseAddress("creator", req.Creator)
	if err != nil {
		server.badRequest(c, err.Error())
		return
	}
	signers, err := parseSigners(req.Signers)
	if err != nil {
		server.badRequest(c, err.Error())
		return
	}
	sig, err := verify.ParseSignature(req.Signature)
	if err != nil {
		server.respondError(c, err)
		return
	}

	proof, err := server.ledger.StoreAuthority(c.Request.Context(), caller, ledger.AuthorityInput{
		Creator:   creator,
		Signers:   signers,
		Version:   req.Version,
		Signature: sig,
		FileCID:   req.FileCID,
		ProofID:   req.ProofCID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		server.respondError(c, err)
		return
	}
	server.respondProof(c, proof)
}

func (server *Server) storeSignature(c *gin.Context) {
	caller, ok := server.callerOrAbort(c)
	if !ok {
		return
	}
	var req storeSignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	signer, err := parseAddress("signer", req.Signer)
	if err != nil {
		server.badRequest(c, err.Error())
		return
	}
	sig, err := verify.ParseSignature(req.Signature)
	if err != nil {
		server.respondError(c, err)
		return
	}

	proof, err := server.ledger.StoreSignature(c.Request.Context(), caller, ledger.SignatureInput{
		Signer:           signer,
		Signature:        sig,
		FileCID:          req.FileCID,
		ProofID:          req.ProofCID,
		AuthorityProofID: req.AuthorityProofCID,
		Version:          req.Version,
		Metadata:         req.Metadata,
	})
	if err != nil {
		server.respondError(c, err)
		return
	}
	server.respondProof(c, proof)
}

func (server *Server) storeAgreement(c *gin.Context) {
	caller, ok := server.callerOrAbort(c)
	if !ok {
		return
	}
	var req storeAgreementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	proof, err := server.ledger.StoreAgreement(c.Request.Context(), caller, ledger.AgreementInput{
		FileCID:           req.FileCID,
		AuthorityProofID:  req.AuthorityProofCID,
		SignatureProofIDs: req.SignatureProofCIDs,
		ProofID:           req.ProofCID,
		Metadata:          req.Metadata,
	})
	if err != nil {
		server.respondError(c, err)
		return
	}
	server.respondProof(c, proof)
}

func (server *Server) signAuthority(c *gin.Context) {
	caller, ok := server.callerOrAbort(c)
	if !ok {
		return
	}
	var req signAuthorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	creator, err := parseAddress("creator", req.Creator)
	if err != nil {
		server.badRequest(c, err.Error())
		return
	}
	signers, err := parseSigners(req.Signers)
	if err != nil {
		server.badRequest(c, err.Error())
		return
	}

	proof, err := server.proofs.SignAndStoreAuthority(c.Request.Context(), caller, services.SignAuthorityParams{
		UserID:   req.UserID,
		Creator:  creator,
		Signers:  signers,
		FileCID:  req.FileCID,
		ProofID:  req.ProofCID,
		Version:  req.Version,
		Metadata: req.Metadata,
	})
	if err != nil {
		server.respondError(c, err)
		return
	}
	server.respondProof(c, proof)
}

func (server *Server) signSignature(c *gin.Context) {
	caller, ok := server.callerOrAbort(c)
	if !ok {
		return
	}
	var req signSignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	signer, err := parseAddress("signer", req.Signer)
	if err != nil {
		server.badRequest(c, err.Error())
		return
	}

	proof, err := server.proofs.SignAndStoreSignature(c.Request.Context(), caller, services.SignSignatureParams{
		UserID:           req.UserID,
		Signer:           signer,
		FileCID:          req.FileCID,
		ProofID:          req.ProofCID,
		AuthorityProofID: req.AuthorityProofCID,
		Version:          req.Version,
		Metadata:         req.Metadata,
	})
	if err != nil {
		server.respondError(c, err)
		return
	}
	server.respondProof(c, proof)
}

func (server *Server) getProof(c *gin.Context) {
	proof, err := server.ledger.GetProof(c.Request.Context(), c.Param("fileCID"), c.Param("proofID"))
	if err != nil {
		server.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": proof})
}

func (server *Server) getDocumentState(c *gin.Context) {
	state, err := server.ledger.DocumentState(c.Request.Context(), c.Param("fileCID"))
	if err != nil {
		server.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{
		"state": state,
		"stage": state.Stage(),
	}})
}
