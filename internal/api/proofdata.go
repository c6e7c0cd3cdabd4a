package api

import (
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/daosign/proofs/internal/proofdata"
	"github.com/daosign/proofs/internal/schema"
	"github.com/daosign/proofs/internal/verify"
)

// signerParams is a requested signer in request bodies.
type signerParams struct {
	Address  string `json:"address"`
	Metadata string `json:"metadata"`
}

type deriveAuthorityRequest struct {
	Creator        string         `json:"creator"`
	Signers        []signerParams `json:"signers"`
	FileCID        string         `json:"fileCID"`
	Version        string         `json:"version"`
	Metadata       string         `json:"metadata"`
	FetchSignature string         `json:"fetchSignature"`
}

type deriveSignatureRequest struct {
	Signer            string `json:"signer"`
	FileCID           string `json:"fileCID"`
	AuthorityProofCID string `json:"authorityProofCID"`
	Version           string `json:"version"`
	Metadata          string `json:"metadata"`
	FetchSignature    string `json:"fetchSignature"`
}

type deriveAgreementRequest struct {
	FileCID            string   `json:"fileCID"`
	AuthorityProofCID  string   `json:"authorityProofCID"`
	SignatureProofCIDs []string `json:"signatureProofCIDs"`
	Metadata           string   `json:"metadata"`
}

// parseAddress accepts an empty value as the zero address so that the cache reports the
// missing field by name.
func parseAddress(field, v string) (common.Address, error) {
	if v == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s %q is not an Ethereum address", field, v)
	}
	return common.HexToAddress(v), nil
}

func parseSigners(in []signerParams) ([]proofdata.Signer, error) {
	out := make([]proofdata.Signer, len(in))
	for i, s := range in {
		addr, err := parseAddress(fmt.Sprintf("signers[%d]", i), s.Address)
		if err != nil {
			return nil, err
		}
		out[i] = proofdata.Signer{Address: addr, Metadata: s.Metadata}
	}
	return out, nil
}

// parseOptionalSignature decodes a hex signature; empty means none.
func parseOptionalSignature(v string) ([]byte, error) {
	if v == "" {
		return nil, nil
	}
	return verify.ParseSignature(v)
}

func (server *Server) respondDocument(c *gin.Context, kind schema.Kind, fileCID string, doc []byte) {
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{
		"kind":    kind,
		"fileCID": fileCID,
		// The document travels as a string so clients sign the exact bytes.
		"document": string(doc),
	}})
}

func (server *Server) deriveAuthority(c *gin.Context) {
	var req deriveAuthorityRequest
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
	fetchSig, err := parseOptionalSignature(req.FetchSignature)
	if err != nil {
		server.respondError(c, err)
		return
	}

	doc, err := server.ledger.Cache().DeriveAuthorityMessage(c.Request.Context(), proofdata.AuthorityRequest{
		Creator:        creator,
		Signers:        signers,
		FileCID:        req.FileCID,
		Version:        req.Version,
		Metadata:       req.Metadata,
		FetchSignature: fetchSig,
	}, server.now())
	if err != nil {
		server.respondError(c, err)
		return
	}
	server.respondDocument(c, schema.KindAuthority, req.FileCID, doc)
}

func (server *Server) deriveSignature(c *gin.Context) {
	var req deriveSignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	signer, err := parseAddress("signer", req.Signer)
	if err != nil {
		server.badRequest(c, err.Error())
		return
	}
	fetchSig, err := parseOptionalSignature(req.FetchSignature)
	if err != nil {
		server.respondError(c, err)
		return
	}

	doc, err := server.ledger.Cache().DeriveSignatureMessage(c.Request.Context(), proofdata.SignatureRequest{
		Signer:            signer,
		FileCID:           req.FileCID,
		AuthorityProofCID: req.AuthorityProofCID,
		Version:           req.Version,
		Metadata:          req.Metadata,
		FetchSignature:    fetchSig,
	}, server.now())
	if err != nil {
		server.respondError(c, err)
		return
	}
	server.respondDocument(c, schema.KindSignature, req.FileCID, doc)
}

func (server *Server) deriveAgreement(c *gin.Context) {
	var req deriveAgreementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	doc, err := server.ledger.Cache().DeriveAgreementMessage(c.Request.Context(), proofdata.AgreementRequest{
		FileCID:            req.FileCID,
		AuthorityProofCID:  req.AuthorityProofCID,
		SignatureProofCIDs: req.SignatureProofCIDs,
		Metadata:           req.Metadata,
	}, server.now())
	if err != nil {
		server.respondError(c, err)
		return
	}
	server.respondDocument(c, schema.KindAgreement, req.FileCID, doc)
}

// getProofData returns a cached document. Agreements are cached under the zero address,
// which the actor segment may spell as "0x0".
func (server *Server) getProofData(c *gin.Context) {
	kind, err := schema.ParseKind(c.Param("kind"))
	if err != nil {
		server.respondError(c, err)
		return
	}
	actor := common.Address{}
	if v := c.Param("actor"); v != "0x0" {
		if actor, err = parseAddress("actor", v); err != nil {
			server.badRequest(c, err.Error())
			return
		}
	}

	entry, err := server.ledger.GetProofData(c.Request.Context(), c.Param("fileCID"), kind, actor)
	if err != nil {
		server.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": entry})
}
