/**
 * @description
 * This file contains the HTTP handlers for the proof schema registry.
 *
 * Key features:
 * - Public reads of schema documents and per-kind version lists.
 * - Owner-only writes: adding a (kind, version) schema and force-updating an existing one.
 *   Schema documents are compacted before storage so canonical documents built from them
 *   do not depend on the request's whitespace.
 */

package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/daosign/proofs/internal/auth"
	"github.com/daosign/proofs/internal/canon"
	"github.com/daosign/proofs/internal/schema"
)

type schemaRequest struct {
	Kind    schema.Kind     `json:"kind" binding:"required"`
	Version string          `json:"version" binding:"required"`
	Schema  json.RawMessage `json:"schema" binding:"required"`
}

func (server *Server) listSchemaVersions(c *gin.Context) {
	kind, err := schema.ParseKind(c.Param("kind"))
	if err != nil {
		server.respondError(c, err)
		return
	}
	versions, err := server.registry.Versions(c.Request.Context(), kind)
	if err != nil {
		server.respondError(c, err)
		return
	}
	if versions == nil {
		versions = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{"kind": kind, "versions": versions}})
}

func (server *Server) getSchema(c *gin.Context) {
	kind, err := schema.ParseKind(c.Param("kind"))
	if err != nil {
		server.respondError(c, err)
		return
	}
	version := c.Param("version")
	doc, err := server.registry.GetSchema(c.Request.Context(), kind, version)
	if err != nil {
		server.respondError(c, err)
		return
	}
	if len(doc) == 0 {
		server.respondError(c, schema.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{
		"kind":    kind,
		"version": version,
		"schema":  json.RawMessage(doc),
	}})
}

func (server *Server) addSchema(c *gin.Context) {
	server.writeSchema(c, false)
}

func (server *Server) updateSchema(c *gin.Context) {
	server.writeSchema(c, true)
}

func (server *Server) writeSchema(c *gin.Context, force bool) {
	caller, ok := auth.Caller(c)
	if !ok {
		server.logger.Error("caller not found in context for schema write")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Caller not found in request context"})
		return
	}

	var req schemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.logger.Warn("invalid schema request", "error", err)
		server.badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	doc, err := canon.Compact(req.Schema)
	if err != nil {
		server.badRequest(c, "Invalid schema document: "+err.Error())
		return
	}

	if force {
		err = server.registry.ForceUpdateSchema(c.Request.Context(), caller, req.Kind, req.Version, doc)
	} else {
		err = server.registry.AddSchema(c.Request.Context(), caller, req.Kind, req.Version, doc)
	}
	if err != nil {
		server.respondError(c, err)
		return
	}

	code := http.StatusCreated
	if force {
		code = http.StatusOK
	}
	c.JSON(code, gin.H{"status": "success", "data": gin.H{"kind": req.Kind, "version": req.Version}})
}
