/**
 * @description
 * This file sets up the main HTTP server for the proof service using the Gin framework.
 * It is responsible for initializing the router, setting up middleware, and defining API routes.
 *
 * Key features:
 * - Gin Router: Utilizes Gin for high-performance HTTP routing.
 * - Middleware: Includes default middleware for logging and panic recovery, plus CORS.
 * - Route Grouping: Organizes API routes under a versioned `/api/v1` group; mutating
 *   routes sit behind the authentication middleware.
 * - Dependency Injection: The server holds the ledger, the schema registry and the
 *   websocket hub, which are passed in from the application entry point.
 */

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gorillaWS "github.com/gorilla/websocket"

	"github.com/daosign/proofs/internal/auth"
	"github.com/daosign/proofs/internal/ledger"
	"github.com/daosign/proofs/internal/schema"
	"github.com/daosign/proofs/internal/services"
	"github.com/daosign/proofs/internal/websocket"
)

// Deps are the components the HTTP layer serves.
type Deps struct {
	Ledger   *ledger.Ledger
	Registry *schema.Registry
	// Proofs runs the custodial flow; nil disables the /sign routes.
	Proofs *services.ProofService
	// Hub serves /ws; nil disables it.
	Hub *websocket.Hub
	// Auth guards mutating routes; nil treats every caller as anonymous.
	Auth           gin.HandlerFunc
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server serves HTTP requests for the proof service.
type Server struct {
	Router   *gin.Engine
	ledger   *ledger.Ledger
	registry *schema.Registry
	proofs   *services.ProofService
	hub      *websocket.Hub
	logger   *slog.Logger
	now      func() time.Time
	upgrader gorillaWS.Upgrader
}

// NewServer creates a new HTTP server and sets up all the routes.
func NewServer(deps Deps) *Server {
	server := &Server{
		ledger:   deps.Ledger,
		registry: deps.Registry,
		proofs:   deps.Proofs,
		hub:      deps.Hub,
		logger:   deps.Logger,
		now:      time.Now,
		upgrader: newUpgrader(deps.AllowedOrigins),
	}
	if deps.Auth == nil {
		deps.Auth = auth.Anonymous()
	}

	// Initialize the Gin router with default middleware (logger and recovery).
	router := gin.Default()
	router.Use(cors(deps.AllowedOrigins))

	// A simple health check endpoint to confirm the server is running.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": "DAOsign proof service is healthy and running!",
		})
	})

	v1 := router.Group("/api/v1")
	{
		// --- Public Routes ---
		v1.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "success"})
		})
		if server.hub != nil {
			v1.GET("/ws", server.serveWs)
		}

		v1.GET("/schemas/:kind", server.listSchemaVersions)
		v1.GET("/schemas/:kind/:version", server.getSchema)

		v1.GET("/proofs/:fileCID/:proofID", server.getProof)
		v1.GET("/proofdata/:fileCID/:kind/:actor", server.getProofData)
		v1.GET("/documents/:fileCID/state", server.getDocumentState)

		// Deriving proof data writes only to the cache; fetch signatures, when required,
		// authenticate these requests.
		v1.POST("/proofdata/authority", server.deriveAuthority)
		v1.POST("/proofdata/signature", server.deriveSignature)
		v1.POST("/proofdata/agreement", server.deriveAgreement)

		// --- Protected Routes ---
		authGroup := v1.Group("/")
		authGroup.Use(deps.Auth)
		{
			authGroup.POST("/schemas", server.addSchema)
			authGroup.PUT("/schemas", server.updateSchema)

			authGroup.POST("/proofs/authority", server.storeAuthority)
			authGroup.POST("/proofs/signature", server.storeSignature)
			authGroup.POST("/proofs/agreement", server.storeAgreement)

			if server.proofs != nil {
				authGroup.POST("/proofs/authority/sign", server.signAuthority)
				authGroup.POST("/proofs/signature/sign", server.signSignature)
			}
		}
	}

	server.Router = router
	return server
}

// cors allows the configured origins; with none configured every origin is allowed.
func cors(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case origin == "" || len(allowed) == 0:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
