/**
 * @description
 * This file contains the Gin HTTP handler for upgrading a standard HTTP connection
 * to a WebSocket connection. Clients use it to follow the proofs stored for the
 * documents they subscribe to.
 *
 * Key features:
 * - WebSocket Upgrade: Uses the `gorilla/websocket` library's `Upgrader` to handle
 *   the WebSocket handshake protocol. Origins are checked against ALLOWED_ORIGINS.
 * - Hub Registration: The new client is registered with the central `Hub`, which
 *   routes ledger and schema events to it by topic.
 * - Goroutine Management: Starts the `ReadPump` and `WritePump` for the new client in
 *   separate goroutines.
 */
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gorillaWS "github.com/gorilla/websocket"

	"github.com/daosign/proofs/internal/websocket"
)

// newUpgrader accepts the configured origins; with none configured every origin is accepted.
func newUpgrader(allowedOrigins []string) gorillaWS.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return gorillaWS.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(allowed) == 0 || allowed[origin]
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// serveWs handles websocket requests from the peer.
func (server *Server) serveWs(c *gin.Context) {
	conn, err := server.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		server.logger.Warn("failed to upgrade connection to websocket", "error", err)
		return
	}

	client := websocket.NewClient(server.hub, conn, server.logger)
	if !server.hub.RegisterClient(client) {
		server.logger.Warn("websocket hub stopped, dropping connection", "remote_addr", conn.RemoteAddr().String())
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()

	server.logger.Info("websocket client connected", "remote_addr", conn.RemoteAddr().String())
}
