/**
 * @description
 * This file contains the authentication middleware for the Gin server.
 * It is responsible for validating JSON Web Tokens (JWTs) for the routes that submit
 * proofs or manage schemas.
 *
 * Key features:
 * - JWT Validation: Verifies the signature and claims of the token.
 * - JWKS Integration: Uses a JWKS (JSON Web Key Set) client to fetch the issuer's
 *   public keys for signature verification. The key set is cached to avoid
 *   excessive network requests.
 * - Context Injection: Upon successful validation, the caller's Ethereum address (from the
 *   'sub' claim) is injected into the Gin context for use by downstream handlers.
 * - Error Handling: Returns a 401 Unauthorized status with a clear error message
 *   if authentication fails for any reason.
 *
 * @dependencies
 * - github.com/gin-gonic/gin: The web framework.
 * - github.com/golang-jwt/jwt/v5: For parsing and validating JWTs.
 * - github.com/MicahParks/keyfunc/v2: For fetching and managing the JWKS.
 */

package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// GinContextKey is a custom type to avoid key collisions in the Gin context.
type GinContextKey string

const (
	// CallerAddressKey is the key used to store the authenticated caller's address in the
	// Gin context.
	CallerAddressKey GinContextKey = "callerAddress"
)

/**
 * @description
 * NewAuthMiddleware creates a Gin middleware that validates JWTs signed by keys published
 * at the issuer's JWKS endpoint.
 *
 * @param issuerURL The URL of the token issuer. This is used to construct the JWKS URL.
 * @returns An error if the JWKS key set cannot be initialized.
 */
func NewAuthMiddleware(issuerURL string) (gin.HandlerFunc, error) {
	// This follows the OpenID Connect discovery standard.
	jwksURL := strings.TrimSuffix(issuerURL, "/") + "/.well-known/jwks.json"

	// keyfunc handles caching and periodic refreshes of the keys.
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:            context.Background(),
		RefreshTimeout: time.Hour,
	})
	if err != nil {
		return nil, err
	}
	return NewMiddleware(jwks.Keyfunc, issuerURL), nil
}

// NewMiddleware validates tokens with an arbitrary key function. Tests use it with an
// HMAC secret.
func NewMiddleware(keyFunc jwt.Keyfunc, issuerURL string) gin.HandlerFunc {
	expectedIssuer := strings.TrimSuffix(issuerURL, "/")

	return func(c *gin.Context) {
		// 1. Get the token from the Authorization header.
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "Authorization header is required"})
			return
		}

		// 2. Check if the header is in the format "Bearer <token>".
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "Authorization header format must be Bearer {token}"})
			return
		}

		// 3. Parse and validate the token (signature and expiration).
		token, err := jwt.Parse(parts[1], keyFunc)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "Invalid token: " + err.Error()})
			return
		}
		if !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "Token is invalid"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "Failed to parse token claims"})
			return
		}

		// 4. Verify the issuer claim.
		issuer, ok := claims["iss"].(string)
		if !ok || issuer != expectedIssuer {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "Token issuer does not match expected issuer"})
			return
		}

		// 5. The subject is the caller's Ethereum address.
		sub, ok := claims["sub"].(string)
		if !ok || !common.IsHexAddress(sub) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "Subject (sub) claim must be an Ethereum address"})
			return
		}

		c.Set(string(CallerAddressKey), common.HexToAddress(sub))
		c.Next()
	}
}

// Anonymous marks every request as coming from the zero address. It is used when no
// issuer is configured; only operations the access policy grants to anyone succeed.
func Anonymous() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(string(CallerAddressKey), common.Address{})
		c.Next()
	}
}

// Caller returns the authenticated caller set by the middleware.
func Caller(c *gin.Context) (common.Address, bool) {
	v, ok := c.Get(string(CallerAddressKey))
	if !ok {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}
