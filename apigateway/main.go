// Package gateway holds the HTTP middleware shared by the blog routes:
// admin auth, request ids, request logging, rate limiting and metrics.
package gateway

import (
	"crypto/rand"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// OptionsMiddleware for cors headers
func OptionsMiddleware(c *gin.Context) {
	if c.Request.Method != http.MethodOptions {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Next()
		return
	}
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	c.Header("Access-Control-Allow-Headers", "authorization, origin, content-type, accept, X-Admin-Key, X-Request-ID")
	c.Header("Allow", "HEAD,GET,POST,PUT,DELETE,OPTIONS")
	c.Header("Content-Type", "application/json")
	c.AbortWithStatus(http.StatusOK)
}

// GenerateSecretKey generates secret key for jwt signing
func GenerateSecretKey(n int) ([]byte, error) {
	key := make([]byte, n)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateAPIKey returns a random hex key suitable for X-Admin-Key.
func GenerateAPIKey() (string, error) {
	key, err := GenerateSecretKey(16)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", key), nil
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message})
}
