package gateway

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AdminUserKey is the gin context key holding the authenticated admin name.
const AdminUserKey = "admin_user"

// AdminAuthConfig controls access to admin-only endpoints.
type AdminAuthConfig struct {
	Key  string
	User string
	// PasswordHash is a bcrypt hash of the admin password.
	PasswordHash string
	Debug        bool
}

func (cfg AdminAuthConfig) configured() bool {
	return cfg.Key != "" || (cfg.User != "" && cfg.PasswordHash != "")
}

// CheckPassword reports whether user and password match the configured
// admin credentials.
func (cfg AdminAuthConfig) CheckPassword(user, password string) bool {
	if cfg.User == "" || cfg.PasswordHash == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(user), []byte(cfg.User)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(cfg.PasswordHash), []byte(password)) == nil
}

// RequireAdmin guards admin endpoints using X-Admin-Key, HTTP Basic auth or
// a bearer token issued by auth. If Debug is true, the guard is bypassed.
func RequireAdmin(cfg AdminAuthConfig, auth *JWTAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Debug {
			c.Set(AdminUserKey, "debug")
			c.Next()
			return
		}
		if !cfg.configured() {
			abort(c, http.StatusServiceUnavailable, "admin_auth_not_configured", "admin auth not configured")
			return
		}

		if cfg.Key != "" {
			key := strings.TrimSpace(c.GetHeader("X-Admin-Key"))
			if key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(cfg.Key)) == 1 {
				c.Set(AdminUserKey, "key")
				c.Next()
				return
			}
		}

		header := c.GetHeader("Authorization")
		if user, pass, ok := parseBasicAuth(header); ok {
			if cfg.CheckPassword(user, pass) {
				c.Set(AdminUserKey, user)
				c.Next()
				return
			}
			abort(c, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}

		if token := bearer(header); token != "" && auth != nil {
			claims, err := auth.VerifyJWT(token)
			if err != nil {
				status, code := tokenStatus(err)
				abort(c, status, code, err.Error())
				return
			}
			c.Set(AdminUserKey, claims.Username)
			c.Next()
			return
		}

		abort(c, http.StatusUnauthorized, "unauthorized", "unauthorized")
	}
}

func parseBasicAuth(header string) (user, pass string, ok bool) {
	if header == "" {
		return "", "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "basic" {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", "", false
	}
	creds := strings.SplitN(string(decoded), ":", 2)
	if len(creds) != 2 {
		return "", "", false
	}
	return creds[0], creds[1], true
}
