package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	issuer         = "bloog"
	defaultJWTLife = 12 * time.Hour
)

var (
	ErrEmptyKey     = errors.New("empty jwt key")
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("token is invalid")
)

// JWTAuth issues and checks the admin session tokens.
type JWTAuth struct {
	Key []byte
	// Lifetime of issued tokens, 12h when zero.
	Lifetime time.Duration
}

// Init sets a random key when none was configured. Tokens then stop working
// on restart.
func (j *JWTAuth) Init() error {
	if len(j.Key) > 0 {
		return nil
	}
	key, err := GenerateSecretKey(32)
	if err != nil {
		return err
	}
	j.Key = key
	return nil
}

// TokenClaims bloog admin claim
type TokenClaims struct {
	Username string `json:"username"`
	jwt.StandardClaims
}

// GenerateJWT signs a token for username.
func (j *JWTAuth) GenerateJWT(username string) (string, error) {
	if len(j.Key) == 0 {
		return "", ErrEmptyKey
	}
	life := j.Lifetime
	if life <= 0 {
		life = defaultJWTLife
	}
	now := time.Now().UTC()
	claims := TokenClaims{
		Username: username,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(life).Unix(),
			Issuer:    issuer,
			Subject:   username,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.Key)
}

// VerifyJWT validates tokenString and returns its claims.
func (j *JWTAuth) VerifyJWT(tokenString string) (*TokenClaims, error) {
	if len(j.Key) == 0 {
		return nil, ErrEmptyKey
	}
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.Key, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid || claims.Issuer != issuer {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// bearer extracts the token of an "Authorization: Bearer x" header. A bare
// token is accepted too.
func bearer(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 {
		if !strings.EqualFold(parts[0], "bearer") {
			return ""
		}
		return strings.TrimSpace(parts[1])
	}
	return header
}

func tokenStatus(err error) (int, string) {
	if errors.Is(err, ErrTokenExpired) {
		return http.StatusUnauthorized, "jwt_expired"
	}
	return http.StatusUnauthorized, "jwt_malformed"
}
