package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	// Issuer is stamped on every token this service signs.
	Issuer = "translator-backend"

	defaultTTL = 24 * time.Hour
	clockSkew  = 30 * time.Second
)

// Claims represents the identity contained in a JWT.
type Claims struct {
	Sub   string `json:"sub"`
	Email string `json:"email,omitempty"`
	Iss   string `json:"iss,omitempty"`
	Exp   int64  `json:"exp,omitempty"`
	Iat   int64  `json:"iat,omitempty"`
}

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

var (
	errMissingSecret = errors.New("jwt secret not configured")
	// ErrInvalidToken covers malformed, tampered and foreign tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for a well-signed token past its exp.
	ErrExpiredToken = errors.New("token expired")
)

// now is swapped in tests.
var now = time.Now

// SignJWT signs the given claims with HS256 using JWT_SECRET.
func SignJWT(claims Claims) (string, error) {
	secret, err := secretKey()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(claims.Sub) == "" {
		return "", errors.New("sub is required")
	}

	issuedAt := now().UTC().Unix()
	if claims.Iat == 0 {
		claims.Iat = issuedAt
	}
	if claims.Exp == 0 {
		claims.Exp = issuedAt + int64(defaultTTL/time.Second)
	}
	claims.Iss = Issuer

	headerJSON, err := json.Marshal(header{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", errors.Wrap(err, "encode jwt header")
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", errors.Wrap(err, "encode jwt claims")
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(payloadJSON)
	return signingInput + "." + sign(signingInput, secret), nil
}

// VerifyJWT checks signature, algorithm, issuer and expiry, allowing a small
// clock skew, and returns the claims.
func VerifyJWT(token string) (Claims, error) {
	secret, err := secretKey()
	if err != nil {
		return Claims{}, err
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, ErrInvalidToken
	}
	signingInput := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(sign(signingInput, secret))) {
		return Claims{}, ErrInvalidToken
	}

	var h header
	if err := decodeSegment(parts[0], &h); err != nil || h.Alg != "HS256" {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := decodeSegment(parts[1], &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Sub == "" {
		return Claims{}, ErrInvalidToken
	}
	if claims.Iss != "" && claims.Iss != Issuer {
		return Claims{}, ErrInvalidToken
	}
	if claims.Exp > 0 && now().UTC().Add(-clockSkew).Unix() > claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func decodeSegment(segment string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func sign(input string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(input))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func secretKey() ([]byte, error) {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	env := strings.ToLower(strings.TrimSpace(os.Getenv("ENV")))
	if secret == "" && (env == "production" || env == "prod") {
		return nil, errors.Wrap(errMissingSecret, "JWT_SECRET required in production")
	}
	if secret == "" {
		secret = "dev-secret"
	}
	return []byte(secret), nil
}
