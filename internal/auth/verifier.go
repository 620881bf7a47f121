package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("INVALID_TOKEN")

// VerifierConfig holds configuration for JWT verification.
type VerifierConfig struct {
	// Algorithm is "HS256" or "RS256".
	Algorithm string

	// SecretKey is the HS256 shared secret.
	SecretKey string

	// PublicKeyPEM is the RS256 public key (PKIX or PKCS#1).
	PublicKeyPEM string

	// Issuer and Audience, when set, must match the token.
	Issuer   string
	Audience string
}

// Verifier checks token signatures and extracts claims.
type Verifier struct {
	config    VerifierConfig
	key       interface{}
	parseOpts []jwt.ParserOption
}

type tokenClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// NewVerifier creates a new JWT verifier.
func NewVerifier(config VerifierConfig) (*Verifier, error) {
	v := &Verifier{config: config}

	switch config.Algorithm {
	case "HS256":
		if config.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires secret key")
		}
		v.key = []byte(config.SecretKey)
	case "RS256":
		key, err := parseRSAPublicKey(config.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
		}
		v.key = key
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", config.Algorithm)
	}

	v.parseOpts = []jwt.ParserOption{jwt.WithValidMethods([]string{config.Algorithm})}
	if config.Issuer != "" {
		v.parseOpts = append(v.parseOpts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		v.parseOpts = append(v.parseOpts, jwt.WithAudience(config.Audience))
	}
	return v, nil
}

// VerifyToken verifies a JWT token and returns the claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("%w: token cannot be empty", ErrInvalidToken)
	}

	var tc tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &tc, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	}, v.parseOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if tc.Subject == "" {
		return nil, fmt.Errorf("%w: missing 'sub' claim", ErrInvalidToken)
	}
	if len(tc.Roles) == 0 {
		return nil, fmt.Errorf("%w: missing 'roles' claim", ErrInvalidToken)
	}
	for _, role := range tc.Roles {
		if role != RoleViewer && role != RoleController {
			return nil, fmt.Errorf("%w: invalid role %q", ErrInvalidToken, role)
		}
	}

	return &Claims{Subject: tc.Subject, Roles: slices.Clone(tc.Roles)}, nil
}

// parseRSAPublicKey decodes a PEM-encoded RSA public key.
func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA public key")
		}
		return rsaPub, nil
	}

	pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return pub, nil
}
