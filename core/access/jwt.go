package access

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// JWTVerifierBuilder is a helper builder for JWTVerifier. Exactly one of Secret and
// PublicKeyPEM must be set.
type JWTVerifierBuilder struct {
	// Secret is the shared secret of HMAC signed tokens
	Secret string
	// PublicKeyPEM is the RSA public key of RS256 signed tokens
	PublicKeyPEM string
	// Issuer is the accepted issuer for the token. Any issuer is accepted if empty.
	Issuer string
}

// JWTVerifier verifies JSON web tokens locally. The subject claim is the user id.
type JWTVerifier struct {
	hmacSecret []byte
	publicKey  *rsa.PublicKey
	issuer     string
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// NewJWTVerifier creates a JWTVerifier
func NewJWTVerifier(b *JWTVerifierBuilder) (*JWTVerifier, error) {
	v := &JWTVerifier{issuer: b.Issuer}
	switch {
	case len(b.Secret) > 0 && len(b.PublicKeyPEM) > 0:
		return nil, errors.New("either secret or public key, not both")
	case len(b.Secret) > 0:
		v.hmacSecret = []byte(b.Secret)
	case len(b.PublicKeyPEM) > 0:
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(b.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("certificate error: %w", err)
		}
		v.publicKey = key
	default:
		return nil, errors.New("missing secret or public key")
	}
	return v, nil
}

func (v *JWTVerifier) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if v.hmacSecret != nil {
			return v.hmacSecret, nil
		}
	case *jwt.SigningMethodRSA:
		if v.publicKey != nil {
			return v.publicKey, nil
		}
	}
	return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
}

// Verify implements Verifier
func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	c := claims{}
	token, err := jwt.ParseWithClaims(tokenString, &c, v.keyFunc)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token: %v", ErrUnauthorized, err)
	}
	if len(v.issuer) > 0 && c.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %s", ErrUnauthorized, c.Issuer)
	}
	if len(c.Subject) == 0 {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return &Identity{UserID: c.Subject, Email: c.Email}, nil
}
