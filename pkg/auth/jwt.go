package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spike-events/spike-directory/pkg/models"
)

// JWTVerifier accepts bearer JWTs signed with the configured HMAC secret or
// RSA public key. The caller uid is the token subject.
type JWTVerifier struct {
	parser *jwt.Parser
	key    interface{}
	issuer string
	strict bool
}

func NewJWTVerifier(cfg models.JWTConfig) (*JWTVerifier, error) {
	v := &JWTVerifier{issuer: cfg.Issuer, strict: !cfg.IgnoreExpiration}
	var methods []string
	switch {
	case cfg.HMACSecret != "":
		v.key = []byte(cfg.HMACSecret)
		methods = []string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}
	case cfg.RSAPublicKeyFile != "":
		pem, err := os.ReadFile(cfg.RSAPublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read jwt public key: %w", err)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("parse jwt public key: %w", err)
		}
		v.key = key
		methods = []string{jwt.SigningMethodRS256.Alg(), jwt.SigningMethodRS384.Alg(), jwt.SigningMethodRS512.Alg()}
	default:
		return nil, errors.New("jwt: no verification key configured")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(methods)}
	if v.strict {
		if cfg.Issuer != "" {
			opts = append(opts, jwt.WithIssuer(cfg.Issuer))
		}
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	v.parser = jwt.NewParser(opts...)
	return v, nil
}

func (v *JWTVerifier) Verify(r *http.Request) (*Claims, error) {
	raw, ok := GetBearer(r)
	if !ok {
		return nil, ErrUnauthenticated
	}
	var claims jwt.RegisteredClaims
	token, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	// claims validation is off when expiration is ignored, the issuer still
	// has to match
	if !v.strict && v.issuer != "" && claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrUnauthenticated, claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}

	result := &Claims{UID: claims.Subject, Issuer: claims.Issuer, Method: "jwt"}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		result.ExpiresAt = &exp
	}
	return result, nil
}
