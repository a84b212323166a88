// Package hs256 validates HMAC-SHA256 signed JWTs against a shared secret.
// It registers itself as the "jwt" auth provider.
package hs256

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/osvaldoandrade/netdemo/pkg/auth"
)

// MinSecretLength rejects secrets too short for HS256.
const MinSecretLength = 16

type Config struct {
	Secret    string        `json:"secret"`
	Issuer    string        `json:"issuer,omitempty"`
	Audience  string        `json:"audience,omitempty"`
	ClockSkew time.Duration `json:"clockSkew,omitempty"`
}

type Validator struct {
	secret []byte
	parser *jwt.Parser
}

func NewValidator(cfg Config) (*Validator, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt auth: secret must be at least %d bytes", MinSecretLength)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.ClockSkew),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Validator{secret: []byte(cfg.Secret), parser: jwt.NewParser(opts...)}, nil
}

func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("jwt auth: invalid config: %w", err)
	}
	return NewValidator(cfg)
}

func (v *Validator) Validate(tokenString string) (*auth.Claims, error) {
	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	result := &auth.Claims{Raw: claims}
	result.Subject, _ = claims.GetSubject()
	result.Issuer, _ = claims.GetIssuer()
	if aud, err := claims.GetAudience(); err == nil {
		result.Audience = aud
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		result.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		result.IssuedAt = iat.Time
	}

	// "scope" is the OAuth space-separated form; "scopes" an array.
	if scope, ok := claims["scope"].(string); ok {
		result.Scopes = strings.Fields(scope)
	}
	if scopes, ok := claims["scopes"].([]interface{}); ok {
		for _, s := range scopes {
			if str, ok := s.(string); ok {
				result.Scopes = append(result.Scopes, str)
			}
		}
	}
	return result, nil
}

// Sign issues a token for subject; the CLI uses it to mint local tokens.
func Sign(secret string, claims jwt.MapClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func init() {
	auth.RegisterProvider("jwt", NewValidatorFromJSON)
}
