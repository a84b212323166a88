package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/osvaldoandrade/netdemo/pkg/auth"
	_ "github.com/osvaldoandrade/netdemo/pkg/auth/hs256" // registers "jwt"
	_ "github.com/osvaldoandrade/netdemo/pkg/auth/static"
	"github.com/osvaldoandrade/netdemo/pkg/config"

	"github.com/gin-gonic/gin"
)

const (
	ctxClaims  = "userClaims"
	ctxSubject = "userSubject"
)

// NewValidator builds the bearer validator for cfg.Auth. Provider "none"
// yields a nil validator: every request is treated as the dev operator.
func NewValidator(cfg *config.Config) (auth.Validator, error) {
	var (
		provider string
		raw      any
	)
	switch strings.ToLower(cfg.Auth.Provider) {
	case "", "none":
		return nil, nil
	case "static":
		provider = "static"
		raw = map[string]any{
			"token":   cfg.Auth.Token,
			"subject": "operator",
			"scopes":  []string{auth.ScopeAdmin},
		}
	case "jwt":
		provider = "jwt"
		raw = map[string]any{
			"secret":    cfg.Auth.JWTSecret,
			"issuer":    cfg.Auth.JWTIssuer,
			"audience":  cfg.Auth.JWTAudience,
			"clockSkew": 30 * time.Second,
		}
	default:
		return nil, fmt.Errorf("unknown auth provider %q", cfg.Auth.Provider)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return auth.NewValidator(auth.ProviderConfig{Type: provider, Config: b})
}

func AuthMiddleware(validator auth.Validator) gin.HandlerFunc {
	anonymous := &auth.Claims{Subject: "anonymous", Scopes: []string{auth.ScopeAdmin}}
	return func(c *gin.Context) {
		if validator == nil {
			setClaims(c, anonymous)
			c.Next()
			return
		}
		claims, err := validateBearer(validator, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		setClaims(c, claims)
		c.Next()
	}
}

// RequireScope rejects callers whose claims lack scope. It must run after
// AuthMiddleware.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, _ := c.Get(ctxClaims)
		if claims, _ := v.(*auth.Claims); !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing scope " + scope})
			return
		}
		c.Next()
	}
}

func validateBearer(validator auth.Validator, authHeader string) (*auth.Claims, error) {
	if strings.TrimSpace(authHeader) == "" {
		return nil, fmt.Errorf("missing Authorization header")
	}
	token := bearerToken(authHeader)
	if token == "" {
		return nil, fmt.Errorf("invalid Authorization format")
	}
	return validator.Validate(token)
}

func setClaims(c *gin.Context, claims *auth.Claims) {
	c.Set(ctxClaims, claims)
	c.Set(ctxSubject, strings.TrimSpace(claims.Subject))
}
