package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/osvaldoandrade/netdemo/pkg/auth"
	"github.com/osvaldoandrade/netdemo/pkg/auth/hs256"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

// tokenCmd mints a bearer token for servers running the jwt auth provider.
func tokenCmd(ui *ui) *cobra.Command {
	var (
		subject  string
		issuer   string
		audience string
		ttl      time.Duration
		admin    bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 token (reads JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if len(secret) < hs256.MinSecretLength {
				return fmt.Errorf("JWT_SECRET must be at least %d bytes", hs256.MinSecretLength)
			}
			if strings.TrimSpace(subject) == "" {
				return errors.New("subject is required")
			}
			now := time.Now()
			claims := jwt.MapClaims{
				"sub": subject,
				"iat": now.Unix(),
				"exp": now.Add(ttl).Unix(),
			}
			if issuer != "" {
				claims["iss"] = issuer
			}
			if audience != "" {
				claims["aud"] = audience
			}
			if admin {
				claims["scope"] = auth.ScopeAdmin
			}
			tok, err := hs256.Sign(secret, claims)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, ui.dim(fmt.Sprintf("expires %s", now.Add(ttl).Format(time.RFC3339))))
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", os.Getenv("USER"), "Token subject")
	cmd.Flags().StringVar(&issuer, "issuer", "", "Issuer claim")
	cmd.Flags().StringVar(&audience, "audience", "netdemo", "Audience claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant the admin scope")
	return cmd
}
