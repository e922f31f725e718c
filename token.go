package main

import (
	"fmt"
	"time"

	"PPresence/tools/errs"
	jwtlib "PPresence/tools/security"

	"github.com/spf13/cobra"
)

// buildTokenCmd mints a JWT for local testing and admin scripts.
func buildTokenCmd(flags *rootFlags) *cobra.Command {
	var (
		userID int64
		scopes []string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed token for a user",
		Example: `  ppresence token --user 42
  ppresence token --user 1 --scope admin --ttl 15m`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID <= 0 {
				return errs.ErrArgs.WrapMsg("--user is required")
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return errs.ErrArgs.WrapMsg("jwt.secret is empty")
			}
			opts := jwtlib.Options{Secret: []byte(cfg.JWT.Secret), Alg: cfg.JWT.Alg, TTL: cfg.JWT.TTL}
			if ttl > 0 {
				opts.TTL = ttl
			}
			tok, exp, err := jwtlib.Generate(opts, userID, scopes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintln(cmd.ErrOrStderr(), "expires", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id (token subject)")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "scopes, e.g. admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "override jwt.ttl")
	return cmd
}
