// Command checkoutctl is the operator tool for the checkout service: it signs and verifies
// gateway webhooks, normalises order codes, issues development tokens and migrates the
// relational schema.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/imrishuroy/storefront-checkout/internal/auth"
	"github.com/imrishuroy/storefront-checkout/internal/config"
	"github.com/imrishuroy/storefront-checkout/internal/orders"
	"github.com/imrishuroy/storefront-checkout/internal/payments"
	"github.com/imrishuroy/storefront-checkout/internal/store/sqlstore"
)

var Version = "dev"

var errSignatureMismatch = errors.New("signature mismatch")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "checkoutctl",
		Short:         "Operator tooling for the storefront checkout service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(signWebhookCmd())
	rootCmd.AddCommand(verifyWebhookCmd())
	rootCmd.AddCommand(orderCodeCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(migrateCmd())
	return rootCmd
}

// envViper resolves a command's flags, falling back to the service's environment
// variables (GATEWAY_CHECKSUM_KEY, AUTH_JWT_SECRET, MYSQL_DSN).
func envViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func signWebhookCmd() *cobra.Command {
	v := envViper()
	cmd := &cobra.Command{
		Use:   "sign-webhook [file]",
		Short: "Wrap a webhook data object in a signed envelope",
		Long: `Reads the webhook "data" object as JSON from file (or stdin when omitted or "-")
and prints the full webhook body with its signature, ready to POST to /payments/webhook.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := checksumKey(v)
			if err != nil {
				return err
			}
			raw, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			data, err := payments.DecodeWebhookData(raw)
			if err != nil {
				return err
			}

			code, _ := cmd.Flags().GetString("code")
			desc, _ := cmd.Flags().GetString("desc")
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(payments.Webhook{
				Code:      code,
				Desc:      desc,
				Data:      data,
				Signature: payments.SignWebhookData(key, data),
			})
		},
	}
	cmd.Flags().String("key", "", "Checksum key (default $GATEWAY_CHECKSUM_KEY)")
	cmd.Flags().String("code", "00", "Envelope code")
	cmd.Flags().String("desc", "success", "Envelope description")
	_ = v.BindPFlag("gateway.checksum_key", cmd.Flags().Lookup("key"))
	return cmd
}

func verifyWebhookCmd() *cobra.Command {
	v := envViper()
	cmd := &cobra.Command{
		Use:   "verify-webhook [file]",
		Short: "Check the signature of a captured webhook body",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := checksumKey(v)
			if err != nil {
				return err
			}
			raw, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			hook, err := payments.ParseWebhook(raw)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if show, _ := cmd.Flags().GetBool("show-string"); show {
				fmt.Fprintf(out, "signing string: %s\n", payments.WebhookSigningString(hook.Data))
			}
			if !payments.VerifyWebhookData(key, hook.Data, hook.Signature) {
				fmt.Fprintf(out, "expected:       %s\n", payments.SignWebhookData(key, hook.Data))
				return errSignatureMismatch
			}
			f := hook.Fields()
			fmt.Fprintf(out, "signature OK: orderCode=%s status=%s success=%t\n", f.OrderCode, f.Status, hook.Succeeded())
			return nil
		},
	}
	cmd.Flags().String("key", "", "Checksum key (default $GATEWAY_CHECKSUM_KEY)")
	cmd.Flags().Bool("show-string", false, "Print the canonical signing string")
	_ = v.BindPFlag("gateway.checksum_key", cmd.Flags().Lookup("key"))
	return cmd
}

func orderCodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order-code [code]",
		Short: "Normalise an order code and show the numeric id sent to the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			canonical, err := orders.CanonicalCode(args[0])
			if err != nil {
				return err
			}
			numeric, _ := orders.NumericCode(canonical)
			fmt.Fprintf(cmd.OutOrStdout(), "canonical=%s numeric=%d\n", canonical, numeric)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	v := envViper()
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Issue a session token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := v.GetString("auth.jwt_secret")
			if secret == "" {
				return errors.New("jwt secret required: pass --secret or set AUTH_JWT_SECRET")
			}
			email, _ := cmd.Flags().GetString("email")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			token, err := auth.NewVerifier(secret, v.GetString("auth.issuer")).Issue(args[0], email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("secret", "", "Signing secret (default $AUTH_JWT_SECRET)")
	cmd.Flags().String("issuer", "", "Token issuer (default $AUTH_ISSUER)")
	cmd.Flags().String("email", "", "Email claim")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	_ = v.BindPFlag("auth.jwt_secret", cmd.Flags().Lookup("secret"))
	_ = v.BindPFlag("auth.issuer", cmd.Flags().Lookup("issuer"))
	return cmd
}

func migrateCmd() *cobra.Command {
	v := envViper()
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the MySQL schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn := v.GetString("mysql.dsn")
			if dsn == "" {
				return errors.New("mysql dsn required: pass --dsn or set MYSQL_DSN")
			}
			st, err := sqlstore.Open(config.MySQLConfig{DSN: dsn})
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			if err := st.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
	cmd.Flags().String("dsn", "", "MySQL DSN (default $MYSQL_DSN)")
	_ = v.BindPFlag("mysql.dsn", cmd.Flags().Lookup("dsn"))
	return cmd
}

func checksumKey(v *viper.Viper) (string, error) {
	key := v.GetString("gateway.checksum_key")
	if key == "" {
		return "", errors.New("checksum key required: pass --key or set GATEWAY_CHECKSUM_KEY")
	}
	return key, nil
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}
