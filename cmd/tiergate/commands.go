package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pinkybot/tiergate/internal/app"
	"github.com/pinkybot/tiergate/internal/config"
	"github.com/pinkybot/tiergate/internal/dashboard"
	"github.com/pinkybot/tiergate/internal/gate"
	"github.com/pinkybot/tiergate/internal/license"
	"github.com/pinkybot/tiergate/internal/logging"
	"github.com/pinkybot/tiergate/internal/store"
	"github.com/pinkybot/tiergate/internal/terminal"
	"github.com/pinkybot/tiergate/pkg/licensing"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var readPassword = term.ReadPassword

// loadConfig reads configuration and initializes logging on stderr.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "tiergate",
		Output:    cmd.ErrOrStderr(),
	})
	return cfg, nil
}

// openApp builds the services for a one-shot command. Presenter output is
// printed to the command's stdout.
func openApp(cmd *cobra.Command) (*app.App, *terminal.Printer, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	printer := terminal.NewPrinter(cmd.OutOrStdout())
	a, err := app.New(cfg, Version, printer)
	if err != nil {
		return nil, nil, err
	}
	return a, printer, nil
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close store")
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard server and tier resolver",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return dashboard.Run(cmd.Context(), cfg, Version)
}

func newStatusCmd() *cobra.Command {
	var asJSON, refresh bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current access tier",
		Long: `Show the last resolved access tier. With --refresh the license and the
subscription are checked first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, printer, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			decision := a.Resolver.Current()
			if refresh {
				decision = a.Resolver.RefreshNow(cmd.Context())
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), decision)
			}
			fmt.Fprintln(cmd.OutOrStdout(), printer.RenderDecision(decision, a.Resolver.LastResolvedAt()))
			if key, err := a.License.StoredKey(); err == nil && key != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "License key: %s\n", key)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the decision as JSON")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "resolve before printing")
	return cmd
}

func newFeaturesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "features",
		Short: "List features and whether the applied tier unlocks them",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, printer, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			snap := a.Gate.Snapshot()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), snap)
			}
			fmt.Fprintln(cmd.OutOrStdout(), printer.RenderFeatures(snap))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the feature states as JSON")
	return cmd
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Re-check the license and subscription now",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, printer, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			decision := a.Resolver.RefreshNow(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), printer.RenderDecision(decision, a.Resolver.LastResolvedAt()))
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Resolve on schedule and print tier changes and warnings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, printer, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			unsubscribe := a.Gate.Subscribe(func(change gate.TierChange) {
				fmt.Fprintf(out, "Tier changed: %s → %s\n",
					licensing.GetTierDisplayName(change.Previous),
					licensing.GetTierDisplayName(change.Current))
			})
			defer unsubscribe()

			if watcher, err := store.NewCredentialWatcher(a.State, a.Resolver.Refresh); err == nil {
				go func() {
					if err := watcher.Run(ctx); err != nil {
						log.Warn().Err(err).Msg("Credential watcher stopped")
					}
				}()
			}

			a.Resolver.Start(ctx)
			fmt.Fprintln(out, printer.RenderDecision(a.Resolver.Current(), a.Resolver.LastResolvedAt()))
			<-ctx.Done()
			return nil
		},
	}
}

// readLicenseKey takes the key from args, a terminal prompt or one line of
// stdin, in that order.
func readLicenseKey(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(args[0]), nil
	}
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "License key: ")
		raw, err := readPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read license key: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read license key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func newLicenseCmd() *cobra.Command {
	licenseCmd := &cobra.Command{
		Use:   "license",
		Short: "Manage the self-hosted license key",
	}

	activateCmd := &cobra.Command{
		Use:   "activate [key]",
		Short: "Activate a license key on this installation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := readLicenseKey(cmd, args)
			if err != nil {
				return err
			}
			a, printer, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			tier, err := a.License.Activate(cmd.Context(), key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Activated %s (%s)\n", license.MaskedKey(key), licensing.GetTierDisplayName(tier))
			decision := a.Resolver.RefreshNow(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), printer.RenderDecision(decision, a.Resolver.LastResolvedAt()))
			return nil
		},
	}

	deactivateCmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Release the stored license key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, printer, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			if err := a.License.Deactivate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "License deactivated")
			decision := a.Resolver.RefreshNow(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), printer.RenderDecision(decision, a.Resolver.LastResolvedAt()))
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate [key]",
		Short: "Check a license key without activating it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := readLicenseKey(cmd, args)
			if err != nil {
				return err
			}
			a, _, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			result, err := a.License.Validate(cmd.Context(), key)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !result.Valid {
				reason := result.Error
				if reason == "" {
					reason = "rejected by the license server"
				}
				fmt.Fprintf(out, "%s is not valid: %s\n", license.MaskedKey(key), reason)
				return nil
			}
			fmt.Fprintf(out, "%s is valid for %s\n", license.MaskedKey(key), licensing.GetTierDisplayName(result.Tier))
			if result.ExpiresAt != nil {
				fmt.Fprintf(out, "Expires: %s\n", result.ExpiresAt.Local().Format("2006-01-02"))
			}
			return nil
		},
	}

	licenseCmd.AddCommand(activateCmd, deactivateCmd, validateCmd)
	return licenseCmd
}

func newBillingCmd() *cobra.Command {
	billingCmd := &cobra.Command{
		Use:   "billing",
		Short: "Manage the Stripe subscription",
	}

	var tierFlag, email string
	checkoutCmd := &cobra.Command{
		Use:   "checkout",
		Short: "Start a checkout session and print its URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, ok := licensing.ParseTier(tierFlag)
			if !ok {
				return fmt.Errorf("unknown tier %q", tierFlag)
			}
			a, _, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			session, err := a.Subscription.StartCheckout(cmd.Context(), tier, email)
			if err != nil {
				return err
			}
			target := session.URL
			if target == "" {
				target = a.UpgradeURL("")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checkout session %s\nOpen %s to finish\n", session.SessionID, target)
			return nil
		},
	}
	checkoutCmd.Flags().StringVar(&tierFlag, "tier", string(licensing.TierPro), "tier to purchase (pro or enterprise)")
	checkoutCmd.Flags().StringVar(&email, "email", "", "billing email")

	completeCmd := &cobra.Command{
		Use:   "complete <customer-id>",
		Short: "Record the customer created by a finished checkout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, printer, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			if err := a.Subscription.CompleteCheckout(cmd.Context(), args[0]); err != nil {
				return err
			}
			decision := a.Resolver.RefreshNow(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), printer.RenderDecision(decision, a.Resolver.LastResolvedAt()))
			return nil
		},
	}

	var returnURL string
	portalCmd := &cobra.Command{
		Use:   "portal",
		Short: "Open a billing portal session and print its URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			if returnURL == "" {
				returnURL = a.Config.ReturnURL
			}
			portalURL, err := a.Subscription.OpenPortal(cmd.Context(), returnURL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), portalURL)
			return nil
		},
	}
	portalCmd.Flags().StringVar(&returnURL, "return-url", "", "where the portal sends the user back to")

	disconnectCmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Forget the stored Stripe customer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, printer, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			if err := a.Subscription.Disconnect(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Billing customer disconnected")
			decision := a.Resolver.RefreshNow(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), printer.RenderDecision(decision, a.Resolver.LastResolvedAt()))
			return nil
		},
	}

	billingCmd.AddCommand(checkoutCmd, completeCmd, portalCmd, disconnectCmd)
	return billingCmd
}
