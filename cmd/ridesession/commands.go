package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/go-ride-session/internal/config"
	"github.com/spf13/cobra"
)

type cli struct {
	cfg config.Config
	app *app
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ridesession",
		Short:         "Sign in to the ride app with Strava and call its API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c.app != nil {
				return nil
			}
			a, err := newApp(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
	}

	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		c.loginCmd(),
		c.logoutCmd(),
		c.statusCmd(),
		c.whoamiCmd(),
		c.getCmd(),
		c.redirectCmd(),
	)
	return root
}

func (c *cli) close(ctx context.Context) error {
	if c.app == nil {
		return nil
	}
	return c.app.close(ctx)
}

func (c *cli) loginCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "login",
		Args:  cobra.NoArgs,
		Short: "Sign in with Strava",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if !force && c.app.sessions.IsAuthenticated(ctx) {
				fmt.Fprintln(cmd.OutOrStdout(), "Already signed in. Use --force to sign in again.")
				return nil
			}

			displayAppname(c.cfg.GetAppName())
			fmt.Fprintln(cmd.OutOrStdout(), "Complete the sign in in your browser. Press Ctrl-C to give up.")
			if err := c.app.login.LoginErr(ctx); err != nil {
				return fmt.Errorf("sign in failed: %w", err)
			}
			return printWho(cmd, c.app)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "sign in even when a session exists")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Args:  cobra.NoArgs,
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.app.sessions.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	var refreshNow bool
	cmd := &cobra.Command{
		Use:   "status",
		Args:  cobra.NoArgs,
		Short: "Show whether a usable session is stored",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if refreshNow {
				if err := c.app.refresher.RefreshErr(ctx); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "refresh failed: %v\n", err)
				}
			}

			state := c.app.sessions.Snapshot(ctx)
			now := c.app.sessions.Now()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "authenticated:  %t\n", state.IsAuthenticated(now))
			fmt.Fprintf(out, "access token:   %s\n", describeExpiry(state.Credentials.AccessToken, state.Credentials.ExpiresAt, now))
			fmt.Fprintf(out, "refresh token:  %t\n", state.Credentials.RefreshToken != "")
			return nil
		},
	}
	cmd.Flags().BoolVar(&refreshNow, "refresh", false, "refresh the access token first")
	return cmd
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Args:  cobra.NoArgs,
		Short: "Show the signed in athlete",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printWho(cmd, c.app)
		},
	}
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get <path>",
		Args:    cobra.ExactArgs(1),
		Short:   "GET an API path with the session's credentials",
		Example: "  ridesession get /user/profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			var body json.RawMessage
			if err := c.app.client.GetJSON(cmd.Context(), args[0], &body); err != nil {
				return err
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, body, "", "  "); err != nil {
				pretty.Reset()
				pretty.Write(body)
			}
			fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
			return nil
		},
	}
}

func (c *cli) redirectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redirect <url>",
		Args:  cobra.ExactArgs(1),
		Short: "Finish a sign in from an app-scheme redirect URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.app.login.HandleRedirect(cmd.Context(), args[0]) {
				return errors.New("redirect did not complete a sign in")
			}
			return printWho(cmd, c.app)
		},
	}
}

func printWho(cmd *cobra.Command, a *app) error {
	ctx := cmd.Context()
	if !a.sessions.IsAuthenticated(ctx) {
		fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
		return nil
	}
	profile := a.sessions.CurrentUser(ctx)
	if len(profile) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Signed in (no profile stored).")
		return nil
	}
	summary, err := profile.Summary()
	if err != nil {
		return fmt.Errorf("reading stored profile: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", summary.DisplayName())
	return nil
}

func describeExpiry(token string, expiresAt, now time.Time) string {
	switch {
	case token == "":
		return "none"
	case expiresAt.IsZero():
		return "present, no expiry"
	case expiresAt.After(now):
		return fmt.Sprintf("valid for %s", expiresAt.Sub(now).Round(time.Second))
	}
	return fmt.Sprintf("expired %s ago", now.Sub(expiresAt).Round(time.Second))
}
