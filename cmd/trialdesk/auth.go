package main

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newLoginCmd(a *app) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store a session",
		Long: `Log in with a username and password. The password is taken from
TRIALDESK_PASSWORD or read from stdin; it is never a flag, so it stays
out of the process list and shell history.

Examples:
  trialdesk login --username agronomist
  echo "$PASS" | trialdesk login -u agronomist`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				username = a.cfg.Username
			}
			password := a.cfg.Password

			if username == "" {
				return fmt.Errorf("--username or TRIALDESK_USERNAME is required")
			}

			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if !scanner.Scan() {
					return fmt.Errorf("no password given")
				}
				password = strings.TrimRight(scanner.Text(), "\r")
			}

			gw, err := a.gateway()
			if err != nil {
				return err
			}

			if _, err := gw.Login(cmd.Context(), username, password); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", username)

			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "username (default $TRIALDESK_USERNAME)")

	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.gateway()
			if err != nil {
				return err
			}

			if err := gw.Logout(); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")

			return nil
		},
	}
}

// sessionStatus is what `trialdesk status` reports.
type sessionStatus struct {
	APIURL    string `json:"api_url"`
	StatePath string `json:"state_path"`
	LoggedIn  bool   `json:"logged_in"`
	User      string `json:"user,omitempty"`
	ExpiresAt string `json:"access_expires_at,omitempty"`
	Expired   bool   `json:"access_expired"`
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the configured API and whether a session is stored",
		Long: `Show the configured API URL and the stored session. This makes no API
call; an expired access token is refreshed on the next command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.gateway()
			if err != nil {
				return err
			}

			st := sessionStatus{
				APIURL:    a.cfg.APIURL,
				StatePath: a.cfg.StatePath,
				LoggedIn:  gw.Authenticated(),
			}

			if info, ok := gw.AccessTokenInfo(); ok {
				st.User = info.Subject
				if !info.ExpiresAt.IsZero() {
					st.ExpiresAt = info.ExpiresAt.Format(time.RFC3339)
				}
				st.Expired = info.Expired(time.Now())
			}

			return a.print(cmd, st)
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.client()
			if err != nil {
				return err
			}

			me, err := api.Users.Me(cmd.Context())
			if err != nil {
				return err
			}

			return a.print(cmd, me)
		},
	}
}
