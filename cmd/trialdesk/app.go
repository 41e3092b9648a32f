package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alexjbarnes/trialdesk/internal/config"
	"github.com/alexjbarnes/trialdesk/internal/gateway"
	"github.com/alexjbarnes/trialdesk/internal/logging"
	"github.com/alexjbarnes/trialdesk/internal/render"
	"github.com/alexjbarnes/trialdesk/internal/state"
	"github.com/alexjbarnes/trialdesk/internal/trials"
	"github.com/spf13/cobra"
)

// app carries what the commands share. The session store is opened on
// first use so that help and flag errors never touch it.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	format render.Format

	store *state.State
	gw    *gateway.Gateway
	api   *trials.Client
}

func newRootCmd(a *app) *cobra.Command {
	var output string

	root := &cobra.Command{
		Use:   "trialdesk",
		Short: "Work with the seed trials API",
		Long: `trialdesk talks to the seed trials API on behalf of a logged-in user.

Log in once with "trialdesk login"; the session is kept in
$TRIALDESK_STATE_PATH (default ~/.trialdesk/state.db) and access tokens
are refreshed automatically.

Examples:
  trialdesk login --username agronomist
  trialdesk dashboard
  trialdesk trials list --crop Maize --start-date 2026-01-01
  trialdesk incidents update 4 --file incident.json`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			format, err := render.ParseFormat(output)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			a.cfg = cfg
			a.format = format
			a.logger = logging.NewLogger(cfg.Environment, cfg.LogLevel)

			return nil
		},
	}

	root.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newStatusCmd(a),
		newWhoamiCmd(a),
		newDashboardCmd(a),
		newSeedsCmd(a),
		newPlotsCmd(a),
		newTrialsCmd(a),
		newIncidentsCmd(a),
		newMCPCmd(a),
	)

	return root
}

// gateway opens the session store and builds the gateway and resource
// client on first call.
func (a *app) gateway() (*gateway.Gateway, error) {
	if a.gw != nil {
		return a.gw, nil
	}

	st, err := state.Open(a.cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	a.logger.Debug("session store opened", slog.String("path", a.cfg.StatePath))

	a.store = st
	a.gw = gateway.New(gateway.Options{
		BaseURL:    a.cfg.APIURL,
		HTTPClient: gateway.NewHTTPClient(a.cfg.HTTPTimeout),
		Store:      st,
		Logger:     a.logger,
	})
	a.api = trials.New(a.gw)

	return a.gw, nil
}

func (a *app) client() (*trials.Client, error) {
	if _, err := a.gateway(); err != nil {
		return nil, err
	}

	return a.api, nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}

func (a *app) print(cmd *cobra.Command, v any) error {
	return render.Write(cmd.OutOrStdout(), a.format, v)
}

// readDocument reads a JSON document from path, or from stdin when path
// is empty or "-".
func readDocument(cmd *cobra.Command, path string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)

	if path == "" || path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}

	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}

	data = []byte(strings.TrimSpace(string(data)))
	if !json.Valid(data) {
		return nil, fmt.Errorf("document is not valid JSON")
	}

	return json.RawMessage(data), nil
}
