package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alexjbarnes/trialdesk/internal/models"
	"github.com/alexjbarnes/trialdesk/internal/render"
	"github.com/alexjbarnes/trialdesk/internal/trials"
	"github.com/spf13/cobra"
)

// listCmd runs fn and prints its result.
func listCmd[T any](a *app, use, short string, fn func(context.Context, *trials.Client) (T, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.client()
			if err != nil {
				return err
			}

			v, err := fn(cmd.Context(), api)
			if err != nil {
				return err
			}

			return a.print(cmd, v)
		},
	}
}

// argCmd runs fn with the command's single argument and prints the
// result.
func argCmd[T any](a *app, use, short string, fn func(context.Context, *trials.Client, string) (T, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.client()
			if err != nil {
				return err
			}

			v, err := fn(cmd.Context(), api, args[0])
			if err != nil {
				return err
			}

			return a.print(cmd, v)
		},
	}
}

func deleteCmd(a *app, noun string, fn func(context.Context, *trials.Client, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a " + noun,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.client()
			if err != nil {
				return err
			}

			if err := fn(cmd.Context(), api, args[0]); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %s\n", noun, args[0])

			return nil
		},
	}
}

// createCmd posts a JSON document read from --file or stdin.
func createCmd[T any](a *app, noun string, fn func(context.Context, *trials.Client, json.RawMessage) (T, error)) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a " + noun + " from a JSON document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, file)
			if err != nil {
				return err
			}

			api, err := a.client()
			if err != nil {
				return err
			}

			v, err := fn(cmd.Context(), api, doc)
			if err != nil {
				return err
			}

			return a.print(cmd, v)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON document to send (default stdin)")

	return cmd
}

// updateCmd replaces a record with a JSON document read from --file or
// stdin.
func updateCmd[T any](a *app, noun string, fn func(context.Context, *trials.Client, string, json.RawMessage) (T, error)) *cobra.Command {
	return docCmd(a, "update <id>", "Replace a "+noun+" with a JSON document", fn)
}

// docCmd runs fn with the command's single argument and a JSON document
// read from --file or stdin.
func docCmd[T any](a *app, use, short string, fn func(context.Context, *trials.Client, string, json.RawMessage) (T, error)) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, file)
			if err != nil {
				return err
			}

			api, err := a.client()
			if err != nil {
				return err
			}

			v, err := fn(cmd.Context(), api, args[0], doc)
			if err != nil {
				return err
			}

			return a.print(cmd, v)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON document to send (default stdin)")

	return cmd
}

func newSeedsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seeds",
		Short: "Seed varieties",
	}

	cmd.AddCommand(
		listCmd(a, "list", "List seeds", func(ctx context.Context, api *trials.Client) ([]models.Seed, error) {
			return api.Seeds.List(ctx)
		}),
		argCmd(a, "get <id>", "Show a seed", func(ctx context.Context, api *trials.Client, id string) (models.Seed, error) {
			return api.Seeds.Get(ctx, id)
		}),
		argCmd(a, "search <query>", "Search seeds by name or variety", func(ctx context.Context, api *trials.Client, q string) ([]models.Seed, error) {
			return api.Seeds.Search(ctx, q)
		}),
		createCmd(a, "seed", func(ctx context.Context, api *trials.Client, doc json.RawMessage) (models.Seed, error) {
			return api.Seeds.Create(ctx, doc)
		}),
		updateCmd(a, "seed", func(ctx context.Context, api *trials.Client, id string, doc json.RawMessage) (models.Seed, error) {
			return api.Seeds.Update(ctx, id, doc)
		}),
		deleteCmd(a, "seed", func(ctx context.Context, api *trials.Client, id string) error {
			return api.Seeds.Delete(ctx, id)
		}),
		argCmd(a, "trials <id>", "List trials of a seed", func(ctx context.Context, api *trials.Client, id string) ([]models.Trial, error) {
			return api.Seeds.Trials(ctx, id)
		}),
		argCmd(a, "performance <id>", "Show a seed's trial performance", func(ctx context.Context, api *trials.Client, id string) (models.SeedPerformance, error) {
			return api.Seeds.Performance(ctx, id)
		}),
	)

	return cmd
}

func newPlotsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plots",
		Short: "Field plots",
	}

	cmd.AddCommand(
		listCmd(a, "list", "List plots", func(ctx context.Context, api *trials.Client) ([]models.Plot, error) {
			return api.Plots.List(ctx)
		}),
		argCmd(a, "get <id>", "Show a plot", func(ctx context.Context, api *trials.Client, id string) (models.Plot, error) {
			return api.Plots.Get(ctx, id)
		}),
		argCmd(a, "search <query>", "Search plots by name or location", func(ctx context.Context, api *trials.Client, q string) ([]models.Plot, error) {
			return api.Plots.Search(ctx, q)
		}),
		createCmd(a, "plot", func(ctx context.Context, api *trials.Client, doc json.RawMessage) (models.Plot, error) {
			return api.Plots.Create(ctx, doc)
		}),
		updateCmd(a, "plot", func(ctx context.Context, api *trials.Client, id string, doc json.RawMessage) (models.Plot, error) {
			return api.Plots.Update(ctx, id, doc)
		}),
		deleteCmd(a, "plot", func(ctx context.Context, api *trials.Client, id string) error {
			return api.Plots.Delete(ctx, id)
		}),
		argCmd(a, "active-trials <id>", "List trials on a plot that have not ended", func(ctx context.Context, api *trials.Client, id string) ([]models.Trial, error) {
			return api.Plots.ActiveTrials(ctx, id)
		}),
		argCmd(a, "incidents <id>", "List incidents on a plot", func(ctx context.Context, api *trials.Client, id string) ([]models.Incident, error) {
			return api.Plots.Incidents(ctx, id)
		}),
	)

	return cmd
}

func addTrialFilterFlags(cmd *cobra.Command, f *trials.TrialFilter) {
	cmd.Flags().StringVar(&f.StartDate, "start-date", "", "earliest observation date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.EndDate, "end-date", "", "latest observation date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.Date, "date", "", "exact observation date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.PlotID, "plot", "", "plot id")
	cmd.Flags().StringVar(&f.PlotLocation, "location", "", "plot location")
	cmd.Flags().StringVar(&f.CropName, "crop", "", "crop (seed) name")
	cmd.Flags().StringVar(&f.Collector, "collector", "", "data collector")
}

func filteredTrialCmd[T any](a *app, use, short string, fn func(context.Context, *trials.Client, trials.TrialFilter) (T, error)) *cobra.Command {
	var filter trials.TrialFilter

	cmd := listCmd(a, use, short, func(ctx context.Context, api *trials.Client) (T, error) {
		return fn(ctx, api, filter)
	})
	addTrialFilterFlags(cmd, &filter)

	return cmd
}

func newTrialsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trials",
		Short: "Seed trials",
	}

	cmd.AddCommand(
		filteredTrialCmd(a, "list", "List trials", func(ctx context.Context, api *trials.Client, f trials.TrialFilter) ([]models.Trial, error) {
			return api.Trials.List(ctx, f)
		}),
		filteredTrialCmd(a, "search", "Search trials", func(ctx context.Context, api *trials.Client, f trials.TrialFilter) ([]models.Trial, error) {
			return api.Trials.Search(ctx, f)
		}),
		filteredTrialCmd(a, "summary", "Count trials by crop, location and collector", func(ctx context.Context, api *trials.Client, f trials.TrialFilter) (models.TrialSummary, error) {
			return api.Trials.Summary(ctx, f)
		}),
		argCmd(a, "get <id>", "Show a trial", func(ctx context.Context, api *trials.Client, id string) (models.Trial, error) {
			return api.Trials.Get(ctx, id)
		}),
		createCmd(a, "trial", func(ctx context.Context, api *trials.Client, doc json.RawMessage) (models.Trial, error) {
			return api.Trials.Create(ctx, doc)
		}),
		updateCmd(a, "trial", func(ctx context.Context, api *trials.Client, id string, doc json.RawMessage) (models.Trial, error) {
			return api.Trials.Update(ctx, id, doc)
		}),
		deleteCmd(a, "trial", func(ctx context.Context, api *trials.Client, id string) error {
			return api.Trials.Delete(ctx, id)
		}),
		argCmd(a, "plots <id>", "List the plots of a trial", func(ctx context.Context, api *trials.Client, id string) ([]models.Plot, error) {
			return api.Trials.Plots(ctx, id)
		}),
		argCmd(a, "seeds <id>", "List the seeds of a trial", func(ctx context.Context, api *trials.Client, id string) ([]models.Seed, error) {
			return api.Trials.Seeds(ctx, id)
		}),
		argCmd(a, "incidents <id>", "List incidents of a trial", func(ctx context.Context, api *trials.Client, id string) ([]models.Incident, error) {
			return api.Trials.Incidents(ctx, id)
		}),
		docCmd(a, "add-incident <id>", "Report an incident on a trial from a JSON document", func(ctx context.Context, api *trials.Client, id string, doc json.RawMessage) (models.Incident, error) {
			in, err := decodeIncident(doc)
			if err != nil {
				return models.Incident{}, err
			}
			return api.Trials.AddIncident(ctx, id, in)
		}),
	)

	return cmd
}

func decodeIncident(doc json.RawMessage) (models.IncidentInput, error) {
	var in models.IncidentInput
	if err := json.Unmarshal(doc, &in); err != nil {
		return models.IncidentInput{}, fmt.Errorf("decoding incident: %w", err)
	}

	return in, nil
}

func newIncidentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "Plot incidents",
	}

	var filter trials.IncidentFilter

	list := listCmd(a, "list", "List incidents", func(ctx context.Context, api *trials.Client) ([]models.Incident, error) {
		return api.Incidents.List(ctx, filter)
	})
	list.Flags().StringVar((*string)(&filter.Type), "type", "", "severity: low, medium or high")
	list.Flags().StringVar(&filter.StartDate, "start-date", "", "earliest incident date (YYYY-MM-DD)")
	list.Flags().StringVar(&filter.EndDate, "end-date", "", "latest incident date (YYYY-MM-DD)")

	cmd.AddCommand(
		list,
		argCmd(a, "get <id>", "Show an incident", func(ctx context.Context, api *trials.Client, id string) (models.Incident, error) {
			return api.Incidents.Get(ctx, id)
		}),
		createCmd(a, "incident", func(ctx context.Context, api *trials.Client, doc json.RawMessage) (models.Incident, error) {
			in, err := decodeIncident(doc)
			if err != nil {
				return models.Incident{}, err
			}
			return api.Incidents.Create(ctx, in)
		}),
		newIncidentUpdateCmd(a),
		deleteCmd(a, "incident", func(ctx context.Context, api *trials.Client, id string) error {
			return api.Incidents.Delete(ctx, id)
		}),
		listCmd(a, "summary", "Count incidents by severity", func(ctx context.Context, api *trials.Client) (models.IncidentSummary, error) {
			return api.Incidents.Summary(ctx)
		}),
	)

	return cmd
}

// newIncidentUpdateCmd replaces an incident and, for table output, shows
// a diff of what changed before the updated record.
func newIncidentUpdateCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace an incident with a JSON document and show the change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, file)
			if err != nil {
				return err
			}

			in, err := decodeIncident(doc)
			if err != nil {
				return err
			}

			api, err := a.client()
			if err != nil {
				return err
			}

			before, err := api.Incidents.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			after, err := api.Incidents.Update(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}

			if a.format == render.Table {
				diff, err := render.Diff(before, after)
				if err != nil {
					return err
				}

				if diff == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "No changes")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), diff)
				}
			}

			return a.print(cmd, after)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON document to send (default stdin)")

	return cmd
}
