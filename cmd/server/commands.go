package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rpattn/fleetquery/internal/domain"
	"github.com/rpattn/fleetquery/internal/export"
	"github.com/rpattn/fleetquery/internal/reports"
)

// parameterFlags binds the template parameter bag to command flags.
type parameterFlags struct {
	entity     string
	year       int
	period     int
	monthsBack int
	cutoffDate string
}

func (p *parameterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.entity, "entity", "", "entity code")
	cmd.Flags().IntVar(&p.year, "year", 0, "fiscal year")
	cmd.Flags().IntVar(&p.period, "period", 0, "period (month)")
	cmd.Flags().IntVar(&p.monthsBack, "months-back", 0, "months back for saldo_anterior")
	cmd.Flags().StringVar(&p.cutoffDate, "cutoff-date", "", "cutoff date (YYYY-MM-DD)")
}

func (p *parameterFlags) params(cmd *cobra.Command) domain.TemplateParameters {
	params := domain.TemplateParameters{Entity: p.entity, CutoffDate: p.cutoffDate}
	if cmd.Flags().Changed("year") {
		params.Year = &p.year
	}
	if cmd.Flags().Changed("period") {
		params.Period = &p.period
	}
	if cmd.Flags().Changed("months-back") {
		params.MonthsBack = &p.monthsBack
	}
	return params
}

func newQueryCmd(configPath *string) *cobra.Command {
	var (
		servers  []string
		template string
		database string
		params   parameterFlags
	)
	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Run one statement or template across the fleet and print CSV",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			a, err := newApp(ctx, *configPath, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			req := domain.MultiServerQueryRequest{
				Template:   template,
				Parameters: params.params(cmd),
				Database:   database,
				Servers:    servers,
			}
			if len(args) == 1 {
				req.Query = args[0]
			}
			plan, err := a.orch.PlanMulti(req)
			if err != nil {
				return err
			}
			response, err := a.orch.Execute(ctx, plan)
			if err != nil {
				return err
			}
			for _, e := range response.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", e.Server, e.Error)
			}
			data, err := export.CSV(response.Results)
			if err != nil {
				return err
			}
			if _, err := cmd.OutOrStdout().Write(data); err != nil {
				return err
			}
			if response.Status == domain.ExecutionStateError || response.Status == domain.ExecutionStateCancelled {
				return fmt.Errorf("request %s finished with status %s", response.RequestID, response.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&servers, "server", nil, "target server (repeatable, default: whole fleet)")
	cmd.Flags().StringVar(&template, "template", "", "multi-server report id to use as the statement")
	cmd.Flags().StringVar(&database, "database", "", "database name (default: server default)")
	params.register(cmd)
	return cmd
}

func newReportsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List the report catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMODE\tPARAMETERS\tDESCRIPTION")
			for _, def := range a.reports.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", def.ID, def.Mode, requiredParameters(def.RequiresEntity, def.RequiresYear, def.RequiresPeriod), def.Description)
			}
			return w.Flush()
		},
	}
	cmd.AddCommand(newReportsRunCmd(configPath))
	return cmd
}

func newReportsRunCmd(configPath *string) *cobra.Command {
	var (
		servers []string
		upload  bool
		format  string
		params  parameterFlags
	)
	cmd := &cobra.Command{
		Use:   "run REPORT",
		Short: "Run one catalog report and print the formatted rows as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			a, err := newApp(ctx, *configPath, appOptions{withUploads: upload})
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.reports.Run(ctx, reports.Request{
				Report:     args[0],
				Parameters: params.params(cmd),
				Servers:    servers,
				Upload:     upload,
				Format:     format,
			})
			if err != nil {
				return err
			}
			for _, warning := range report.Warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), warning)
			}
			if report.UploadURL != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "uploaded to %s\n", report.UploadURL)
			}
			data, err := export.CSV(report.Data)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringSliceVar(&servers, "server", nil, "target server (repeatable, default: whole fleet)")
	cmd.Flags().BoolVar(&upload, "upload", false, "upload the result to the document store")
	cmd.Flags().StringVar(&format, "format", "xlsx", "upload format (csv or xlsx)")
	params.register(cmd)
	return cmd
}

func requiredParameters(entity, year, period bool) string {
	var names []string
	if entity {
		names = append(names, "entity")
	}
	if year {
		names = append(names, "year")
	}
	if period {
		names = append(names, "period")
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}
