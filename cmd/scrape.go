package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/da-ingest/internal/fetcher"
	"github.com/sells-group/da-ingest/internal/model"
	"github.com/sells-group/da-ingest/internal/monitoring"
	"github.com/sells-group/da-ingest/internal/normalize"
	"github.com/sells-group/da-ingest/internal/pipeline"
)

var (
	scrapeFrom   string
	scrapeTo     string
	scrapeRanges []string
	scrapeFresh  bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Ingest applications lodged within one or more date ranges",
	Long: `Fetches every results page for each date range, normalizes the applications
and commits them page by page. An interrupted range resumes from its last
committed page on the next scrape unless --fresh is given.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("scrape"); err != nil {
			return err
		}

		ranges, err := resolveRanges(scrapeRanges, scrapeFrom, scrapeTo)
		if err != nil {
			return err
		}
		runCfgs := make([]model.RunConfig, 0, len(ranges))
		for _, dr := range ranges {
			rc, err := cfg.RunConfig(dr, scrapeFresh)
			if err != nil {
				return err
			}
			runCfgs = append(runCfgs, rc)
		}

		vocab, err := normalize.LoadVocabulary(cfg.Normalize.VocabularyFile)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		build := func(model.RunConfig) (*pipeline.Orchestrator, error) {
			f := fetcher.NewHTTPFetcher(cfg.PortalOptions(), cfg.HTTPOptions())
			return pipeline.New(f, st, pipeline.WithVocabulary(vocab)), nil
		}

		reports, runErr := pipeline.RunAll(ctx, runCfgs, cfg.Run.MaxConcurrentRanges, build)
		formatReports(os.Stdout, reports)

		if cfg.Monitoring.WebhookURL != "" {
			monitoring.NewChecker(st, cfg.Monitoring).Check(context.WithoutCancel(ctx))
		}
		if runErr != nil {
			zap.L().Error("scrape finished with failures", zap.Error(runErr))
			return eris.Wrap(runErr, "scrape")
		}
		return nil
	},
}

// resolveRanges picks the ranges to scrape: every --range, else --from/--to,
// else run.date_start/run.date_end from config.
func resolveRanges(rangeFlags []string, from, to string) ([]model.DateRange, error) {
	if len(rangeFlags) > 0 {
		if from != "" || to != "" {
			return nil, eris.New("use either --range or --from/--to, not both")
		}
		out := make([]model.DateRange, 0, len(rangeFlags))
		for _, s := range rangeFlags {
			dr, err := model.ParseDateRange(s)
			if err != nil {
				return nil, eris.Wrapf(err, "--range %q", s)
			}
			out = append(out, dr)
		}
		return out, nil
	}

	if from != "" || to != "" {
		start, err := model.ParseDate(from)
		if err != nil {
			return nil, eris.Wrap(err, "--from")
		}
		end, err := model.ParseDate(to)
		if err != nil {
			return nil, eris.Wrap(err, "--to")
		}
		dr := model.DateRange{Start: start, End: end}
		if err := dr.Validate(); err != nil {
			return nil, err
		}
		return []model.DateRange{dr}, nil
	}

	if cfg != nil {
		dr, ok, err := cfg.DefaultRange()
		if err != nil {
			return nil, err
		}
		if ok {
			return []model.DateRange{dr}, nil
		}
	}
	return nil, eris.New("no date range: pass --from and --to, --range, or set run.date_start and run.date_end")
}

// formatReports writes one line per range run. A nil report marks a range
// that never started.
func formatReports(out io.Writer, reports []*model.RunReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANGE\tRUN\tPAGES\tWRITTEN\tREJECTED\tIN_STORE\tRESULT")
	_, _ = fmt.Fprintln(w, "-----\t---\t-----\t-------\t--------\t--------\t------")
	for _, r := range reports {
		if r == nil {
			_, _ = fmt.Fprintln(w, "-\t-\t-\t-\t-\t-\tnot started")
			continue
		}
		s := r.Statistics
		if s == nil {
			s = &model.RunStatistics{}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.Range,
			truncateID(r.RunID),
			s.PagesFetched,
			s.RecordsWritten,
			s.TotalRejected(),
			s.TotalInStore,
			r.Summary(),
		)
	}
	_ = w.Flush()
}

func init() {
	scrapeCmd.Flags().StringVar(&scrapeFrom, "from", "", "first lodgement date, YYYY-MM-DD")
	scrapeCmd.Flags().StringVar(&scrapeTo, "to", "", "last lodgement date, YYYY-MM-DD")
	scrapeCmd.Flags().StringArrayVar(&scrapeRanges, "range", nil, "date range YYYY-MM-DD..YYYY-MM-DD (repeatable)")
	scrapeCmd.Flags().BoolVar(&scrapeFresh, "fresh", false, "discard any checkpoint and start from page 1")
	rootCmd.AddCommand(scrapeCmd)
}
