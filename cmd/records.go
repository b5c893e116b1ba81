package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/da-ingest/internal/export"
	"github.com/sells-group/da-ingest/internal/model"
	"github.com/sells-group/da-ingest/internal/normalize"
	"github.com/sells-group/da-ingest/internal/store"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Query, export and import stored applications",
}

// -- records list --

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored applications in first-seen order",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("query"); err != nil {
			return err
		}

		f, err := recordFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.List(ctx, f)
		if err != nil {
			return eris.Wrap(err, "records list")
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No records found.")
			return nil
		}

		formatRecordsList(os.Stdout, recs)
		return nil
	},
}

// -- records export --

var recordsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every stored application to CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("query"); err != nil {
			return err
		}

		output, _ := cmd.Flags().GetString("output")
		format, _ := cmd.Flags().GetString("format")
		format, err := exportFormat(format, output)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.GetAll(ctx)
		if err != nil && !errors.Is(err, store.ErrNoRun) {
			return eris.Wrap(err, "records export")
		}

		var w io.Writer = os.Stdout
		if output != "" && output != "-" {
			file, err := os.Create(output)
			if err != nil {
				return eris.Wrap(err, "records export: create output")
			}
			defer file.Close() //nolint:errcheck
			w = file
		}

		switch format {
		case "xlsx":
			err = export.WriteXLSX(w, recs)
		default:
			err = export.WriteCSV(w, recs)
		}
		if err != nil {
			return err
		}

		zap.L().Info("records exported",
			zap.Int("records", len(recs)),
			zap.String("format", format),
			zap.String("output", output),
		)
		return nil
	},
}

// -- records import --

var recordsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Upsert applications from a CSV or XLSX export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("query"); err != nil {
			return err
		}

		path := args[0]
		rows, err := readImportRows(path)
		if err != nil {
			return err
		}

		vocab, err := normalize.LoadVocabulary(cfg.Normalize.VocabularyFile)
		if err != nil {
			return err
		}
		recs, rowErrs := export.Records(rows, vocab)
		for _, e := range rowErrs {
			zap.L().Warn("records import: row rejected", zap.Error(e))
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for _, rec := range recs {
			if err := st.Upsert(ctx, rec); err != nil {
				return eris.Wrapf(err, "records import: %s", rec.DANumber)
			}
		}

		zap.L().Info("records imported",
			zap.String("file", path),
			zap.Int("imported", len(recs)),
			zap.Int("rejected", len(rowErrs)),
		)
		return nil
	},
}

// recordFilterFromFlags validates the list flags into a store filter.
func recordFilterFromFlags(cmd *cobra.Command) (store.Filter, error) {
	limit, _ := cmd.Flags().GetInt("limit")
	category, _ := cmd.Flags().GetString("category")
	decision, _ := cmd.Flags().GetString("decision")
	search, _ := cmd.Flags().GetString("search")

	f := store.Filter{Limit: limit, Search: search}
	if category != "" {
		f.Category = model.Category(category)
		if !f.Category.Valid() {
			return store.Filter{}, eris.Errorf("unknown category %q", category)
		}
	}
	if decision != "" {
		f.Decision = model.Decision(decision)
		if !f.Decision.Valid() {
			return store.Filter{}, eris.Errorf("unknown decision %q", decision)
		}
	}
	return f, nil
}

// exportFormat resolves --format, falling back to the output extension.
func exportFormat(format, output string) (string, error) {
	if format == "" {
		if strings.EqualFold(filepath.Ext(output), ".xlsx") {
			return "xlsx", nil
		}
		return "csv", nil
	}
	switch format {
	case "csv", "xlsx":
		return format, nil
	default:
		return "", eris.Errorf("unknown export format %q (valid: csv, xlsx)", format)
	}
}

func readImportRows(path string) ([]export.Row, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return export.ReadXLSX(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "records import: open")
	}
	defer f.Close() //nolint:errcheck
	return export.ReadCSV(f)
}

// formatRecordsList writes a tabular list of records to w.
func formatRecordsList(out io.Writer, recs []model.ApplicationRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DA_NUMBER\tSUBMITTED\tDECISION\tCATEGORY\tADDRESS\tDESCRIPTION")
	_, _ = fmt.Fprintln(w, "---------\t---------\t--------\t--------\t-------\t-----------")
	for _, r := range recs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.DANumber,
			r.SubmittedDate,
			r.Decision,
			r.Category,
			clip(r.PropertyAddress, 40),
			clip(r.Description, 50),
		)
	}
	_ = w.Flush()
}

func clip(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

func init() {
	recordsListCmd.Flags().Int("limit", 50, "max number of records to display (0 for all)")
	recordsListCmd.Flags().String("category", "", "filter by category (Residential, Commercial, Industrial, Other, Unknown)")
	recordsListCmd.Flags().String("decision", "", "filter by decision, e.g. Approved or \"Under Assessment\"")
	recordsListCmd.Flags().String("search", "", "case-insensitive match on DA number, address, description or applicant")

	recordsExportCmd.Flags().String("format", "", "csv or xlsx (default from --output extension, else csv)")
	recordsExportCmd.Flags().StringP("output", "o", "", "output file (default stdout)")

	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsExportCmd)
	recordsCmd.AddCommand(recordsImportCmd)
	rootCmd.AddCommand(recordsCmd)
}
