package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nebari-dev/labgate/internal/fixture"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the built-in demo data set",
	Long: `Load a small demo data set: two engineers, two labs, their training
requirements, documents and a manager and engineer login.

Running seed twice is safe; rows that already exist are skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fx, err := fixture.Demo()
		if err != nil {
			return err
		}
		return applyFixture(cmd, fx)
	},
}

var importFormat string

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a YAML fixture or a CSV of course completions",
	Long: `Import data into the database.

YAML files use the same layout as the demo data set. CSV files hold course
completions with the columns employee_no, course_code, date_taken and an
optional certificate_url; the engineers and courses must already exist.

Examples:
  labgate import catalog.yaml
  labgate import completions.csv
  labgate import export.txt --format csv`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVarP(&importFormat, "format", "f", "", "Input format: yaml or csv (default: from file extension)")
}

func runImport(cmd *cobra.Command, args []string) error {
	path := args[0]
	format := importFormat
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv":
			format = "csv"
		default:
			format = "yaml"
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var fx *fixture.Fixture
	switch format {
	case "yaml", "yml":
		fx, err = fixture.Parse(f)
	case "csv":
		fx, err = fixture.ParseCompletionsCSV(f)
	default:
		return fmt.Errorf("unsupported format %q (supported: yaml, csv)", format)
	}
	if err != nil {
		return err
	}
	return applyFixture(cmd, fx)
}

func applyFixture(cmd *cobra.Command, fx *fixture.Fixture) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	summary, err := app.Importer.Apply(cmd.Context(), fx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Imported: %s\n", summary)
	return nil
}
