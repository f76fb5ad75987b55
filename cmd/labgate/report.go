package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nebari-dev/labgate/internal/report"
	"github.com/spf13/cobra"
)

var reportOutput string

var reportCmd = &cobra.Command{
	Use:   "report <name>",
	Short: "Write a CSV report",
	Long: `Write one of the CSV reports to stdout or a file.

Available reports: ` + strings.Join(report.Names(), ", "),
	Args:      cobra.ExactArgs(1),
	ValidArgs: report.Names(),
	RunE:      runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Write to file instead of stdout")
}

func runReport(cmd *cobra.Command, args []string) error {
	name := strings.TrimSuffix(args[0], ".csv")
	if _, ok := report.Filename(name); !ok {
		return fmt.Errorf("unknown report %q (available: %s)", name, strings.Join(report.Names(), ", "))
	}

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	var w io.Writer = os.Stdout
	if reportOutput != "" {
		f, err := os.Create(reportOutput)
		if err != nil {
			return fmt.Errorf("creating %s: %w", reportOutput, err)
		}
		defer f.Close()
		w = f
	}

	buf := bufio.NewWriter(w)
	if err := app.Reports.Write(cmd.Context(), name, buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if reportOutput != "" {
		fmt.Fprintf(os.Stderr, "Wrote %s\n", reportOutput)
	}
	return nil
}
