package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grantscope/advisor/internal/cost"
	"github.com/grantscope/advisor/internal/model"
	"github.com/grantscope/advisor/internal/render"
)

var (
	adviseData      string
	adviseInterview string
	adviseDemo      bool
	adviseFormat    string
	adviseOut       string
	adviseOffline   bool
	adviseArchive   bool
)

var adviseCmd = &cobra.Command{
	Use:   "advise",
	Short: "Run the advisor pipeline for one interview and export the report",
	Example: `  grantscope advise --data grants.json --demo --format markdown
  grantscope advise --data grants.csv --interview interview.yaml --format xlsx --out report.xlsx`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("advise"); err != nil {
			return err
		}
		if adviseArchive {
			if err := cfg.Validate("archive"); err != nil {
				return err
			}
		}
		format, err := render.ParseFormat(adviseFormat)
		if err != nil {
			return err
		}
		in, err := resolveInterview(adviseInterview, adviseDemo)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initAdvisor(ctx, envOptions{DataPath: adviseData, Offline: adviseOffline, Archive: adviseArchive})
		if err != nil {
			return err
		}
		defer env.Close()

		log := zap.L().With(zap.String("program_area", in.ProgramArea), zap.Int("rows", env.Frame.Len()))
		log.Info("advise: starting pipeline")

		bundle, err := env.Orchestrator.Run(ctx, in, env.Frame)
		if err != nil {
			return err
		}
		reportID := env.Orchestrator.ReportID(in, env.Frame)

		if env.Archive != nil {
			if err := env.Archive.Save(ctx, reportID, bundle); err != nil {
				return eris.Wrap(err, "archive report")
			}
			log.Info("advise: report archived", zap.String("report_id", reportID))
		}

		if err := writeReport(cmd.OutOrStdout(), adviseOut, bundle, format); err != nil {
			return err
		}
		printLedger(cmd.ErrOrStderr(), env.Ledger)
		return nil
	},
}

// resolveInterview loads the interview file, or the demo preset.
func resolveInterview(path string, demo bool) (model.InterviewInput, error) {
	switch {
	case demo:
		return model.DemoInterview(), nil
	case path != "":
		return model.LoadInterview(path)
	}
	return model.InterviewInput{}, eris.New("one of --interview or --demo is required")
}

// writeReport renders bundle to outPath, or to w when outPath is empty.
// XLSX is binary and always needs a file.
func writeReport(w io.Writer, outPath string, b *model.ReportBundle, format render.Format) error {
	if outPath == "" {
		if format == render.FormatXLSX {
			return eris.New("--out is required for xlsx")
		}
		return render.Write(w, b, format)
	}
	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "create %s", dir)
		}
	}
	f, err := os.Create(outPath)
	if err != nil {
		return eris.Wrapf(err, "create %s", outPath)
	}
	bw := bufio.NewWriter(f)
	if err := render.Write(bw, b, format); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return eris.Wrapf(err, "write %s", outPath)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "close %s", outPath)
	}
	zap.L().Info("report written", zap.String("path", outPath), zap.String("format", string(format)))
	return nil
}

// printLedger writes the per-stage token and cost table.
func printLedger(w io.Writer, ledger *cost.Ledger) {
	if ledger == nil {
		return
	}
	entries := ledger.Entries()
	if len(entries) == 0 {
		return
	}
	fmt.Fprintln(w, "\nModel usage")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	fmt.Fprintf(w, "%-18s %-28s %5s %8s %8s %8s\n", "stage", "model", "calls", "in", "out", "usd")
	for _, e := range entries {
		fmt.Fprintf(w, "%-18s %-28s %5d %8d %8d %8.4f\n", e.Stage, e.Model, e.Calls, e.Usage.Input, e.Usage.Output, e.USD)
	}
	u, usd := ledger.Total()
	fmt.Fprintf(w, "%-18s %-28s %5s %8d %8d %8.4f\n", "total", "", "", u.Input, u.Output, usd)
}

func init() {
	adviseCmd.Flags().StringVar(&adviseData, "data", "", "grants dataset: local path or http(s)/ftp URL to .json, .csv, .xlsx or .zip")
	adviseCmd.Flags().StringVar(&adviseInterview, "interview", "", "interview file (.json or .yaml)")
	adviseCmd.Flags().BoolVar(&adviseDemo, "demo", false, "use the built-in demo interview")
	adviseCmd.Flags().StringVar(&adviseFormat, "format", "json", "output format: json, markdown, html or xlsx")
	adviseCmd.Flags().StringVarP(&adviseOut, "out", "o", "", "output file (default stdout)")
	adviseCmd.Flags().BoolVar(&adviseOffline, "offline", false, "skip model calls and use deterministic fallbacks")
	adviseCmd.Flags().BoolVar(&adviseArchive, "archive", false, "save the report to the configured archive")
	_ = adviseCmd.MarkFlagRequired("data")
	rootCmd.AddCommand(adviseCmd)
}
