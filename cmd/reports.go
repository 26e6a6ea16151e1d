package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grantscope/advisor/internal/model"
	"github.com/grantscope/advisor/internal/render"
	"github.com/grantscope/advisor/internal/store"
	"github.com/grantscope/advisor/pkg/notion"
)

var (
	reportsLimit int
	showFormat   string
	exportFormat string
	reportsOut   string
	reportsID    string
	notionDB     string
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Manage archived reports",
}

// openArchive validates the store config and opens the archive.
func openArchive(ctx context.Context) (store.Archive, error) {
	if err := cfg.Validate("archive"); err != nil {
		return nil, err
	}
	a, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open archive")
	}
	return a, nil
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived reports, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openArchive(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.List(cmd.Context(), reportsLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "REPORT ID\tPROGRAM AREA\tCREATED\tARCHIVED")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ReportID, e.ProgramArea, e.CreatedAt, e.ArchivedAt.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

var reportsShowCmd = &cobra.Command{
	Use:   "show <report-id>",
	Short: "Print an archived report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := render.ParseFormat(showFormat)
		if err != nil {
			return err
		}
		if format == render.FormatXLSX {
			return eris.New("use reports export for xlsx")
		}
		a, err := openArchive(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		b, err := a.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render.Write(cmd.OutOrStdout(), b, format)
	},
}

var reportsExportCmd = &cobra.Command{
	Use:   "export <report-id>",
	Short: "Export an archived report to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := render.ParseFormat(exportFormat)
		if err != nil {
			return err
		}
		a, err := openArchive(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		b, err := a.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := reportsOut
		if out == "" {
			out = args[0] + "." + format.Extension()
		}
		return writeReport(cmd.OutOrStdout(), out, b, format)
	},
}

var reportsImportCmd = &cobra.Command{
	Use:   "import <bundle.json>",
	Short: "Archive a report bundle JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, id, err := readBundleFile(args[0], reportsID)
		if err != nil {
			return err
		}
		a, err := openArchive(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Save(cmd.Context(), id, b); err != nil {
			return err
		}
		zap.L().Info("report imported", zap.String("report_id", id), zap.String("path", args[0]))
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

// readBundleFile parses a bundle JSON file. The report id defaults to the
// file name without its extension.
func readBundleFile(path, id string) (*model.ReportBundle, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", eris.Wrapf(err, "read %s", path)
	}
	b, err := model.FromJSON(data)
	if err != nil {
		return nil, "", err
	}
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return b, id, nil
}

var reportsDeleteCmd = &cobra.Command{
	Use:   "delete <report-id>",
	Short: "Remove an archived report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openArchive(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Delete(cmd.Context(), args[0])
	},
}

var reportsPublishCmd = &cobra.Command{
	Use:   "publish <report-id>",
	Short: "Publish an archived report to a Notion database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if notionDB != "" {
			cfg.Notion.DatabaseID = notionDB
		}
		if err := cfg.Validate("publish"); err != nil {
			return err
		}
		a, err := openArchive(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		b, err := a.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		client := notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RequestsPerSecond))
		out, err := notion.Publish(cmd.Context(), client, cfg.Notion.DatabaseID, args[0], b)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.PageID)
		return nil
	},
}

func init() {
	reportsListCmd.Flags().IntVar(&reportsLimit, "limit", 50, "maximum reports to list")
	reportsShowCmd.Flags().StringVar(&showFormat, "format", "markdown", "output format: json, markdown or html")
	reportsExportCmd.Flags().StringVar(&exportFormat, "format", "html", "output format: json, markdown, html or xlsx")
	reportsExportCmd.Flags().StringVarP(&reportsOut, "out", "o", "", "output file (default <report-id>.<ext>)")
	reportsImportCmd.Flags().StringVar(&reportsID, "id", "", "report id (default file name)")
	reportsPublishCmd.Flags().StringVar(&notionDB, "database", "", "Notion database id (default notion.database_id)")

	reportsCmd.AddCommand(reportsListCmd, reportsShowCmd, reportsExportCmd, reportsImportCmd, reportsDeleteCmd, reportsPublishCmd)
	rootCmd.AddCommand(reportsCmd)
}
