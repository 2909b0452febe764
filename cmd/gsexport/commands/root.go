package commands

import (
	"context"
	"fmt"
	"gsexport/lib/browser"
	"gsexport/lib/platforms/gradescope/core"
	"gsexport/lib/restyutil"
	"gsexport/lib/serviceutil"
	"gsexport/lib/telemetry"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var tel telemetry.Telemetry

func init() {
	registerFlags(rootCmd.Flags())
}

func registerFlags(flags *pflag.FlagSet) {
	flags.Bool("all", false, "Crawl course assignment page to print all online assignments")
	flags.String("folder", "pdf", "Output folder for pdf files")
	flags.String("cookies", "cookies.json", "File to save and restore session cookies")
	flags.String("config", "config.json5", "Optional config file, merged with <name>.local.json5")
	flags.Bool("headful", false, "Show the browser window instead of running headless")
	flags.BoolP("verbose", "v", false, "Enable debug logging and dump http messages to .gsexport/resty")
}

var rootCmd = &cobra.Command{
	Use:   "gsexport [--all] [--folder <dir>] [--cookies <file>]",
	Short: "gsexport prints Gradescope online assignments to PDF files.",
	Args:  cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, err := cmd.Flags().GetBool("verbose")
		if err != nil {
			return err
		}
		telemetry.InitSlog(verbose)

		tel, err = telemetry.SetupFromEnv(cmd.Context(), "gsexport")
		if err != nil {
			return fmt.Errorf("setup telemetry: %w", err)
		}
		if tel.MeterProvider != nil {
			telemetry.InstrumentPerfStats(cmd.Context())
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		getenv, err := dotenvLookup(".env", os.Getenv)
		if err != nil {
			return err
		}
		cfg, err := resolveConfig(cmd, getenv)
		if err != nil {
			return err
		}
		err = validateFolder(cfg.Folder)
		if err != nil {
			return err
		}
		exportAll, err := cmd.Flags().GetBool("all")
		if err != nil {
			return err
		}
		verbose, err := cmd.Flags().GetBool("verbose")
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg, exportAll, verbose)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func run(ctx context.Context, cfg Config, exportAll, verbose bool) error {
	prompter := newTerminalPrompter()

	opts := cfg.clientOptions()
	opts.Prompter = prompter
	opts.CloudflareBypass = true
	if verbose {
		out, err := restyutil.NewFilesystemOutput(".gsexport/resty")
		if err != nil {
			return err
		}
		opts.InstrumentOutput = out
	}
	client, err := core.NewClient(ctx, opts)
	if err != nil {
		return err
	}

	b, err := browser.New(ctx, browser.Options{
		Headless: !cfg.Headful,
		ExecPath: cfg.ChromePath,
	})
	if err != nil {
		return err
	}
	defer b.Close()

	err = establishSession(ctx, client, b)
	if err != nil {
		return err
	}

	s := session{
		driver:   b,
		baseUrl:  client.BaseUrl,
		folder:   cfg.Folder,
		prompter: prompter,
		progress: newPrettyProgress(os.Stderr),
		out:      os.Stdout,
	}
	if !exportAll {
		_, err = exportSingle(ctx, s)
		return err
	}

	result, err := exportCourse(ctx, s)
	if err != nil {
		return err
	}
	renderSummary(os.Stdout, result)
	return nil
}

func ExecuteContext(ctx context.Context) {
	err := rootCmd.ExecuteContext(ctx)

	shutdownErr := tel.Shutdown(context.Background())
	if shutdownErr != nil {
		slog.Warn("failed to shutdown telemetry", "err", shutdownErr)
	}
	if err != nil {
		serviceutil.Fatal("gsexport failed", err)
	}
}
