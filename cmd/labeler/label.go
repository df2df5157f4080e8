package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"labeling-service/internal/dataset"
	"labeling-service/internal/dispatch"
	"labeling-service/internal/export"
	"labeling-service/internal/models"
	"labeling-service/internal/results"
	"labeling-service/internal/service"

	"github.com/spf13/cobra"
)

type labelOptions struct {
	input        string
	column       string
	project      string
	provider     string
	model        string
	apiKey       string
	workers      int
	limit        int
	output       string
	saveAs       string
	brand        string
	role         string
	include      string
	exclude      string
	outputFormat string
}

func newLabelCmd() *cobra.Command {
	opts := &labelOptions{}

	cmd := &cobra.Command{
		Use:   "label",
		Short: "Label every row of a dataset file",
		Long: `Label reads a CSV, XLSX, JSONL or JSON file, sends the text of the
analysis column to the provider and writes the table with an AI_Response
column. Failed rows are kept with an "ERR: " label.

Interrupting the run marks the remaining rows as cancelled and still writes
the output.`,
		Example: `  # Label with a saved project
  labeler label --input reviews.csv --column text --project tea --output labeled.xlsx

  # Try the prompt on the first 5 rows
  labeler label -i reviews.csv -c text --project tea --limit 5`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLabel(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "", "dataset file (.csv, .xlsx, .jsonl, .json)")
	f.StringVarP(&opts.column, "column", "c", "", "analysis column")
	f.StringVar(&opts.project, "project", "", "saved project to take prompt and provider from")
	f.StringVar(&opts.provider, "provider", "", "provider: openai, gemini, groq, openrouter")
	f.StringVar(&opts.model, "model", "", "model name (default: provider default)")
	f.StringVar(&opts.apiKey, "api-key", "", "API key (default: from config or environment)")
	f.IntVarP(&opts.workers, "workers", "w", 0, "concurrent requests, 1-20 (default: from config)")
	f.IntVar(&opts.limit, "limit", 0, "label only the first N rows (0 = all)")
	f.StringVarP(&opts.output, "output", "o", "", "output file (.xlsx, .json, .csv); default <input>_labeled.xlsx")
	f.StringVar(&opts.saveAs, "save-as", "", "save prompt and provider as a project before running")
	f.StringVar(&opts.brand, "brand", "", "brand name stored with --save-as")
	f.StringVar(&opts.role, "role", "", "prompt role and intro")
	f.StringVar(&opts.include, "include", "", "what counts as relevant")
	f.StringVar(&opts.exclude, "exclude", "", "what to exclude as irrelevant")
	f.StringVar(&opts.outputFormat, "output-format", "", "how the model should answer")

	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("column")

	return cmd
}

func runLabel(cmd *cobra.Command, opts *labelOptions) error {
	output := opts.output
	if output == "" {
		base := strings.TrimSuffix(opts.input, filepath.Ext(opts.input))
		output = base + "_labeled.xlsx"
	}
	format, err := export.ParseFormat(filepath.Ext(output))
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ds, err := dataset.LoadFile(opts.input)
	if err != nil {
		return err
	}

	req := service.RunRequest{
		SessionID: "cli",
		Dataset:   ds,
		Column:    opts.column,
		Provider:  models.ProviderConfig{Provider: a.cfg.Dispatch.Provider},
		Workers:   opts.workers,
		Limit:     opts.limit,
		SaveAs:    opts.saveAs,
		Brand:     opts.brand,
	}

	if opts.project != "" {
		p, err := a.projects.Load(opts.project)
		if err != nil {
			return err
		}
		req.Prompt = p.Prompt
		req.Provider.Provider = p.Provider
		req.Provider.Model = p.Model
	}

	applyPromptFlags(&req.Prompt, opts)
	if opts.provider != "" {
		req.Provider.Provider = models.ProviderType(opts.provider)
		req.Provider.Model = ""
	}
	if opts.model != "" {
		req.Provider.Model = opts.model
	}
	req.Provider.APIKey = opts.apiKey

	if req.Prompt.IsEmpty() {
		return fmt.Errorf("%w: empty prompt; use --project or the prompt flags", service.ErrConfig)
	}

	stderr := cmd.ErrOrStderr()
	req.OnProgress = func(p dispatch.Progress) {
		fmt.Fprintf(stderr, "\rLabeled %d/%d rows (%d failed)", p.Completed, p.Total, p.Failed)
		if p.Completed == p.Total {
			fmt.Fprintln(stderr)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, err := a.labeler.Run(ctx, req)
	if err != nil {
		return err
	}

	if err := writeOutput(output, format, out.Table); err != nil {
		return err
	}

	stats := results.Stats(out.Table)
	fmt.Fprintf(cmd.OutOrStdout(), "Run %s %s: %d rows, %d relevant, %d irrelevant, %d errors -> %s\n",
		out.Run.ID, out.Run.Status, stats.Total, stats.Relevant, stats.Irrelevant, stats.Errors, output)
	return nil
}

func applyPromptFlags(p *models.PromptSpec, opts *labelOptions) {
	if opts.role != "" {
		p.Role = opts.role
	}
	if opts.include != "" {
		p.Include = opts.include
	}
	if opts.exclude != "" {
		p.Exclude = opts.exclude
	}
	if opts.outputFormat != "" {
		p.OutputFormat = opts.outputFormat
	}
}

func writeOutput(path string, format export.Format, t *results.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}

	if err := export.Write(f, format, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

