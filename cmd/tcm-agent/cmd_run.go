package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joelkehle/tcm-agent/internal/config"
	"github.com/joelkehle/tcm-agent/internal/logging"
	"github.com/joelkehle/tcm-agent/internal/tcmagent"
)

var runFlags struct {
	casePath string
	outPath  string
	htmlPath string
	mdPath   string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run extraction, diagnosis and treatment for one case record",
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.casePath, "case", "c", "", "Path to the case record JSON")
	f.StringVarP(&runFlags.outPath, "out", "o", "", "Write the response envelope JSON here (default stdout)")
	f.StringVar(&runFlags.htmlPath, "html", "", "Also write the rendered HTML report here")
	f.StringVar(&runFlags.mdPath, "markdown", "", "Also write the markdown report here")
	_ = runCmd.MarkFlagRequired("case")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rec, err := readCase(runFlags.casePath)
	if err != nil {
		return err
	}
	client, err := tcmagent.NewClient(cfg.ClientConfig())
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stderr := cmd.ErrOrStderr()
	pipeline := tcmagent.NewPipeline(client, cfg.PipelineOptions())
	result, err := pipeline.RunWithProgress(ctx, rec, func(stage, message string) {
		fmt.Fprintf(stderr, "[%s] %s\n", stage, message)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("interrupted during %s stage", tcmagent.StageNameFromError(err))
		}
		return err
	}

	env := tcmagent.BuildResponse(result)
	blob, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if runFlags.outPath == "" {
		fmt.Fprintln(cmd.OutOrStdout(), string(blob))
	} else if err := writeFileAtomic(runFlags.outPath, append(blob, '\n')); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return writeReports(env.ReportMarkdown, runFlags.mdPath, runFlags.htmlPath)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if rootFlags.logFormat != "" {
		cfg.Log.Format = rootFlags.logFormat
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	logging.Init(cfg.LogLevel(), cfg.Log.Format)
	return cfg, nil
}

func readCase(path string) (tcmagent.CaseRecord, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return tcmagent.CaseRecord{}, fmt.Errorf("read case: %w", err)
	}
	var rec tcmagent.CaseRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		return tcmagent.CaseRecord{}, fmt.Errorf("parse case json: %w", err)
	}
	return rec, nil
}
