package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joelkehle/tcm-agent/internal/tcmagent"
)

var renderFlags struct {
	envelopePath string
	mdPath       string
	htmlPath     string
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Rebuild the report from a saved response envelope without calling the LLM",
	RunE:  runRender,
}

func init() {
	f := renderCmd.Flags()
	f.StringVarP(&renderFlags.envelopePath, "envelope", "e", "", "Path to a saved response envelope JSON")
	f.StringVar(&renderFlags.mdPath, "markdown", "", "Write the markdown report here (default stdout)")
	f.StringVar(&renderFlags.htmlPath, "html", "", "Write the rendered HTML report here")
	_ = renderCmd.MarkFlagRequired("envelope")
}

func runRender(cmd *cobra.Command, _ []string) error {
	blob, err := os.ReadFile(renderFlags.envelopePath)
	if err != nil {
		return fmt.Errorf("read envelope: %w", err)
	}
	saved, err := tcmagent.DecodeResponseEnvelope(blob)
	if err != nil {
		return err
	}
	env, err := tcmagent.RebuildResponseFromEnvelope(saved)
	if err != nil {
		return err
	}
	if renderFlags.mdPath == "" && renderFlags.htmlPath == "" {
		fmt.Fprint(cmd.OutOrStdout(), env.ReportMarkdown)
		return nil
	}
	return writeReports(env.ReportMarkdown, renderFlags.mdPath, renderFlags.htmlPath)
}
