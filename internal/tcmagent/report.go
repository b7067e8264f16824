package tcmagent

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

func BuildResponse(result PipelineResult) ResponseEnvelope {
	env := ResponseEnvelope{
		RunID: result.Metadata.RunID,
		Case:  result.Case,
		StageOutputs: StageOutputs{
			Symptoms:  result.Symptoms,
			Diagnosis: result.Diagnosis,
			Treatment: result.Plan,
		},
		Metrics: StageMetrics{
			Extraction: result.Extraction,
			Diagnosis:  result.Diagnose,
			Treatment:  result.Treatment,
		},
		Metadata:   result.Metadata,
		Disclaimer: Disclaimer,
	}
	env.ReportMarkdown = buildMarkdown(result, env.StageOutputs)
	return env
}

func buildMarkdown(result PipelineResult, outputs StageOutputs) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# 中医辨证处方报告\n\n")
	fmt.Fprintf(&b, "- Run ID: %s\n", sanitizeLine(result.Metadata.RunID))
	if !result.Metadata.CompletedAt.IsZero() {
		fmt.Fprintf(&b, "- Date: %s\n", result.Metadata.CompletedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "\n> %s\n\n", Disclaimer)

	fmt.Fprintf(&b, "## 四诊信息\n\n")
	s := result.Symptoms
	if s.IsEmpty() {
		fmt.Fprintf(&b, "未能提取到结构化症状信息。\n\n")
	} else {
		appendListLine(&b, "神志", s.Inspection.MentalState)
		appendListLine(&b, "语声", s.Inspection.Voice)
		appendListLine(&b, "气息", s.Inspection.Breath)
		if t := s.Inspection.Tongue; t.TongueBody != "" || t.TongueCoating != "" {
			fmt.Fprintf(&b, "- 舌象: 舌%s苔%s\n", sanitizeCell(t.TongueBody), sanitizeCell(t.TongueCoating))
		}
		if len(s.Palpation.Pulse) > 0 {
			fmt.Fprintf(&b, "- 脉象: 脉%s\n", sanitizeCell(strings.Join(s.Palpation.Pulse, "")))
		}
		appendListLine(&b, "症状", s.SubjectiveSymptoms)
		appendListLine(&b, "口腔", s.OralFindings)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "- Extraction attempts: %d (validated: %t)\n\n", result.Extraction.Attempts, result.Extraction.Validated)

	fmt.Fprintf(&b, "## 辨证诊断\n\n")
	fmt.Fprintf(&b, "- 诊断: **%s**\n", sanitizeLine(result.Diagnosis.TCMDiagnosis))
	fmt.Fprintf(&b, "- 辨证思路: %s\n\n", sanitizeLine(result.Diagnosis.Think))

	plan := result.Plan
	fmt.Fprintf(&b, "## 处方\n\n")
	fmt.Fprintf(&b, "- 治则治法: %s\n", sanitizeLine(plan.TreatmentPrinciple))
	fmt.Fprintf(&b, "- 基础方: %s\n", sanitizeLine(plan.BaseFormula))
	fmt.Fprintf(&b, "- 煎服法: %s\n\n", sanitizeLine(plan.Useway))
	if len(plan.FinalPrescription) == 0 {
		fmt.Fprintf(&b, "未生成药物剂量。\n\n")
	} else {
		fmt.Fprintf(&b, "| 药物 | 剂量 |\n|---|---|\n")
		for _, d := range plan.FinalPrescription {
			fmt.Fprintf(&b, "| %s | %s |\n", sanitizeCell(d.Herb), sanitizeCell(d.Dose))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## 用药警示\n\n")
	if len(plan.Warnings) == 0 {
		fmt.Fprintf(&b, "- 无\n")
	}
	for _, w := range plan.Warnings {
		fmt.Fprintf(&b, "- %s\n", sanitizeLine(w))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## 审核过程\n\n")
	if result.Treatment.Accepted {
		fmt.Fprintf(&b, "Prescription passed format and safety checks in cycle %d of its budget.\n\n", result.Treatment.Cycles)
	} else {
		fmt.Fprintf(&b, "Prescription did not pass format and safety checks after %d cycle(s); the last attempt is shown and requires practitioner review.\n\n", result.Treatment.Cycles)
	}
	for _, c := range result.Treatment.Trace {
		fmt.Fprintf(&b, "- Cycle %d: %d step(s)", c.Cycle, len(c.Steps))
		if c.Aborted != "" {
			fmt.Fprintf(&b, ", stopped: %s", c.Aborted)
		}
		if c.Feedback != nil {
			fmt.Fprintf(&b, ", rejected: %s", c.Feedback.Type)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "- Total LLM calls: %d\n\n", result.Metadata.TotalLLMCalls)

	fmt.Fprintf(&b, "## Appendix\n\n")
	fmt.Fprintf(&b, "### Stage Outputs (JSON)\n\n```json\n%s\n```\n", indentJSON(outputs))
	fmt.Fprintf(&b, "\n### Run Metadata (JSON)\n\n```json\n%s\n```\n", indentJSON(result.Metadata))
	return b.String()
}

func appendListLine(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", label, sanitizeLine(strings.Join(items, "、")))
}

func sanitizeLine(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if s == "" {
		return "-"
	}
	return s
}

func sanitizeCell(s string) string {
	return strings.ReplaceAll(sanitizeLine(s), "|", `\|`)
}

// RenderHTML converts report markdown to a standalone HTML page.
func RenderHTML(markdown string) (string, error) {
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>" + html.EscapeString("中医辨证处方报告") + "</title>" +
		"<style>" +
		"body{font-family:sans-serif;max-width:960px;margin:0 auto;padding:1rem;color:#1c1917;} " +
		"blockquote{background:#fef3c7;border-left:3px solid #92400e;margin:0;padding:0.5rem 0.75rem;} " +
		"table{border-collapse:collapse;width:100%;} th,td{border:1px solid #a8a29e;padding:0.35rem 0.45rem;text-align:left;} " +
		"thead th{background:#f1f5f9;} pre{background:#f5f5f4;overflow-x:auto;padding:0.5rem;}" +
		"</style></head><body>" + content.String() + "</body></html>", nil
}
