package tcmagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joelkehle/tcm-agent/internal/logging"
)

type Diagnoser struct {
	caller Caller
	logger *slog.Logger
}

func NewDiagnoser(caller Caller) *Diagnoser {
	return &Diagnoser{caller: caller, logger: logging.New("diagnosis")}
}

// Diagnose issues a single call. A reply whose tcm_diagnosis is missing, null
// or blank yields an empty Diagnosis.
func (d *Diagnoser) Diagnose(ctx context.Context, s Symptoms) (Diagnosis, DiagnosisMetrics) {
	started := time.Now()
	obj := d.caller.Call(ctx, []Message{
		systemMessage(diagnosisSystemPrompt),
		userMessage(fmt.Sprintf(diagnosisUserPrompt, FormatSymptoms(s))),
	})
	metrics := DiagnosisMetrics{LLMCalls: 1}

	label := textOf(obj["tcm_diagnosis"])
	if strings.TrimSpace(label) == "" {
		d.logger.Warn("diagnosis_failed", "elapsed_ms", time.Since(started).Milliseconds(), "empty_response", len(obj) == 0)
		return Diagnosis{}, metrics
	}
	metrics.Succeeded = true
	out := Diagnosis{Think: textOf(obj["think"]), TCMDiagnosis: label}
	d.logger.Info("diagnosis_complete", "tcm_diagnosis", out.TCMDiagnosis, "elapsed_ms", time.Since(started).Milliseconds())
	return out, metrics
}
