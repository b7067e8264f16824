package tcmagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joelkehle/tcm-agent/internal/logging"
)

// Extractor turns a free-text case record into structured symptoms, checking
// each candidate with a second validation call.
type Extractor struct {
	caller Caller
	logger *slog.Logger
}

func NewExtractor(caller Caller) *Extractor {
	return &Extractor{caller: caller, logger: logging.New("extraction")}
}

// Extract runs up to maxRetries extract/validate rounds and returns the first
// validated candidate. On exhaustion it returns whatever the last extraction
// call produced, which may be empty.
func (e *Extractor) Extract(ctx context.Context, rec CaseRecord, maxRetries int) (Symptoms, ExtractionMetrics) {
	if maxRetries <= 0 {
		maxRetries = DefaultExtractionRetries
	}
	text := rec.Text()
	transcript := []Message{
		systemMessage(extractionSystemPrompt),
		userMessage(fmt.Sprintf(extractionUserPrompt, text)),
	}

	var metrics ExtractionMetrics
	candidate := Object{}
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			break
		}
		metrics.Attempts = attempt
		started := time.Now()

		candidate = e.caller.Call(ctx, transcript)
		metrics.LLMCalls++
		if len(candidate) == 0 {
			e.logger.Warn("extraction_empty", "attempt", attempt, "elapsed_ms", time.Since(started).Milliseconds())
			continue
		}

		verdict := validationVerdictFromObject(e.caller.Call(ctx, []Message{
			systemMessage(validationSystemPrompt),
			userMessage(fmt.Sprintf(validationUserPrompt, text, indentJSON(candidate))),
		}))
		metrics.LLMCalls++
		if verdict.IsValid {
			metrics.Validated = true
			e.logger.Info("extraction_validated", "attempt", attempt, "elapsed_ms", time.Since(started).Milliseconds())
			return symptomsFromObject(candidate), metrics
		}
		e.logger.Info("extraction_rejected",
			"attempt", attempt,
			"missing_items", len(verdict.MissingItems),
			"wrong_items", len(verdict.WrongItems),
			"elapsed_ms", time.Since(started).Milliseconds())

		if attempt < maxRetries {
			transcript = append(transcript,
				assistantMessage(compactJSON(candidate)),
				userMessage(fmt.Sprintf(extractionFeedbackPrompt, extractionFeedback(verdict))),
			)
		}
	}
	e.logger.Warn("extraction_exhausted", "attempts", metrics.Attempts, "empty", len(candidate) == 0)
	return symptomsFromObject(candidate), metrics
}

func extractionFeedback(v ValidationVerdict) string {
	var parts []string
	if len(v.MissingItems) > 0 {
		parts = append(parts, fmt.Sprintf(extractionMissingItems, compactJSON(v.MissingItems)))
	}
	if len(v.WrongItems) > 0 {
		parts = append(parts, fmt.Sprintf(extractionWrongItems, compactJSON(v.WrongItems)))
	}
	if v.Suggestions != "" {
		parts = append(parts, fmt.Sprintf(extractionSuggestions, v.Suggestions))
	}
	if len(parts) == 0 {
		return extractionFeedbackFallback
	}
	return strings.Join(parts, "；")
}
