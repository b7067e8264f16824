package tcmagent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joelkehle/tcm-agent/internal/logging"
)

// SafetyScreen checks a standardized plan for classical incompatibilities
// (十八反, 十九畏), toxic doses and special-population cautions.
type SafetyScreen struct {
	caller Caller
	logger *slog.Logger
}

func NewSafetyScreen(caller Caller) *SafetyScreen {
	return &SafetyScreen{caller: caller, logger: logging.New("safety")}
}

// Screen makes one call. It fails open: an empty reply reports no
// contraindication and passes the plan's herbs through unchanged.
func (s *SafetyScreen) Screen(ctx context.Context, plan TreatmentPlan) SafetyVerdict {
	plan.normalize()
	started := time.Now()
	obj := s.caller.Call(ctx, []Message{
		systemMessage(outputControlSystemPrompt),
		userMessage(fmt.Sprintf(outputControlUserPrompt, compactJSON(plan))),
	})
	if len(obj) == 0 {
		s.logger.Warn("safety_screen_unavailable", "elapsed_ms", time.Since(started).Milliseconds())
		return passSafetyVerdict(plan)
	}
	verdict := safetyVerdictFromObject(obj, plan.FinalPrescription)
	s.logger.Info("safety_screen_complete",
		"has_contraindication", verdict.HasContraindication,
		"contraindications", len(verdict.Contraindications),
		"warnings", len(verdict.Warnings),
		"elapsed_ms", time.Since(started).Milliseconds())
	return verdict
}

func passSafetyVerdict(plan TreatmentPlan) SafetyVerdict {
	return SafetyVerdict{
		Contraindications:     []string{},
		ProposedModifications: []Modification{},
		Warnings:              []string{},
		FinalPrescription:     plan.FinalPrescription,
	}
}

func safetyVerdictFromObject(obj Object, fallback []Dosage) SafetyVerdict {
	v := SafetyVerdict{
		HasContraindication:   flagOf(obj["has_contraindication"]),
		Contraindications:     stringsOf(obj["contraindications"]),
		ProposedModifications: modificationsOf(obj["proposed_modifications"]),
		Warnings:              stringsOf(obj["warnings"]),
		FinalPrescription:     fallback,
	}
	if fp, ok := obj["final_prescription"]; ok && !isBlank(fp) {
		v.FinalPrescription = dosageOf(fp)
	}
	if v.FinalPrescription == nil {
		v.FinalPrescription = []Dosage{}
	}
	return v
}
