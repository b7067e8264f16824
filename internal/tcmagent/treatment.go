package tcmagent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joelkehle/tcm-agent/internal/logging"
)

// Action is the next move the model picks in a ReAct step.
type Action string

const (
	ActionDeterminePrinciple   Action = "determine_principle"
	ActionSelectBaseFormula    Action = "select_base_formula"
	ActionProposeModifications Action = "propose_modifications"
	ActionDetermineDosage      Action = "determine_dosage"
	ActionFinish               Action = "finish"
)

// Step is one ReAct decision and, for non-terminal actions, what the sub-call
// returned.
type Step struct {
	Thought     string `json:"thought"`
	Action      Action `json:"action"`
	ActionInput Object `json:"action_input"`
	Observation Object `json:"observation,omitempty"`
}

// Reasons an inner loop stopped without a finish action.
const (
	abortEmptyResponse      = "empty_response"
	abortUnrecognizedAction = "unrecognized_action"
	abortStepLimit          = "step_limit"
)

type TreatmentOptions struct {
	MaxCycles    int
	MaxSteps     int
	CallAttempts int
}

func DefaultTreatmentOptions() TreatmentOptions {
	return TreatmentOptions{
		MaxCycles:    DefaultTreatmentCycles,
		MaxSteps:     DefaultTreatmentSteps,
		CallAttempts: DefaultCallAttempts,
	}
}

func (o TreatmentOptions) withDefaults() TreatmentOptions {
	if o.MaxCycles <= 0 {
		o.MaxCycles = DefaultTreatmentCycles
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = DefaultTreatmentSteps
	}
	if o.CallAttempts <= 0 {
		o.CallAttempts = DefaultCallAttempts
	}
	return o
}

// Treater builds a prescription through a ReAct loop, then gates it on a
// format check and a safety screen. A rejected cycle is retried from scratch
// with the rejection fed back to the model.
type Treater struct {
	caller Caller
	safety *SafetyScreen
	opts   TreatmentOptions
	logger *slog.Logger
}

func NewTreater(caller Caller, opts TreatmentOptions) *Treater {
	return &Treater{
		caller: caller,
		safety: NewSafetyScreen(caller),
		opts:   opts.withDefaults(),
		logger: logging.New("treatment"),
	}
}

func (t *Treater) Treat(ctx context.Context, s Symptoms, d Diagnosis) (TreatmentPlan, TreatmentMetrics) {
	symptomsText := FormatSymptoms(s)
	metrics := TreatmentMetrics{Trace: []CycleTrace{}}
	plan := standardize(newPrescription(d))

	var feedback *CycleFeedback
	for cycle := 1; cycle <= t.opts.MaxCycles; cycle++ {
		if ctx.Err() != nil {
			break
		}
		started := time.Now()
		metrics.Cycles = cycle

		rx, trace := t.runCycle(ctx, cycle, d, symptomsText, feedback, &metrics)
		plan = standardize(rx)

		format := t.checkFormat(ctx, plan, &metrics)
		if !format.Valid {
			feedback = &CycleFeedback{Type: FeedbackFormat, Detail: format}
			trace.Feedback = feedback
			metrics.Trace = append(metrics.Trace, trace)
			t.logger.Info("treatment_cycle_rejected", "cycle", cycle, "reason", FeedbackFormat, "errors", len(format.Errors), "elapsed_ms", time.Since(started).Milliseconds())
			continue
		}

		verdict := t.safety.Screen(ctx, plan)
		metrics.LLMCalls++
		if verdict.HasContraindication {
			feedback = &CycleFeedback{Type: FeedbackSafety, Detail: verdict}
			trace.Feedback = feedback
			metrics.Trace = append(metrics.Trace, trace)
			t.logger.Info("treatment_cycle_rejected", "cycle", cycle, "reason", FeedbackSafety, "contraindications", len(verdict.Contraindications), "elapsed_ms", time.Since(started).Milliseconds())
			continue
		}

		plan.Warnings = append(plan.Warnings, verdict.Warnings...)
		metrics.Trace = append(metrics.Trace, trace)
		metrics.Accepted = true
		t.logger.Info("treatment_accepted", "cycle", cycle, "herbs", len(plan.FinalPrescription), "elapsed_ms", time.Since(started).Milliseconds())
		return plan, metrics
	}
	t.logger.Warn("treatment_exhausted", "cycles", metrics.Cycles)
	return plan, metrics
}

// runCycle drives one inner ReAct loop over a fresh accumulator.
func (t *Treater) runCycle(ctx context.Context, cycle int, d Diagnosis, symptomsText string, feedback *CycleFeedback, metrics *TreatmentMetrics) (*Prescription, CycleTrace) {
	rx := newPrescription(d)
	trace := CycleTrace{Cycle: cycle, Steps: []Step{}}

	seed := struct {
		TCMDiagnosis Diagnosis `json:"tcm_diagnosis"`
		Symptoms     string    `json:"symptoms"`
	}{d, symptomsText}
	transcript := []Message{
		systemMessage(treatmentSystemPrompt),
		userMessage(compactJSON(seed)),
	}
	if feedback != nil {
		transcript = append(transcript, userMessage(fmt.Sprintf(cycleFeedbackPrompt, compactJSON(feedback))))
	}

	for i := 1; i <= t.opts.MaxSteps; i++ {
		if ctx.Err() != nil {
			return rx, trace
		}
		reply := t.callWithRetry(ctx, transcript, metrics)
		if len(reply) == 0 {
			trace.Aborted = abortEmptyResponse
			t.logger.Warn("treatment_step_aborted", "cycle", cycle, "step", i, "reason", trace.Aborted)
			return rx, trace
		}
		action := Action(textOf(reply["action"]))
		step := Step{
			Thought:     textOf(reply["thought"]),
			Action:      action,
			ActionInput: objectOf(reply["action_input"]),
		}
		t.logger.Debug("treatment_step", "cycle", cycle, "step", i, "action", action)

		var obs Object
		switch action {
		case ActionDeterminePrinciple:
			obs = t.callWithRetry(ctx, []Message{
				systemMessage(treatmentDeterminePrinciplePrompt),
				userMessage(fmt.Sprintf(principleContextPrompt, compactJSON(d), symptomsText)),
			}, metrics)
			rx.TreatmentPrinciple = textOf(obs["tcm_treatment_principle"])

		case ActionSelectBaseFormula:
			input := struct {
				TCMDiagnosis       Diagnosis `json:"tcm_diagnosis"`
				TreatmentPrinciple string    `json:"treatment_principle"`
				Symptoms           string    `json:"symptoms"`
			}{d, rx.TreatmentPrinciple, symptomsText}
			obs = t.callWithRetry(ctx, []Message{
				systemMessage(treatmentSelectBasePrompt),
				userMessage(fmt.Sprintf(actionInputPrompt, compactJSON(input))),
			}, metrics)
			rx.BaseFormula = baseFormulaOf(obs["base_formula"])

		case ActionProposeModifications:
			input := struct {
				Symptoms     string      `json:"symptoms"`
				TCMDiagnosis Diagnosis   `json:"tcm_diagnosis"`
				BaseFormula  BaseFormula `json:"base_formula"`
			}{symptomsText, d, rx.BaseFormula}
			obs = t.callWithRetry(ctx, []Message{
				systemMessage(treatmentProposeModificationsPrompt),
				userMessage(fmt.Sprintf(actionInputPrompt, compactJSON(input))),
			}, metrics)
			rx.Modifications = modificationsOf(obs["modifications"])

		case ActionDetermineDosage:
			input := struct {
				Herbs []string `json:"herbs"`
			}{herbsForDosage(rx)}
			obs = t.callWithRetry(ctx, []Message{
				systemMessage(treatmentDetermineDosagePrompt),
				userMessage(fmt.Sprintf(actionInputPrompt, compactJSON(input))),
			}, metrics)
			rx.Dosage = dosageOf(obs["dosage"])
			rx.Useway = textOf(obs["useway"])

		case ActionFinish:
			mergeFinish(rx, step.ActionInput)
			trace.Steps = append(trace.Steps, step)
			return rx, trace

		default:
			trace.Steps = append(trace.Steps, step)
			trace.Aborted = abortUnrecognizedAction
			t.logger.Warn("treatment_step_aborted", "cycle", cycle, "step", i, "reason", trace.Aborted, "action", action)
			return rx, trace
		}
		step.Observation = obs
		trace.Steps = append(trace.Steps, step)
		transcript = append(transcript,
			assistantMessage(compactJSON(reply)),
			userMessage(fmt.Sprintf(observationPrompt, compactJSON(obs))),
		)
	}
	trace.Aborted = abortStepLimit
	return rx, trace
}

// callWithRetry re-issues a call that came back empty, up to CallAttempts
// times in total.
func (t *Treater) callWithRetry(ctx context.Context, messages []Message, metrics *TreatmentMetrics) Object {
	for attempt := 1; attempt <= t.opts.CallAttempts; attempt++ {
		obj := t.caller.Call(ctx, messages)
		metrics.LLMCalls++
		if len(obj) > 0 {
			return obj
		}
		if ctx.Err() != nil {
			break
		}
	}
	return Object{}
}

func (t *Treater) checkFormat(ctx context.Context, plan TreatmentPlan, metrics *TreatmentMetrics) FormatVerdict {
	obj := t.callWithRetry(ctx, []Message{
		systemMessage(treatmentOutputValidationSystemPrompt),
		userMessage(fmt.Sprintf(treatmentOutputValidationUserPrompt, compactJSON(plan))),
	}, metrics)
	if len(obj) == 0 {
		return FormatVerdict{Valid: false, Errors: []string{formatCheckFailed}}
	}
	return formatVerdictFromObject(obj)
}

// mergeFinish copies the finish summary into the accumulator. Blank values
// never overwrite what earlier steps produced.
func mergeFinish(rx *Prescription, input Object) {
	if v := input["tcm_treatment_principle"]; !isBlank(v) {
		rx.TreatmentPrinciple = textOf(v)
	}
	if v := input["base_formula"]; !isBlank(v) {
		rx.BaseFormula = baseFormulaOf(v)
	}
	if v := input["modifications"]; !isBlank(v) {
		rx.Modifications = modificationsOf(v)
	}
	if v := input["dosage"]; !isBlank(v) {
		rx.Dosage = dosageOf(v)
	}
	if v := input["useway"]; !isBlank(v) {
		rx.Useway = textOf(v)
	}
	if v := input["warnings"]; !isBlank(v) {
		rx.Warnings = stringsOf(v)
	}
}

// herbsForDosage lists base-formula herbs followed by modification herbs,
// deduplicated by exact name in first-seen order.
func herbsForDosage(rx *Prescription) []string {
	seen := make(map[string]bool)
	out := []string{}
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	for _, h := range rx.BaseFormula.Herbs {
		add(h)
	}
	for _, m := range rx.Modifications {
		add(m.Herb)
	}
	return out
}

func standardize(rx *Prescription) TreatmentPlan {
	plan := TreatmentPlan{
		TCMDiagnosis:       rx.Diagnosis.TCMDiagnosis,
		TreatmentPrinciple: rx.TreatmentPrinciple,
		BaseFormula:        rx.BaseFormula.Name,
		FinalPrescription:  append([]Dosage(nil), rx.Dosage...),
		Useway:             rx.Useway,
		Warnings:           append([]string(nil), rx.Warnings...),
	}
	plan.normalize()
	return plan
}
