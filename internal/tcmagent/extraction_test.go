package tcmagent

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const extractedJSON = `{"inspection": {"mental_state": ["得神"], "voice": ["语声清晰"], "breath": ["气息畅"], "tongue": {"tongue_body": "红", "tongue_coating": "黄"}}, "palpation": {"pulse": ["细", "数"]}, "subjective_symptoms": ["关节疼痛", "口干"], "oral_findings": ["龋齿"]}`

func sampleCase() CaseRecord {
	return NewCaseRecord(
		"tcm_check", "得神，心态平和，语声清晰，气息畅，舌红苔黄，脉细数。",
		"tcm_evidence", "气阴两虚，关节疼痛，口干欲饮，龋齿。",
	)
}

func TestExtractShortCircuitsOnValid(t *testing.T) {
	caller := (&scriptedCaller{}).
		on(extractionSystemPrompt, extractedJSON).
		on(validationSystemPrompt, `{"is_valid": true, "missing_items": [], "wrong_items": [], "suggestions": ""}`)

	got, metrics := NewExtractor(caller).Extract(context.Background(), sampleCase(), 3)
	if diff := cmp.Diff(ExtractionMetrics{Attempts: 1, LLMCalls: 2, Validated: true}, metrics); diff != "" {
		t.Fatalf("metrics mismatch (-want +got):\n%s", diff)
	}
	if caller.count(extractionSystemPrompt) != 1 {
		t.Fatalf("expected one extraction call, got %d", caller.count(extractionSystemPrompt))
	}
	if diff := cmp.Diff([]string{"细", "数"}, got.Palpation.Pulse); diff != "" {
		t.Fatalf("pulse mismatch (-want +got):\n%s", diff)
	}

	validation := caller.lastUser(validationSystemPrompt)
	if !strings.Contains(validation, "得神，心态平和") || !strings.Contains(validation, "\"tongue_body\": \"红\"") {
		t.Fatalf("validation prompt missing source text or indented candidate:\n%s", validation)
	}
}

func TestExtractFeedsValidatorBackIntoTranscript(t *testing.T) {
	caller := (&scriptedCaller{}).
		on(extractionSystemPrompt, `{"subjective_symptoms": ["关节疼痛"]}`, extractedJSON).
		on(validationSystemPrompt,
			`{"is_valid": false, "missing_items": ["口干"], "wrong_items": [], "suggestions": "补充口干"}`,
			`{"is_valid": true}`)

	got, metrics := NewExtractor(caller).Extract(context.Background(), sampleCase(), 3)
	if metrics.Attempts != 2 || !metrics.Validated {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
	if diff := cmp.Diff([]string{"关节疼痛", "口干"}, got.SubjectiveSymptoms); diff != "" {
		t.Fatalf("symptoms mismatch (-want +got):\n%s", diff)
	}

	calls := caller.callsTo(extractionSystemPrompt)
	second := calls[1].messages
	if len(second) != 4 {
		t.Fatalf("expected 4 messages on retry, got %d", len(second))
	}
	if second[2].Role != RoleAssistant || second[2].Content != `{"subjective_symptoms":["关节疼痛"]}` {
		t.Fatalf("unexpected assistant turn: %+v", second[2])
	}
	want := "上次提取结果存在问题。遗漏了以下信息：[\"口干\"]；修改建议：补充口干。请根据原始文本重新提取，确保不遗漏任何症状信息。"
	if second[3].Role != RoleUser || second[3].Content != want {
		t.Fatalf("unexpected feedback turn:\n got %q\nwant %q", second[3].Content, want)
	}
}

func TestExtractAlwaysEmptyStopsAtBudget(t *testing.T) {
	caller := &scriptedCaller{}
	got, metrics := NewExtractor(caller).Extract(context.Background(), sampleCase(), 3)

	if caller.count(extractionSystemPrompt) != 3 {
		t.Fatalf("expected exactly 3 extraction calls, got %d", caller.count(extractionSystemPrompt))
	}
	if caller.count(validationSystemPrompt) != 0 {
		t.Fatalf("empty candidates must not be validated")
	}
	if diff := cmp.Diff(EmptySymptoms(), got); diff != "" {
		t.Fatalf("expected empty symptoms (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ExtractionMetrics{Attempts: 3, LLMCalls: 3}, metrics); diff != "" {
		t.Fatalf("metrics mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractNeverValidReturnsLastCandidate(t *testing.T) {
	caller := (&scriptedCaller{}).
		on(extractionSystemPrompt, `{"oral_findings": ["一"]}`, `{"oral_findings": ["二"]}`, `{"oral_findings": ["三"]}`).
		on(validationSystemPrompt, `{"is_valid": false}`)

	got, metrics := NewExtractor(caller).Extract(context.Background(), sampleCase(), 3)
	if diff := cmp.Diff([]string{"三"}, got.OralFindings); diff != "" {
		t.Fatalf("expected last candidate (-want +got):\n%s", diff)
	}
	if metrics.Validated || metrics.LLMCalls != 6 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
	calls := caller.callsTo(extractionSystemPrompt)
	if n := len(calls[2].messages); n != 6 {
		t.Fatalf("expected transcript of 6 messages on third attempt, got %d", n)
	}
	if got := calls[1].messages[3].Content; !strings.Contains(got, extractionFeedbackFallback) {
		t.Fatalf("expected fallback feedback, got %q", got)
	}
}

func TestExtractDefaultsRetryBudget(t *testing.T) {
	caller := &scriptedCaller{}
	NewExtractor(caller).Extract(context.Background(), sampleCase(), 0)
	if caller.count(extractionSystemPrompt) != DefaultExtractionRetries {
		t.Fatalf("expected %d calls, got %d", DefaultExtractionRetries, caller.count(extractionSystemPrompt))
	}
}

func TestDiagnose(t *testing.T) {
	s := symptomsFromObject(mustObject(t, extractedJSON))
	caller := (&scriptedCaller{}).on(diagnosisSystemPrompt, `{"think": "舌红脉细数，阴虚内热", "tcm_diagnosis": "燥痹-阴虚内热证"}`)

	got, metrics := NewDiagnoser(caller).Diagnose(context.Background(), s)
	if diff := cmp.Diff(Diagnosis{Think: "舌红脉细数，阴虚内热", TCMDiagnosis: "燥痹-阴虚内热证"}, got); diff != "" {
		t.Fatalf("diagnosis mismatch (-want +got):\n%s", diff)
	}
	if !metrics.Succeeded || metrics.LLMCalls != 1 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
	if prompt := caller.lastUser(diagnosisSystemPrompt); !strings.Contains(prompt, FormatSymptoms(s)) {
		t.Fatalf("prompt missing formatted symptoms:\n%s", prompt)
	}
}

func TestDiagnoseWithoutLabelIsEmpty(t *testing.T) {
	for name, reply := range map[string]string{
		"missing": `{"think": "信息不足"}`,
		"null":    `{"think": "信息不足", "tcm_diagnosis": null}`,
		"blank":   `{"think": "信息不足", "tcm_diagnosis": "  "}`,
		"empty":   `{}`,
	} {
		t.Run(name, func(t *testing.T) {
			caller := (&scriptedCaller{}).on(diagnosisSystemPrompt, reply)
			got, metrics := NewDiagnoser(caller).Diagnose(context.Background(), EmptySymptoms())
			if got != (Diagnosis{}) || metrics.Succeeded {
				t.Fatalf("expected empty diagnosis, got %+v %+v", got, metrics)
			}
			if caller.calls != 1 {
				t.Fatalf("diagnosis must not retry, got %d calls", caller.calls)
			}
		})
	}
}
