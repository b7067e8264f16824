package tcmagent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const Disclaimer = "本结果由大模型自动生成，仅供中医临床辅助参考，不构成诊疗意见。" +
	"处方须经执业中医师审核后方可使用。"

const (
	DefaultExtractionRetries = 3
	DefaultTreatmentCycles   = 3
	DefaultTreatmentSteps    = 8
	DefaultCallAttempts      = 2
)

// Object is a decoded JSON object returned by the LLM. An empty Object means
// the call produced no usable result.
type Object = map[string]any

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

func systemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func userMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func assistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

type CaseField struct {
	Key   string
	Value any
}

// CaseRecord is one patient encounter as free-text fields. Field order is
// preserved from the source JSON because it determines the prompt text.
type CaseRecord struct {
	Fields []CaseField
}

// NewCaseRecord builds a record from alternating key/value strings.
func NewCaseRecord(kv ...string) CaseRecord {
	var rec CaseRecord
	for i := 0; i+1 < len(kv); i += 2 {
		rec.Fields = append(rec.Fields, CaseField{Key: kv[i], Value: kv[i+1]})
	}
	return rec
}

func (c CaseRecord) IsEmpty() bool { return len(c.Fields) == 0 }

// Text joins every field value into the blob sent to the extraction prompt.
func (c CaseRecord) Text() string {
	var b strings.Builder
	for _, f := range c.Fields {
		if s, ok := f.Value.(string); ok {
			b.WriteString(s)
		} else {
			b.WriteString(compactJSON(f.Value))
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func (c *CaseRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("case record must be a JSON object")
	}
	c.Fields = nil
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("case field %q: %w", key, err)
		}
		c.Fields = append(c.Fields, CaseField{Key: key, Value: v})
	}
	_, err = dec.Token()
	return err
}

func (c CaseRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range c.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(compactJSON(f.Key))
		buf.WriteByte(':')
		buf.WriteString(compactJSON(f.Value))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type Tongue struct {
	TongueBody    string `json:"tongue_body"`
	TongueCoating string `json:"tongue_coating"`
}

type Inspection struct {
	MentalState []string `json:"mental_state"`
	Voice       []string `json:"voice"`
	Breath      []string `json:"breath"`
	Tongue      Tongue   `json:"tongue"`
}

type Palpation struct {
	Pulse []string `json:"pulse"`
}

// Symptoms is the structured four-examination record. Every group is always
// present; fields absent from the source text are empty, never nil.
type Symptoms struct {
	Inspection         Inspection `json:"inspection"`
	Palpation          Palpation  `json:"palpation"`
	SubjectiveSymptoms []string   `json:"subjective_symptoms"`
	OralFindings       []string   `json:"oral_findings"`
}

func EmptySymptoms() Symptoms {
	var s Symptoms
	s.normalize()
	return s
}

func (s *Symptoms) normalize() {
	s.Inspection.MentalState = nonNil(s.Inspection.MentalState)
	s.Inspection.Voice = nonNil(s.Inspection.Voice)
	s.Inspection.Breath = nonNil(s.Inspection.Breath)
	s.Palpation.Pulse = nonNil(s.Palpation.Pulse)
	s.SubjectiveSymptoms = nonNil(s.SubjectiveSymptoms)
	s.OralFindings = nonNil(s.OralFindings)
}

func (s Symptoms) IsEmpty() bool {
	return len(s.Inspection.MentalState) == 0 &&
		len(s.Inspection.Voice) == 0 &&
		len(s.Inspection.Breath) == 0 &&
		s.Inspection.Tongue.TongueBody == "" &&
		s.Inspection.Tongue.TongueCoating == "" &&
		len(s.Palpation.Pulse) == 0 &&
		len(s.SubjectiveSymptoms) == 0 &&
		len(s.OralFindings) == 0
}

type ValidationVerdict struct {
	IsValid      bool     `json:"is_valid"`
	MissingItems []string `json:"missing_items"`
	WrongItems   []string `json:"wrong_items"`
	Suggestions  string   `json:"suggestions"`
}

type Diagnosis struct {
	Think        string `json:"think"`
	TCMDiagnosis string `json:"tcm_diagnosis"`
}

type BaseFormula struct {
	Name   string   `json:"name"`
	Source string   `json:"source"`
	Herbs  []string `json:"herbs"`
}

func (b BaseFormula) IsZero() bool {
	return b.Name == "" && b.Source == "" && len(b.Herbs) == 0
}

type Modification struct {
	Herb   string `json:"herb"`
	Reason string `json:"reason"`
}

type Dosage struct {
	Herb string `json:"herb"`
	Dose string `json:"dose"`
}

// Prescription accumulates the results of one ReAct cycle.
type Prescription struct {
	Diagnosis          Diagnosis      `json:"tcm_diagnosis"`
	TreatmentPrinciple string         `json:"tcm_treatment_principle"`
	BaseFormula        BaseFormula    `json:"base_formula"`
	Modifications      []Modification `json:"modifications"`
	Dosage             []Dosage       `json:"dosage"`
	Useway             string         `json:"useway"`
	Warnings           []string       `json:"warnings"`
}

func newPrescription(d Diagnosis) *Prescription {
	return &Prescription{
		Diagnosis:     d,
		BaseFormula:   BaseFormula{Herbs: []string{}},
		Modifications: []Modification{},
		Dosage:        []Dosage{},
		Warnings:      []string{},
	}
}

// TreatmentPlan is the standardized prescription returned to callers and
// sent to the format and safety checks.
type TreatmentPlan struct {
	TCMDiagnosis       string   `json:"tcm_diagnosis"`
	TreatmentPrinciple string   `json:"treatment_principle"`
	BaseFormula        string   `json:"base_formula"`
	FinalPrescription  []Dosage `json:"final_prescription"`
	Useway             string   `json:"useway"`
	Warnings           []string `json:"warnings"`
}

func (p *TreatmentPlan) normalize() {
	if p.FinalPrescription == nil {
		p.FinalPrescription = []Dosage{}
	}
	p.Warnings = nonNil(p.Warnings)
}

type FormatVerdict struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

type SafetyVerdict struct {
	HasContraindication   bool           `json:"has_contraindication"`
	Contraindications     []string       `json:"contraindications"`
	ProposedModifications []Modification `json:"proposed_modifications"`
	Warnings              []string       `json:"warnings"`
	FinalPrescription     []Dosage       `json:"final_prescription"`
}

type FeedbackType string

const (
	FeedbackFormat FeedbackType = "format"
	FeedbackSafety FeedbackType = "safety"
)

// CycleFeedback carries a rejected cycle's verdict into the next cycle.
type CycleFeedback struct {
	Type   FeedbackType `json:"type"`
	Detail any          `json:"detail"`
}

type ExtractionMetrics struct {
	Attempts  int  `json:"attempts"`
	LLMCalls  int  `json:"llm_calls"`
	Validated bool `json:"validated"`
}

type DiagnosisMetrics struct {
	LLMCalls  int  `json:"llm_calls"`
	Succeeded bool `json:"succeeded"`
}

type CycleTrace struct {
	Cycle    int            `json:"cycle"`
	Steps    []Step         `json:"steps"`
	Aborted  string         `json:"aborted,omitempty"`
	Feedback *CycleFeedback `json:"feedback,omitempty"`
}

type TreatmentMetrics struct {
	Cycles   int          `json:"cycles"`
	LLMCalls int          `json:"llm_calls"`
	Accepted bool         `json:"accepted"`
	Trace    []CycleTrace `json:"trace"`
}

type RunMetadata struct {
	RunID          string    `json:"run_id"`
	StagesExecuted []string  `json:"stages_executed"`
	TotalLLMCalls  int       `json:"total_llm_calls"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

type PipelineResult struct {
	Case       CaseRecord
	Symptoms   Symptoms
	Diagnosis  Diagnosis
	Plan       TreatmentPlan
	Extraction ExtractionMetrics
	Diagnose   DiagnosisMetrics
	Treatment  TreatmentMetrics
	Metadata   RunMetadata
}

type ResponseEnvelope struct {
	RunID          string       `json:"run_id"`
	Case           CaseRecord   `json:"case"`
	StageOutputs   StageOutputs `json:"stage_outputs"`
	Metrics        StageMetrics `json:"metrics"`
	Metadata       RunMetadata  `json:"metadata"`
	ReportMarkdown string       `json:"report_markdown"`
	Disclaimer     string       `json:"disclaimer"`
}

type StageOutputs struct {
	Symptoms  Symptoms      `json:"symptoms"`
	Diagnosis Diagnosis     `json:"diagnosis"`
	Treatment TreatmentPlan `json:"treatment"`
}

type StageMetrics struct {
	Extraction ExtractionMetrics `json:"extraction"`
	Diagnosis  DiagnosisMetrics  `json:"diagnosis"`
	Treatment  TreatmentMetrics  `json:"treatment"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
