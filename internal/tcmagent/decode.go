package tcmagent

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// The LLM is asked for fixed JSON shapes but drifts: lists come back as
// strings, doses as numbers, wrappers appear around arrays. The helpers below
// read an Object leniently and always produce fully shaped records.

func compactJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "{}"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func indentJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "{}"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func objectOf(v any) Object {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return Object{}
}

func textOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			if s := textOf(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "；")
	default:
		return compactJSON(x)
	}
}

func stringsOf(v any) []string {
	switch x := v.(type) {
	case nil:
		return []string{}
	case string:
		if strings.TrimSpace(x) == "" {
			return []string{}
		}
		return []string{x}
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			switch it := item.(type) {
			case nil:
			case string:
				out = append(out, it)
			default:
				out = append(out, compactJSON(it))
			}
		}
		return out
	default:
		return []string{compactJSON(x)}
	}
}

func flagOf(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "yes", "是":
			return true
		}
		return false
	case float64:
		return x != 0
	default:
		return false
	}
}

// isBlank mirrors JSON "falsy" values: null, "", [], {}, false and 0.
func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	case bool:
		return !x
	case float64:
		return x == 0
	default:
		return false
	}
}

func herbName(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case map[string]any:
		if s := textOf(x["herb"]); s != "" {
			return s
		}
		return textOf(x["name"])
	default:
		return textOf(x)
	}
}

func herbsOf(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return stringsOf(v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if name := herbName(item); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func baseFormulaOf(v any) BaseFormula {
	switch x := v.(type) {
	case string:
		return BaseFormula{Name: x, Herbs: []string{}}
	case map[string]any:
		return BaseFormula{
			Name:   textOf(x["name"]),
			Source: textOf(x["source"]),
			Herbs:  herbsOf(x["herbs"]),
		}
	default:
		return BaseFormula{Herbs: []string{}}
	}
}

func modificationsOf(v any) []Modification {
	if m, ok := v.(map[string]any); ok {
		if inner, ok := m["modifications"]; ok {
			return modificationsOf(inner)
		}
	}
	items, ok := v.([]any)
	if !ok {
		return []Modification{}
	}
	out := make([]Modification, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case string:
			out = append(out, Modification{Herb: it})
		case map[string]any:
			out = append(out, Modification{Herb: herbName(it), Reason: textOf(it["reason"])})
		}
	}
	return out
}

// dosageOf flattens a {"dosage": [...]} wrapper when the model nests the list.
func dosageOf(v any) []Dosage {
	if m, ok := v.(map[string]any); ok {
		if inner, ok := m["dosage"]; ok {
			return dosageOf(inner)
		}
		return []Dosage{}
	}
	items, ok := v.([]any)
	if !ok {
		return []Dosage{}
	}
	out := make([]Dosage, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case string:
			out = append(out, Dosage{Herb: it})
		case map[string]any:
			dose := textOf(it["dose"])
			if dose == "" {
				dose = textOf(it["dosage"])
			}
			out = append(out, Dosage{Herb: herbName(it), Dose: dose})
		}
	}
	return out
}

func symptomsFromObject(obj Object) Symptoms {
	insp := objectOf(obj["inspection"])
	tongue := objectOf(insp["tongue"])
	palp := objectOf(obj["palpation"])
	s := Symptoms{
		Inspection: Inspection{
			MentalState: stringsOf(insp["mental_state"]),
			Voice:       stringsOf(insp["voice"]),
			Breath:      stringsOf(insp["breath"]),
			Tongue: Tongue{
				TongueBody:    textOf(tongue["tongue_body"]),
				TongueCoating: textOf(tongue["tongue_coating"]),
			},
		},
		Palpation:          Palpation{Pulse: stringsOf(palp["pulse"])},
		SubjectiveSymptoms: stringsOf(obj["subjective_symptoms"]),
		OralFindings:       stringsOf(obj["oral_findings"]),
	}
	s.normalize()
	return s
}

func validationVerdictFromObject(obj Object) ValidationVerdict {
	return ValidationVerdict{
		IsValid:      flagOf(obj["is_valid"]),
		MissingItems: stringsOf(obj["missing_items"]),
		WrongItems:   stringsOf(obj["wrong_items"]),
		Suggestions:  textOf(obj["suggestions"]),
	}
}

func formatVerdictFromObject(obj Object) FormatVerdict {
	return FormatVerdict{
		Valid:  flagOf(obj["valid"]),
		Errors: stringsOf(obj["errors"]),
	}
}
