package tcmagent

import "strings"

// FormatSymptoms renders structured symptoms as one line of prose for the
// diagnosis and treatment prompts. The rendering is lossy. When every group is
// empty the whole record is serialized instead so the prompt is never blank.
func FormatSymptoms(s Symptoms) string {
	var parts []string
	insp := s.Inspection
	if len(insp.MentalState) > 0 {
		parts = append(parts, "神志："+strings.Join(insp.MentalState, "、"))
	}
	if len(insp.Voice) > 0 {
		parts = append(parts, "语声："+strings.Join(insp.Voice, "、"))
	}
	if len(insp.Breath) > 0 {
		parts = append(parts, "气息："+strings.Join(insp.Breath, "、"))
	}
	if t := insp.Tongue; t.TongueBody != "" || t.TongueCoating != "" {
		parts = append(parts, "舌"+t.TongueBody+"苔"+t.TongueCoating)
	}
	if len(s.Palpation.Pulse) > 0 {
		parts = append(parts, "脉"+strings.Join(s.Palpation.Pulse, ""))
	}
	if len(s.SubjectiveSymptoms) > 0 {
		parts = append(parts, "症状："+strings.Join(s.SubjectiveSymptoms, "、"))
	}
	if len(s.OralFindings) > 0 {
		parts = append(parts, "口腔："+strings.Join(s.OralFindings, "、"))
	}
	if len(parts) == 0 {
		s.normalize()
		return compactJSON(s)
	}
	return strings.Join(parts, "；")
}
