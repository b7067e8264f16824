package tcmagent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PipelineResultFromResponseEnvelope reconstructs a PipelineResult from a saved
// envelope so the report can be re-rendered without calling the LLM again.
func PipelineResultFromResponseEnvelope(env ResponseEnvelope) (PipelineResult, error) {
	if strings.TrimSpace(env.RunID) == "" {
		return PipelineResult{}, errors.New("envelope run_id is required")
	}
	res := PipelineResult{
		Case:       env.Case,
		Symptoms:   env.StageOutputs.Symptoms,
		Diagnosis:  env.StageOutputs.Diagnosis,
		Plan:       env.StageOutputs.Treatment,
		Extraction: env.Metrics.Extraction,
		Diagnose:   env.Metrics.Diagnosis,
		Treatment:  env.Metrics.Treatment,
		Metadata:   env.Metadata,
	}
	res.Metadata.RunID = env.RunID
	res.Symptoms.normalize()
	res.Plan.normalize()
	if res.Treatment.Trace == nil {
		res.Treatment.Trace = []CycleTrace{}
	}
	return res, nil
}

// RebuildResponseFromEnvelope regenerates report markdown from a saved envelope.
func RebuildResponseFromEnvelope(env ResponseEnvelope) (ResponseEnvelope, error) {
	res, err := PipelineResultFromResponseEnvelope(env)
	if err != nil {
		return ResponseEnvelope{}, err
	}
	return BuildResponse(res), nil
}

// DecodeResponseEnvelope parses a saved envelope.
func DecodeResponseEnvelope(blob []byte) (ResponseEnvelope, error) {
	var env ResponseEnvelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return ResponseEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
