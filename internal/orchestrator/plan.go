package orchestrator

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"tandem/internal/types"
)

// planPayload is the planner agent's required output contract.
type planPayload struct {
	Steps []planStep `json:"steps"`
}

type planStep struct {
	StepNumber int               `json:"step_number"`
	Heading    string            `json:"heading"`
	Action     string            `json:"action"`
	Details    types.StepDetails `json:"details"`
}

// parsePlan parses the planner's accumulated output into steps. The
// contract is strict: unknown fields, bad numbering, missing headings or an
// unrecognized action all fail the plan, and nothing is persisted.
func parsePlan(raw string) ([]types.Step, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()

	var payload planPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("plan output is not valid plan JSON: %w", err)
	}
	// Decode stops at the end of the first value; anything after it means the
	// model wrapped the plan in prose.
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("plan output has trailing content after the plan JSON")
	}
	if len(payload.Steps) == 0 {
		return nil, fmt.Errorf("plan contains no steps")
	}

	steps := make([]types.Step, len(payload.Steps))
	for i, ps := range payload.Steps {
		if ps.StepNumber != i+1 {
			return nil, fmt.Errorf("plan step %d is numbered %d", i+1, ps.StepNumber)
		}
		if strings.TrimSpace(ps.Heading) == "" {
			return nil, fmt.Errorf("plan step %d has no heading", ps.StepNumber)
		}
		tool := types.Tool(ps.Action)
		if !tool.Valid() {
			return nil, fmt.Errorf("plan step %d has unrecognized action %q", ps.StepNumber, ps.Action)
		}
		steps[i] = types.Step{
			StepNumber: ps.StepNumber,
			Heading:    ps.Heading,
			Tool:       tool,
			Action:     ps.Action,
			Details:    ps.Details,
		}
	}
	return steps, nil
}
