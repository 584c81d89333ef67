package orchestrator

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"tandem/internal/types"
)

func TestParsePlanFullContract(t *testing.T) {
	raw := `
	{"steps":[
		{"step_number":1,"heading":"create config","action":"edit_file",
		 "details":{"filename":"config.yaml","directory":"cfg"}},
		{"step_number":2,"heading":"run tests","action":"system_command",
		 "details":{"command":"go test ./..."}}
	]}`

	steps, err := parsePlan(raw)
	require.NoError(t, err)

	want := []types.Step{
		{
			StepNumber: 1,
			Heading:    "create config",
			Tool:       types.ToolEditFile,
			Action:     "edit_file",
			Details:    types.StepDetails{Filename: "config.yaml", Directory: "cfg"},
		},
		{
			StepNumber: 2,
			Heading:    "run tests",
			Tool:       types.ToolSystemCommand,
			Action:     "system_command",
			Details:    types.StepDetails{Command: "go test ./..."},
		},
	}
	if diff := cmp.Diff(want, steps); diff != "" {
		t.Errorf("parsed plan mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePlanRejectsUnknownFields(t *testing.T) {
	raw := `{"steps":[{"step_number":1,"heading":"x","action":"edit_file","details":{},"surprise":true}]}`
	_, err := parsePlan(raw)
	require.Error(t, err)
}

func TestParsePlanRejectsUnknownDetailFields(t *testing.T) {
	raw := `{"steps":[{"step_number":1,"heading":"x","action":"edit_file","details":{"branch":"main"}}]}`
	_, err := parsePlan(raw)
	require.Error(t, err)
}

func TestParsePlanRejectsTrailingContent(t *testing.T) {
	raw := `{"steps":[{"step_number":1,"heading":"x","action":"chat","details":{}}]} and then we ship`
	_, err := parsePlan(raw)
	require.Error(t, err)
}

func TestParsePlanToleratesSurroundingWhitespace(t *testing.T) {
	raw := "\n\n  {\"steps\":[{\"step_number\":1,\"heading\":\"x\",\"action\":\"chat\",\"details\":{}}]}  \n"
	steps, err := parsePlan(raw)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	require.Equal(t, types.ToolChat, steps[0].Tool)
}
