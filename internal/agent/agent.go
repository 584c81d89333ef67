// Package agent defines the LLM personas the orchestrator dispatches to.
// Each tool maps to exactly one persona: a fixed system prompt plus the
// shape of the user prompt it expects. Dispatch is an exhaustive switch
// over the tool tag, not dynamic dispatch.
package agent

import (
	"fmt"

	"tandem/internal/llm"
	"tandem/internal/types"
)

const plannerPrompt = `You are a senior software engineer planning a pair-programming session.
Given a task, produce an ordered plan as strict JSON with this exact shape and nothing else:
{"steps":[{"step_number":1,"heading":"...","action":"...","details":{"filename":"...","directory":"...","package_name":"...","command":"..."}}]}
Every step gets a short imperative heading. The action is one of "edit_file", "system_command" or "chat".
Detail fields are optional; include only the ones the step needs. Do not wrap the JSON in markdown fences.`

const editFilePrompt = `You are a careful pair-programming partner writing code.
Use the provided plan context to produce the complete content for the requested step.
Output code and brief explanations; never invent steps beyond the one you were asked to execute.`

const systemCommandPrompt = `You are a careful pair-programming partner operating a shell.
Use the provided plan context to produce the exact command(s) for the requested step,
with a one-line explanation per command. Prefer portable, non-destructive invocations.`

const chatPrompt = `You are a pair-programming partner answering a question about one step of an active plan.
Ground your answer in the provided plan context. Be direct and concrete.`

const rethinkerPrompt = `You are reviewing one step of a pair-programming plan that is not working out.
Given the full plan, what has been executed, and the discussion so far, propose a revised goal
for the step: a new heading and a short rationale. Do not revise any other step.`

// defaultPrompts maps each tool to its fixed system prompt.
var defaultPrompts = map[types.Tool]string{
	types.ToolPlanner:       plannerPrompt,
	types.ToolEditFile:      editFilePrompt,
	types.ToolSystemCommand: systemCommandPrompt,
	types.ToolChat:          chatPrompt,
	types.ToolRethinker:     rethinkerPrompt,
}

// Temperatures per persona: planning and rethinking run cooler than chat.
var temperatures = map[types.Tool]float64{
	types.ToolPlanner:       0.1,
	types.ToolEditFile:      0.2,
	types.ToolSystemCommand: 0.1,
	types.ToolChat:          0.4,
	types.ToolRethinker:     0.3,
}

// Personas resolves tools to prompts, with optional user overrides.
type Personas struct {
	overrides map[types.Tool]string
}

// NewPersonas returns the built-in persona set.
func NewPersonas() *Personas {
	return &Personas{overrides: map[types.Tool]string{}}
}

// SystemPrompt returns the system prompt for a tool.
func (p *Personas) SystemPrompt(tool types.Tool) (string, error) {
	if o, ok := p.overrides[tool]; ok && o != "" {
		return o, nil
	}
	prompt, ok := defaultPrompts[tool]
	if !ok {
		return "", fmt.Errorf("no persona for tool %q", tool)
	}
	return prompt, nil
}

// Request builds the llm request for one dispatch: the tool's system prompt
// with the caller's context-bearing user prompt.
func (p *Personas) Request(tool types.Tool, userPrompt string) (llm.Request, error) {
	system, err := p.SystemPrompt(tool)
	if err != nil {
		return llm.Request{}, err
	}
	temp, ok := temperatures[tool]
	if !ok {
		temp = 0.2
	}
	return llm.Request{System: system, User: userPrompt, Temperature: temp}, nil
}
