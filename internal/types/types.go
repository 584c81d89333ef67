// Package types holds the shared data model crossing package boundaries:
// chat turns, pair-programmer plans and their per-step execution state.
package types

import "time"

// Tool selects which agent persona executes a step.
type Tool string

const (
	ToolEditFile      Tool = "edit_file"
	ToolSystemCommand Tool = "system_command"
	ToolChat          Tool = "chat"
	ToolPlanner       Tool = "planner"
	ToolRethinker     Tool = "rethinker"
)

// Valid reports whether t is a tool a plan step may carry.
func (t Tool) Valid() bool {
	switch t {
	case ToolEditFile, ToolSystemCommand, ToolChat:
		return true
	}
	return false
}

// ChatTurn is one prompt/response exchange, immutable after creation.
type ChatTurn struct {
	ID                       int64  `json:"id"`
	UserID                   string `json:"user_id"`
	SessionID                string `json:"session_id"`
	Prompt                   string `json:"prompt"`
	CompressedPromptResponse string `json:"compressed_prompt_response"`
	Response                 string `json:"response"`
	RequestType              string `json:"request_type"`
	Timestamp                int64  `json:"timestamp"`
	VectorRowID              int64  `json:"vector_row_id"`
}

// StepDetails carries the planner's free-form per-step fields.
type StepDetails struct {
	Filename    string `json:"filename,omitempty"`
	Directory   string `json:"directory,omitempty"`
	PackageName string `json:"package_name,omitempty"`
	Command     string `json:"command,omitempty"`
}

// Step is one unit of a pair-programming plan.
type Step struct {
	StepNumber int         `json:"step_number"`
	Heading    string      `json:"heading"`
	Tool       Tool        `json:"tool"`
	Action     string      `json:"action"`
	Details    StepDetails `json:"details"`
}

// PairSession is a persisted pair-programmer plan.
type PairSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Task      string    `json:"task"`
	Steps     []Step    `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatEntry is one prompt/response pair attached to a step.
type ChatEntry struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// StepState is the mutable execution record of one step. Chat grows by
// append only; Executed flips false to true on first execution but
// re-execution is permitted and overwrites Response.
type StepState struct {
	SessionID  string      `json:"session_id"`
	StepNumber int         `json:"step_number"`
	Executed   bool        `json:"executed"`
	Response   string      `json:"response"`
	Chat       []ChatEntry `json:"chat"`
}
